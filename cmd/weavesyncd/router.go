// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erigontech/weavesync/syncengine"
)

// newRouter wires the host-facing operations of spec.md §6 ("Exposed to
// host") onto chi, the HTTP router the teacher's own JSON-RPC daemon uses.
func newRouter(e *syncengine.Engine, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"joined":     e.IsJoined(),
			"weave_size": e.WeaveSize(),
		})
	})

	r.Post("/add_chunk", func(w http.ResponseWriter, req *http.Request) {
		var wire struct {
			DataRoot string `json:"data_root"`
			DataPath string `json:"data_path"`
			Chunk    string `json:"chunk"`
			Offset   uint64 `json:"offset_in_tx"`
			TxSize   uint64 `json:"tx_size"`
		}
		if err := json.NewDecoder(req.Body).Decode(&wire); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dataRoot, err := decodeHex32(wire.DataRoot)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dataPath, err := hex.DecodeString(wire.DataPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		chunk, err := hex.DecodeString(wire.Chunk)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = e.AddChunk(req.Context(), syncengine.AddChunkRequest{
			DataRoot: dataRoot,
			DataPath: dataPath,
			Chunk:    chunk,
			Offset:   wire.Offset,
			TxSize:   wire.TxSize,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/add_data_root_to_disk_pool", func(w http.ResponseWriter, req *http.Request) {
		dataRoot, txSize, txID, err := decodeDataRootTxForm(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.AddDataRootToDiskPool(dataRoot, txSize, txID)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/maybe_drop_data_root_from_disk_pool", func(w http.ResponseWriter, req *http.Request) {
		dataRoot, txSize, txID, err := decodeDataRootTxForm(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.MaybeDropDataRootFromDiskPool(dataRoot, txSize, txID)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/add_block", func(w http.ResponseWriter, req *http.Request) {
		block, err := decodeBlockForm(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := e.AddBlock(req.Context(), block); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/get_chunk", func(w http.ResponseWriter, req *http.Request) {
		offset, err := parseUint(req.URL.Query().Get("offset"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		proof, err := e.GetChunk(offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"chunk":     hex.EncodeToString(proof.Chunk),
			"data_path": hex.EncodeToString(proof.DataPath),
			"tx_path":   hex.EncodeToString(proof.TxPath),
		})
	})

	r.Get("/get_tx_root", func(w http.ResponseWriter, req *http.Request) {
		offset, err := parseUint(req.URL.Query().Get("offset"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		txRoot, err := e.GetTxRoot(offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"tx_root": hex.EncodeToString(txRoot[:])})
	})

	r.Get("/get_tx_data", func(w http.ResponseWriter, req *http.Request) {
		txID, err := parseUint(req.URL.Query().Get("tx_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := e.GetTxData(txID)
		if err != nil {
			if err == syncengine.ErrTxDataTooBig {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"data": hex.EncodeToString(data)})
	})

	r.Get("/get_tx_offset", func(w http.ResponseWriter, req *http.Request) {
		txID, err := parseUint(req.URL.Query().Get("tx_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := e.GetTxOffset(txID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"absolute_tx_start": offset})
	})

	r.Get("/get_sync_record.etf", func(w http.ResponseWriter, req *http.Request) {
		b, err := e.GetSyncRecordETF(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(b)
	})

	r.Get("/get_sync_record.json", func(w http.ResponseWriter, req *http.Request) {
		b, err := e.GetSyncRecordJSON(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func decodeDataRootTxForm(req *http.Request) (dataRoot [32]byte, txSize, txID uint64, err error) {
	var wire struct {
		DataRoot string `json:"data_root"`
		TxSize   uint64 `json:"tx_size"`
		TxID     uint64 `json:"tx_id"`
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return dataRoot, 0, 0, err
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return dataRoot, 0, 0, err
	}
	dataRoot, err = decodeHex32(wire.DataRoot)
	return dataRoot, wire.TxSize, wire.TxID, err
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func decodeBlockForm(req *http.Request) (syncengine.NewBlock, error) {
	var wire struct {
		TxRoot             string `json:"tx_root"`
		AbsoluteBlockStart uint64 `json:"absolute_block_start"`
		BlockSize          uint64 `json:"block_size"`
		Txs                []struct {
			TxID            uint64 `json:"tx_id"`
			AbsoluteTxStart uint64 `json:"absolute_tx_start"`
			TxSize          uint64 `json:"tx_size"`
			DataRoot        string `json:"data_root"`
		} `json:"size_tagged_txs"`
	}
	if err := json.NewDecoder(req.Body).Decode(&wire); err != nil {
		return syncengine.NewBlock{}, err
	}
	txRoot, err := decodeHex32(wire.TxRoot)
	if err != nil {
		return syncengine.NewBlock{}, err
	}
	block := syncengine.NewBlock{
		TxRoot:             txRoot,
		AbsoluteBlockStart: wire.AbsoluteBlockStart,
		BlockSize:          wire.BlockSize,
		Txs:                make([]syncengine.BlockTx, len(wire.Txs)),
	}
	for i, tx := range wire.Txs {
		dataRoot, err := decodeHex32(tx.DataRoot)
		if err != nil {
			return syncengine.NewBlock{}, err
		}
		block.Txs[i] = syncengine.BlockTx{
			TxID:            tx.TxID,
			AbsoluteTxStart: tx.AbsoluteTxStart,
			TxSize:          tx.TxSize,
			DataRoot:        dataRoot,
		}
	}
	return block, nil
}
