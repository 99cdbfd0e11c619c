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

package syncengine

import (
	"context"

	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/peer"
)

// GetChunk implements spec.md §6's get_chunk(absolute_offset): reassemble
// the stored chunk whose range covers absolute_offset into a Proof. This is
// one of the two lock-free fast paths of spec.md §5 -- it reads only
// e.readOnlyKV and the chunk store, never touching the actor's mailbox.
func (e *Engine) GetChunk(absoluteOffset uint64) (peer.Proof, error) {
	if !e.IsJoined() {
		return peer.Proof{}, ErrNotJoined
	}
	kvv, err := e.readOnlyKV.GetNext(kv.ChunksIndex, kv.EncodeOffsetKey(absoluteOffset))
	if err != nil {
		return peer.Proof{}, ErrChunkNotFound
	}
	civ, derr := decodeChunkIndexValue(kvv.Value)
	if derr != nil {
		return peer.Proof{}, ErrChunkNotFound
	}
	blob, rerr := e.chunks.Read(civ.DataPathHash)
	if rerr != nil {
		return peer.Proof{}, ErrFailedToReadChunk
	}
	return peer.Proof{Chunk: blob.Chunk, DataPath: blob.DataPath, TxPath: civ.TxPath}, nil
}

// GetTxRoot implements spec.md §6's get_tx_root(absolute_offset): the
// tx_root of the block whose range covers absolute_offset. Lock-free, like
// GetChunk.
func (e *Engine) GetTxRoot(absoluteOffset uint64) ([32]byte, error) {
	if !e.IsJoined() {
		return [32]byte{}, ErrNotJoined
	}
	kvv, err := e.readOnlyKV.GetPrev(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(absoluteOffset))
	if err != nil {
		return [32]byte{}, ErrNotFound
	}
	offsetVal, derr := decodeDataRootOffsetValue(kvv.Value)
	if derr != nil {
		return [32]byte{}, ErrNotFound
	}
	return offsetVal.TxRoot, nil
}

// GetTxOffset implements spec.md §6's get_tx_offset(tx_id): the
// transaction's absolute start offset.
func (e *Engine) GetTxOffset(txID uint64) (uint64, error) {
	if !e.IsJoined() {
		return 0, ErrNotJoined
	}
	v, err := e.readOnlyKV.Get(kv.TxIndex, kv.EncodeTxID(txID))
	if err != nil {
		return 0, ErrNotFound
	}
	tiv, derr := decodeTxIndexValue(v)
	if derr != nil {
		return 0, ErrNotFound
	}
	return tiv.AbsoluteTxEnd - tiv.TxSize, nil
}

// GetTxData implements spec.md §6's get_tx_data(tx_id): reassemble a
// transaction's full data by concatenating every chunk covering its range,
// in offset order. Rejects with ErrTxDataTooBig if tx_size exceeds
// MaxServedTxDataSize.
func (e *Engine) GetTxData(txID uint64) ([]byte, error) {
	if !e.IsJoined() {
		return nil, ErrNotJoined
	}
	v, err := e.readOnlyKV.Get(kv.TxIndex, kv.EncodeTxID(txID))
	if err != nil {
		return nil, ErrNotFound
	}
	tiv, derr := decodeTxIndexValue(v)
	if derr != nil {
		return nil, ErrNotFound
	}
	if tiv.TxSize > e.cfg.MaxServedTxDataSize {
		return nil, ErrTxDataTooBig
	}
	absoluteTxStart := tiv.AbsoluteTxEnd - tiv.TxSize
	entries, rerr := e.readOnlyKV.GetRange(kv.ChunksIndex,
		kv.EncodeOffsetKey(absoluteTxStart+1), kv.EncodeOffsetKey(tiv.AbsoluteTxEnd+1))
	if rerr != nil {
		return nil, ErrFailedToReadChunk
	}
	data := make([]byte, 0, tiv.TxSize)
	for _, kvv := range entries {
		civ, cerr := decodeChunkIndexValue(kvv.Value)
		if cerr != nil {
			return nil, ErrFailedToReadChunk
		}
		blob, berr := e.chunks.Read(civ.DataPathHash)
		if berr != nil {
			return nil, ErrFailedToReadChunk
		}
		data = append(data, blob.Chunk...)
	}
	return data, nil
}

// GetSyncRecordETF implements spec.md §6's get_sync_record_etf(): the sync
// record serialized as the compatibility-critical binary wire format,
// capped at MAX_SHARED_INTERVALS intervals via probabilistic sampling. Runs
// on the actor since the sync record and rng are actor-owned state.
func (e *Engine) GetSyncRecordETF(ctx context.Context) ([]byte, error) {
	return call(ctx, e, func() ([]byte, error) {
		if !e.joined {
			return nil, ErrNotJoined
		}
		return e.syncRecord.Serialize(e.cfg.MaxSharedIntervals, intervals.FormatBinary, e.rng)
	})
}

// GetSyncRecordJSON implements spec.md §6's get_sync_record_json(): the sync
// record serialized as the JSON wire format, capped the same way.
func (e *Engine) GetSyncRecordJSON(ctx context.Context) ([]byte, error) {
	return call(ctx, e, func() ([]byte, error) {
		if !e.joined {
			return nil, ErrNotJoined
		}
		return e.syncRecord.Serialize(e.cfg.MaxSharedIntervals, intervals.FormatJSON, e.rng)
	})
}
