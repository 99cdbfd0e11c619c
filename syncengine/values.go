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
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/erigontech/weavesync/kv"
)

// The seven indices store values as JSON blobs. Nothing downstream of this
// package depends on the encoding being wire-compatible across nodes (unlike
// the sync record itself, which is), so plain encoding/json is the pragmatic
// choice here rather than standing up a protobuf schema for internal-only
// KV values; see DESIGN.md.

// chunkIndexValue is ChunksIndex's value: everything needed to recall a
// chunk's placement and recompute its membership in DataRootIndex.
type chunkIndexValue struct {
	DataPathHash        [32]byte
	TxRoot              [32]byte
	DataRoot            [32]byte
	TxPath              []byte
	ChunkRelativeOffset uint64
	ChunkSize           uint64
}

func encodeChunkIndexValue(v chunkIndexValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncengine: marshal chunkIndexValue: %v", err))
	}
	return b
}

func decodeChunkIndexValue(b []byte) (chunkIndexValue, error) {
	var v chunkIndexValue
	err := json.Unmarshal(b, &v)
	return v, err
}

// dataRootOffsetValue is DataRootOffsetIndex's value: the block's tx_root,
// size, and the set of (data_root‖tx_size) keys it contributed.
type dataRootOffsetValue struct {
	TxRoot    [32]byte
	BlockSize uint64
	Keys      []string // hex(kv.DataRootKey.Encode())
}

func encodeDataRootOffsetValue(v dataRootOffsetValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncengine: marshal dataRootOffsetValue: %v", err))
	}
	return b
}

func decodeDataRootOffsetValue(b []byte) (dataRootOffsetValue, error) {
	var v dataRootOffsetValue
	err := json.Unmarshal(b, &v)
	return v, err
}

func (v dataRootOffsetValue) hasKey(key kv.DataRootKey) bool {
	h := hex.EncodeToString(key.Encode())
	for _, k := range v.Keys {
		if k == h {
			return true
		}
	}
	return false
}

func (v dataRootOffsetValue) withKey(key kv.DataRootKey) dataRootOffsetValue {
	v.Keys = append(append([]string{}, v.Keys...), hex.EncodeToString(key.Encode()))
	return v
}

// dataRootIndexValue is DataRootIndex's value: tx_root-major, tx_start-minor
// map of confirmed placements, matching the ordered-map-of-ordered-maps
// shape spec.md §9 calls out, flattened for storage.
type dataRootIndexValue struct {
	// Placements[hex(tx_root)][absolute_tx_start] = hex(tx_path)
	Placements map[string]map[uint64]string
}

func newDataRootIndexValue() dataRootIndexValue {
	return dataRootIndexValue{Placements: make(map[string]map[uint64]string)}
}

func encodeDataRootIndexValue(v dataRootIndexValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncengine: marshal dataRootIndexValue: %v", err))
	}
	return b
}

func decodeDataRootIndexValue(b []byte) (dataRootIndexValue, error) {
	var v dataRootIndexValue
	if err := json.Unmarshal(b, &v); err != nil {
		return v, err
	}
	if v.Placements == nil {
		v.Placements = make(map[string]map[uint64]string)
	}
	return v, nil
}

func (v dataRootIndexValue) put(txRoot [32]byte, absoluteTxStart uint64, txPath []byte) {
	key := hex.EncodeToString(txRoot[:])
	if v.Placements[key] == nil {
		v.Placements[key] = make(map[uint64]string)
	}
	v.Placements[key][absoluteTxStart] = hex.EncodeToString(txPath)
}

// removeFrom deletes every placement with AbsoluteTxStart >= cutPoint,
// returning whether the value is now empty (and so its key should be
// deleted entirely, per spec.md §4.6).
func (v dataRootIndexValue) removeFrom(cutPoint uint64) (empty bool) {
	for txRoot, starts := range v.Placements {
		for start := range starts {
			if start >= cutPoint {
				delete(starts, start)
			}
		}
		if len(starts) == 0 {
			delete(v.Placements, txRoot)
		}
	}
	return len(v.Placements) == 0
}

func (v dataRootIndexValue) isEmpty() bool { return len(v.Placements) == 0 }

// txIndexValue is TXIndex's value.
type txIndexValue struct {
	AbsoluteTxEnd uint64
	TxSize        uint64
}

func encodeTxIndexValue(v txIndexValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncengine: marshal txIndexValue: %v", err))
	}
	return b
}

func decodeTxIndexValue(b []byte) (txIndexValue, error) {
	var v txIndexValue
	err := json.Unmarshal(b, &v)
	return v, err
}

// diskPoolChunkValue is DiskPoolChunksIndex's value.
type diskPoolChunkValue struct {
	RelativeEnd    uint64
	ChunkSize      uint64
	DataRootKeyHex string
}

func encodeDiskPoolChunkValue(v diskPoolChunkValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncengine: marshal diskPoolChunkValue: %v", err))
	}
	return b
}

func decodeDiskPoolChunkValue(b []byte) (diskPoolChunkValue, error) {
	var v diskPoolChunkValue
	err := json.Unmarshal(b, &v)
	return v, err
}

func (v diskPoolChunkValue) dataRootKey() (kv.DataRootKey, error) {
	raw, err := hex.DecodeString(v.DataRootKeyHex)
	if err != nil {
		return kv.DataRootKey{}, err
	}
	key, ok := kv.DecodeDataRootKey(raw)
	if !ok {
		return kv.DataRootKey{}, fmt.Errorf("syncengine: malformed data root key in disk pool chunk value")
	}
	return key, nil
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("syncengine: expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
