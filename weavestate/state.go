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

// Package weavestate persists the engine's in-memory state blob (sync
// record, block index, and disk-pool bookkeeping) across restarts, see
// spec.md §3 and §4 "persisted state". Supplemented per SPEC_FULL.md §3:
// the engine also flushes this blob periodically, not only at join/shutdown.
package weavestate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/diskpool"
	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
)

// BlockIndexEntry is one entry of the block index: the weave size at the
// top of each tracked block, used by join/add_tip_block/remove_orphans to
// locate and cut intervals at block boundaries (spec.md §4.6).
type BlockIndexEntry struct {
	BlockHash [32]byte
	WeaveSize uint64
	TxRoot    [32]byte
}

// State is the full persisted blob.
type State struct {
	SyncRecordBytes   []byte // serialized intervals.Set, FormatBinary
	BlockIndex        []BlockIndexEntry
	DiskPoolDataRoots map[string]diskPoolEntryJSON // keyed by hex(DataRootKey.Encode())
	DiskPoolSize      uint64
}

type diskPoolEntryJSON struct {
	AccumulatedSize uint64
	TimestampUs     uint64
	TxIDs           []uint64
	Confirmed       bool
}

// Snapshot builds a State from the engine's live components.
func Snapshot(set *intervals.Set, blockIndex []BlockIndexEntry, pool *diskpool.Manager) (State, error) {
	// Persisted state always carries the full sync record: unlike the wire
	// format peers advertise to each other, it is never size-capped.
	rec, err := set.Serialize(math.MaxInt, intervals.FormatBinary, nil)
	if err != nil {
		return State{}, fmt.Errorf("weavestate: serialize sync record: %w", err)
	}
	entries, size := pool.Snapshot()
	dp := make(map[string]diskPoolEntryJSON, len(entries))
	for key, e := range entries {
		ids := make([]uint64, 0, len(e.TxIDs))
		for id := range e.TxIDs {
			ids = append(ids, id)
		}
		dp[hex.EncodeToString(key.Encode())] = diskPoolEntryJSON{
			AccumulatedSize: e.AccumulatedSize,
			TimestampUs:     e.TimestampUs,
			TxIDs:           ids,
			Confirmed:       e.Confirmed,
		}
	}
	return State{
		SyncRecordBytes:   rec,
		BlockIndex:        blockIndex,
		DiskPoolDataRoots: dp,
		DiskPoolSize:      size,
	}, nil
}

// Restore rebuilds the engine-facing values from a loaded State.
func (s State) Restore(pool *diskpool.Manager) (*intervals.Set, []BlockIndexEntry, error) {
	set, err := intervals.Deserialize(s.SyncRecordBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("weavestate: deserialize sync record: %w", err)
	}
	entries := make(map[kv.DataRootKey]diskpool.Entry, len(s.DiskPoolDataRoots))
	for hexKey, e := range s.DiskPoolDataRoots {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, nil, fmt.Errorf("weavestate: bad disk pool key %q: %w", hexKey, err)
		}
		key, ok := kv.DecodeDataRootKey(raw)
		if !ok {
			return nil, nil, fmt.Errorf("weavestate: malformed disk pool key %q", hexKey)
		}
		ids := make(map[uint64]struct{}, len(e.TxIDs))
		for _, id := range e.TxIDs {
			ids[id] = struct{}{}
		}
		entries[key] = diskpool.Entry{
			AccumulatedSize: e.AccumulatedSize,
			TimestampUs:     e.TimestampUs,
			TxIDs:           ids,
			Confirmed:       e.Confirmed,
		}
	}
	pool.Restore(entries, s.DiskPoolSize)
	return set, s.BlockIndex, nil
}

// Store writes a State to path as zstd-compressed JSON, atomically via a
// temp-file-then-rename, mirroring the teacher's compress-then-atomic-rename
// pattern for on-disk snapshots.
func Store(path string, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("weavestate: marshal: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("weavestate: new encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".weavestate-*")
	if err != nil {
		return fmt.Errorf("weavestate: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("weavestate: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("weavestate: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("weavestate: rename: %w", err)
	}
	log.Debug("[weavestate] flushed", "path", path, "bytes", len(compressed))
	return nil
}

// Load reads a State previously written by Store. A missing file is not an
// error: it means the node has never joined, and the caller should start
// from an empty state.
func Load(path string) (State, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("weavestate: read %s: %w", path, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return State{}, false, fmt.Errorf("weavestate: new decoder: %w", err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return State{}, false, fmt.Errorf("weavestate: decompress %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(plain, &s); err != nil {
		return State{}, false, fmt.Errorf("weavestate: unmarshal %s: %w", path, err)
	}
	return s, true, nil
}
