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
	"errors"
	"fmt"

	"github.com/erigontech/weavesync/diskpool"
	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
)

// updateChunksIndexInput bundles the arguments spec.md §4.5's
// update-chunks-index procedure takes.
type updateChunksIndexInput struct {
	AbsoluteEnd     uint64
	RelativeEndInTx uint64
	DataPathHash    [32]byte
	TxRoot          [32]byte
	DataRoot        [32]byte
	TxPath          []byte
	ChunkSize       uint64
	TxSize          uint64
}

// updateChunksIndex must be called on the actor goroutine. It returns
// whether the chunk was newly indexed (false means the idempotent no-op
// case of spec.md §5: "two chunk stores for the same absolute_end are
// idempotent").
func (e *Engine) updateChunksIndex(in updateChunksIndexInput) bool {
	endKey := kv.EncodeOffsetKey(in.AbsoluteEnd)
	_, getErr := e.kvStore.Get(kv.ChunksIndex, endKey)
	chunkIsNew := !e.syncRecord.IsInside(intervals.Offset(in.AbsoluteEnd)) || getErr == kv.ErrNotFound
	if !chunkIsNew {
		return false
	}

	val := chunkIndexValue{
		DataPathHash:        in.DataPathHash,
		TxRoot:              in.TxRoot,
		DataRoot:            in.DataRoot,
		TxPath:              in.TxPath,
		ChunkRelativeOffset: in.RelativeEndInTx - in.ChunkSize,
		ChunkSize:           in.ChunkSize,
	}
	e.kvStore.Put(kv.ChunksIndex, endKey, encodeChunkIndexValue(val))

	if entry, ok := e.pool.Get(kv.DataRootKey{DataRoot: in.DataRoot, TxSize: in.TxSize}); ok {
		dpKey := kv.EncodeDiskPoolKey(entry.TimestampUs, in.DataPathHash)
		if _, err := e.kvStore.Get(kv.DiskPoolChunksIndex, dpKey); err == kv.ErrNotFound {
			dpv := diskPoolChunkValue{
				RelativeEnd:    in.RelativeEndInTx,
				ChunkSize:      in.ChunkSize,
				DataRootKeyHex: dataRootKeyHex(in.DataRoot, in.TxSize),
			}
			e.kvStore.Put(kv.DiskPoolChunksIndex, dpKey, encodeDiskPoolChunkValue(dpv))
		}
	}

	e.syncRecord.Add(in.AbsoluteEnd, in.AbsoluteEnd-in.ChunkSize)
	e.setJoined(true, e.weaveSize)
	if e.syncRecord.Count() > e.cfg.MaxSharedIntervals+e.cfg.ExtraBeforeCompaction {
		e.requestCompaction()
	}
	return true
}

func dataRootKeyHex(dataRoot [32]byte, txSize uint64) string {
	key := kv.DataRootKey{DataRoot: dataRoot, TxSize: txSize}
	return hexEncode(key.Encode())
}

// toSyncError maps diskpool's admission-limit errors onto the engine's own
// §7 error taxonomy, wrapping both so callers can match with errors.Is
// against either the engine's sentinel or diskpool's (the engine is the
// exposed surface named in spec.md §6/§7; diskpool is an internal
// collaborator whose errors should not leak unmapped to host callers).
func toSyncError(err error) error {
	switch {
	case errors.Is(err, diskpool.ErrExceedsDataRootSizeLimit):
		return fmt.Errorf("%w: %w", ErrExceedsDataRootSizeLimit, err)
	case errors.Is(err, diskpool.ErrExceedsDiskPoolSizeLimit):
		return fmt.Errorf("%w: %w", ErrExceedsDiskPoolSizeLimit, err)
	default:
		return err
	}
}

// AddChunkRequest is the admission payload of spec.md §4.5 / §6 add_chunk.
type AddChunkRequest struct {
	DataRoot [32]byte
	DataPath []byte
	Chunk    []byte
	Offset   uint64 // offset_in_tx
	TxSize   uint64
}

// AddChunk implements add_chunk: admit a chunk the caller believes belongs
// to (DataRoot, TxSize), either confirming it immediately against a known
// placement or buffering it in the disk pool pending confirmation.
func (e *Engine) AddChunk(ctx context.Context, req AddChunkRequest) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		if len(req.Chunk) == 0 || len(req.DataPath) == 0 || req.TxSize == 0 || req.Offset+uint64(len(req.Chunk)) > req.TxSize {
			return struct{}{}, ErrInvalid
		}
		if ok, serr := e.hasFreeSpace(); serr == nil && !ok {
			return struct{}{}, ErrDiskFull
		}
		key := kv.DataRootKey{DataRoot: req.DataRoot, TxSize: req.TxSize}

		drv, err := e.getDataRootIndexValue(key)
		if err == nil && !drv.isEmpty() {
			chunkEnd, verr := e.validator.ValidateDataPath(req.DataRoot, req.Offset, req.TxSize, req.DataPath, req.Chunk)
			if verr != nil {
				return struct{}{}, ErrInvalidProof
			}
			hash := dataPathHash(req.DataPath)
			for txRootHex, starts := range drv.Placements {
				txRoot, herr := decodeHex32(txRootHex)
				if herr != nil {
					continue
				}
				for absTxStart, txPathHex := range starts {
					txPath, terr := hexDecode(txPathHex)
					if terr != nil {
						continue
					}
					e.updateChunksIndex(updateChunksIndexInput{
						AbsoluteEnd:     absTxStart + chunkEnd,
						RelativeEndInTx: chunkEnd,
						DataPathHash:    hash,
						TxRoot:          txRoot,
						DataRoot:        req.DataRoot,
						TxPath:          txPath,
						ChunkSize:       uint64(len(req.Chunk)),
						TxSize:          req.TxSize,
					})
				}
			}
			if werr := e.chunks.Write(hash, req.Chunk, req.DataPath); werr != nil {
				return struct{}{}, ErrFailedToReadChunk
			}
			if e.metrics != nil {
				e.metrics.ChunksAdmitted.Inc()
			}
			return struct{}{}, nil
		}

		if !e.pool.Has(key) {
			if e.metrics != nil {
				e.metrics.ChunksRejected.WithLabelValues("data_root_not_found").Inc()
			}
			return struct{}{}, ErrDataRootNotFound
		}
		addSize := uint64(len(req.Chunk))
		if cerr := e.pool.CanReserve(key, addSize); cerr != nil {
			if e.metrics != nil {
				e.metrics.ChunksRejected.WithLabelValues(cerr.Error()).Inc()
			}
			return struct{}{}, toSyncError(cerr)
		}
		if _, verr := e.validator.ValidateDataPath(req.DataRoot, req.Offset, req.TxSize, req.DataPath, req.Chunk); verr != nil {
			return struct{}{}, ErrInvalidProof
		}
		hash := dataPathHash(req.DataPath)
		entry, _ := e.pool.Get(key)
		dpKey := kv.EncodeDiskPoolKey(entry.TimestampUs, hash)
		dpv := diskPoolChunkValue{
			RelativeEnd:    req.Offset + addSize,
			ChunkSize:      addSize,
			DataRootKeyHex: dataRootKeyHex(req.DataRoot, req.TxSize),
		}
		e.kvStore.Put(kv.DiskPoolChunksIndex, dpKey, encodeDiskPoolChunkValue(dpv))
		if werr := e.chunks.Write(hash, req.Chunk, req.DataPath); werr != nil {
			return struct{}{}, ErrFailedToReadChunk
		}
		// Only now, with the chunk persisted and its proof validated, does
		// the admission actually count against the caps (spec.md §4.5's
		// bump-last ordering) -- an invalid proof above never touches
		// accumulated_size, unlike the old check-then-bump Reserve call.
		e.pool.Commit(key, addSize)
		if e.metrics != nil {
			e.metrics.ChunksAdmitted.Inc()
		}
		return struct{}{}, nil
	})
	return err
}

// AddDataRootToDiskPool implements add_data_root_to_disk_pool.
func (e *Engine) AddDataRootToDiskPool(dataRoot [32]byte, txSize, txID uint64) {
	e.cast(func() { e.pool.AddDataRoot(kv.DataRootKey{DataRoot: dataRoot, TxSize: txSize}, txID) })
}

// MaybeDropDataRootFromDiskPool implements maybe_drop_data_root_from_disk_pool.
func (e *Engine) MaybeDropDataRootFromDiskPool(dataRoot [32]byte, txSize, txID uint64) {
	e.cast(func() { e.pool.MaybeDropDataRoot(kv.DataRootKey{DataRoot: dataRoot, TxSize: txSize}, txID) })
}
