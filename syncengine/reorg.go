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

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/weavestate"
)

// BlockTx is one transaction contributed by a newly-announced block, as
// needed to index TXIndex/TXOffsetIndex/DataRootOffsetIndex and to confirm
// its data root out of the disk pool. DataRoot is the zero value for
// transactions that carry no data (nothing to confirm).
type BlockTx struct {
	TxID            uint64
	AbsoluteTxStart uint64
	TxSize          uint64
	DataRoot        [32]byte
}

// NewBlock is the payload add_tip_block indexes: the block's own bounds
// plus its ordered, size-tagged transactions (spec.md §4.6).
type NewBlock struct {
	TxRoot           [32]byte
	AbsoluteBlockStart uint64
	BlockSize        uint64
	Txs              []BlockTx
}

// blockStart returns blockIndex[i]'s own start offset: the previous block's
// cumulative weave size, or 0 for the first block.
func blockStart(blockIndex []weavestate.BlockIndexEntry, i int) uint64 {
	if i == 0 {
		return 0
	}
	return blockIndex[i-1].WeaveSize
}

// findIntersection returns the index, within both old and new, of the
// highest block hash present in both chains. ok=false means no block hash
// of old appears anywhere in new (spec.md §4.6).
func findIntersection(oldChain, newChain []weavestate.BlockIndexEntry) (oldIdx, newIdx int, ok bool) {
	newByHash := make(map[[32]byte]int, len(newChain))
	for i, b := range newChain {
		newByHash[b.BlockHash] = i
	}
	for i := len(oldChain) - 1; i >= 0; i-- {
		if j, found := newByHash[oldChain[i].BlockHash]; found {
			return i, j, true
		}
	}
	return 0, 0, false
}

// Join implements spec.md §4.6's join(new_block_index).
func (e *Engine) Join(ctx context.Context, newBlockIndex []weavestate.BlockIndexEntry) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		if len(newBlockIndex) == 0 {
			return struct{}{}, nil
		}
		if len(e.blockIndex) == 0 {
			e.seedDataRootOffsetIndex(newBlockIndex, 0)
			e.blockIndex = newBlockIndex
			e.setJoined(true, newBlockIndex[len(newBlockIndex)-1].WeaveSize)
			return struct{}{}, nil
		}

		oldIdx, newIdx, ok := findIntersection(e.blockIndex, newBlockIndex)
		if !ok {
			return struct{}{}, ErrFatalJoinNoIntersection
		}
		// oldIdx == len(e.blockIndex)-1 means the common ancestor is the old
		// chain's own tip: newBlockIndex simply extends it, nothing orphaned.
		// Otherwise removeOrphans also drops the ancestor's own
		// DataRootOffsetIndex entry, so reseeding starts at the ancestor.
		seedFrom := newIdx + 1
		if oldIdx < len(e.blockIndex)-1 {
			seedFrom = newIdx
			cutPoint := blockStart(e.blockIndex, oldIdx)
			prevWeaveSize := e.blockIndex[len(e.blockIndex)-1].WeaveSize
			e.removeOrphans(cutPoint, prevWeaveSize)
			e.syncRecord.Cut(intervals.Offset(cutPoint))
			if e.metrics != nil {
				e.metrics.ReorgsHandled.Inc()
			}
		}
		e.seedDataRootOffsetIndex(newBlockIndex[seedFrom:], blockStart(newBlockIndex, seedFrom))
		e.blockIndex = newBlockIndex
		e.setJoined(true, newBlockIndex[len(newBlockIndex)-1].WeaveSize)
		e.flushState()
		return struct{}{}, nil
	})
	return err
}

// AddTipBlock implements spec.md §4.6's add_tip_block: apply the same
// reorg-aware cut incrementally, then index the new block's transactions
// and reduce disk_pool_size for now-confirmed data roots.
func (e *Engine) AddTipBlock(ctx context.Context, block NewBlock, newBlockIndex []weavestate.BlockIndexEntry) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		if len(e.blockIndex) > 0 && len(newBlockIndex) > 0 {
			oldIdx, newIdx, ok := findIntersection(e.blockIndex, newBlockIndex)
			if ok && oldIdx < len(e.blockIndex)-1 {
				cutPoint := blockStart(e.blockIndex, oldIdx)
				e.removeOrphans(cutPoint, e.blockIndex[len(e.blockIndex)-1].WeaveSize)
				e.syncRecord.Cut(intervals.Offset(cutPoint))
				e.seedDataRootOffsetIndex(newBlockIndex[newIdx:len(newBlockIndex)-1], blockStart(newBlockIndex, newIdx))
				if e.metrics != nil {
					e.metrics.ReorgsHandled.Inc()
				}
			}
		}

		e.indexBlockTxs(block)

		e.blockIndex = newBlockIndex
		if len(newBlockIndex) > 0 {
			e.setJoined(true, newBlockIndex[len(newBlockIndex)-1].WeaveSize)
		}
		if e.metrics != nil {
			e.metrics.DiskPoolSize.Set(float64(e.pool.Size()))
		}
		e.flushState()
		return struct{}{}, nil
	})
	return err
}

// AddBlock implements spec.md §6's add_block(block, size_tagged_txs): index
// a just-built block's data ahead of the consensus layer announcing it as
// the new tip via add_tip_block/Join. Unlike AddTipBlock, it is only ever
// called with the node's own freshly-produced block, so there is no
// candidate block index to intersect against and no reorg to detect.
func (e *Engine) AddBlock(ctx context.Context, block NewBlock) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		e.indexBlockTxs(block)
		e.setJoined(true, block.AbsoluteBlockStart+block.BlockSize)
		if e.metrics != nil {
			e.metrics.DiskPoolSize.Set(float64(e.pool.Size()))
		}
		e.flushState()
		return struct{}{}, nil
	})
	return err
}

// indexBlockTxs writes block's TxIndex/TxOffsetIndex/DataRootOffsetIndex
// entries and confirms any disk-pool data root its transactions finalize,
// reducing disk_pool_size by the accumulated_size of each (spec.md §4.6).
// Must run on the actor goroutine.
func (e *Engine) indexBlockTxs(block NewBlock) {
	offsetVal := dataRootOffsetValue{TxRoot: block.TxRoot, BlockSize: block.BlockSize}
	for _, tx := range block.Txs {
		e.kvStore.Put(kv.TxIndex, kv.EncodeTxID(tx.TxID), encodeTxIndexValue(txIndexValue{
			AbsoluteTxEnd: tx.AbsoluteTxStart + tx.TxSize,
			TxSize:        tx.TxSize,
		}))
		e.kvStore.Put(kv.TxOffsetIndex, kv.EncodeOffsetKey(tx.AbsoluteTxStart), kv.EncodeTxID(tx.TxID))

		if tx.DataRoot != ([32]byte{}) {
			e.pool.ConfirmAndRemove(kv.DataRootKey{DataRoot: tx.DataRoot, TxSize: tx.TxSize})
		}
	}
	e.kvStore.Put(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(block.AbsoluteBlockStart), encodeDataRootOffsetValue(offsetVal))
}

// seedDataRootOffsetIndex writes a fresh DataRootOffsetIndex entry for every
// block in tail, whose first block starts at firstStart.
func (e *Engine) seedDataRootOffsetIndex(tail []weavestate.BlockIndexEntry, firstStart uint64) {
	start := firstStart
	for _, b := range tail {
		val := dataRootOffsetValue{TxRoot: b.TxRoot, BlockSize: b.WeaveSize - start}
		e.kvStore.Put(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(start), encodeDataRootOffsetValue(val))
		start = b.WeaveSize
	}
}

// removeOrphans implements spec.md §4.6's remove_orphans(cut_point,
// previous_weave_size): delete ChunksIndex entries ending in
// (cut_point, previous_weave_size] and TxOffsetIndex/DataRootOffsetIndex
// entries starting in [cut_point, previous_weave_size], and refresh the
// disk-pool timestamp of every data root whose confirmed placements were
// entirely orphaned.
func (e *Engine) removeOrphans(cutPoint, prevWeaveSize uint64) {
	lo := kv.EncodeOffsetKey(cutPoint)
	hi := kv.EncodeOffsetKey(prevWeaveSize + 1)

	if err := e.kvStore.DeleteRange(kv.ChunksIndex, kv.EncodeOffsetKey(cutPoint+1), hi); err != nil {
		log.Warn("[syncengine] delete orphaned chunks", "err", err)
	}

	txOffsetEntries, err := e.kvStore.GetRange(kv.TxOffsetIndex, lo, hi)
	if err != nil {
		log.Warn("[syncengine] scan orphaned tx offsets", "err", err)
	}
	for _, kvv := range txOffsetEntries {
		if txID, ok := kv.DecodeTxID(kvv.Value); ok {
			if err := e.kvStore.Delete(kv.TxIndex, kv.EncodeTxID(txID)); err != nil {
				log.Warn("[syncengine] delete orphaned tx", "err", err)
			}
		}
	}
	if err := e.kvStore.DeleteRange(kv.TxOffsetIndex, lo, hi); err != nil {
		log.Warn("[syncengine] delete orphaned tx offsets", "err", err)
	}

	offsetEntries, err := e.kvStore.GetRange(kv.DataRootOffsetIndex, lo, hi)
	if err != nil {
		log.Warn("[syncengine] scan orphaned block offsets", "err", err)
	}
	orphanedDataRoots := make(map[kv.DataRootKey]struct{})
	for _, kvv := range offsetEntries {
		offsetVal, derr := decodeDataRootOffsetValue(kvv.Value)
		if derr != nil {
			continue
		}
		for _, keyHex := range offsetVal.Keys {
			raw, herr := hexDecode(keyHex)
			if herr != nil {
				continue
			}
			key, ok := kv.DecodeDataRootKey(raw)
			if !ok {
				continue
			}
			drv, gerr := e.getDataRootIndexValue(key)
			if gerr != nil {
				continue
			}
			if empty := drv.removeFrom(cutPoint); empty {
				e.kvStore.Delete(kv.DataRootIndex, key.Encode())
				orphanedDataRoots[key] = struct{}{}
			} else {
				e.kvStore.Put(kv.DataRootIndex, key.Encode(), encodeDataRootIndexValue(drv))
			}
		}
	}
	if err := e.kvStore.DeleteRange(kv.DataRootOffsetIndex, lo, hi); err != nil {
		log.Warn("[syncengine] delete orphaned block offsets", "err", err)
	}

	for key := range orphanedDataRoots {
		e.pool.RefreshTimestamp(key)
	}
}
