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
	"crypto/sha256"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/common/mathutil"
	"github.com/erigontech/weavesync/intervals"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/peer"
)

// dataPathHash is the chunk store's content-addressing key: a hash of the
// Merkle data-path bytes, not of the chunk itself -- the same chunk can
// recur under different (data_root, placement) pairs with a different
// proof, and each is its own blob-store entry (spec.md §2 item 3).
func dataPathHash(dataPath []byte) [32]byte {
	return sha256.Sum256(dataPath)
}

// scheduleSyncOne is the "sync-one" periodic task entry point (spec.md §4.4).
// Target selection reads actor state and so runs on the mailbox; the actual
// network fetch is handed to a short-lived worker goroutine per spec.md §5
// so the actor never blocks on peer I/O.
func (e *Engine) scheduleSyncOne() {
	e.cast(func() {
		if !e.joined {
			return
		}
		if ok, err := e.hasFreeSpace(); err != nil || !ok {
			if err != nil {
				log.Warn("[syncengine] free space check", "err", err)
			}
			return
		}
		left, right, target, ok := e.selectTarget()
		if !ok {
			return
		}
		go e.fetchChunksInRange(context.Background(), target, left, right)
	})
}

func (e *Engine) hasFreeSpace() (bool, error) {
	if e.freeSpace == nil {
		return true, nil
	}
	free, err := e.freeSpace()
	if err != nil {
		return false, err
	}
	return free > e.cfg.DiskDataBuffer, nil
}

// selectTarget implements spec.md §4.4 steps 1-2: pick a peer and an
// interval to sync next, falling back to the missing-chunks cursor when
// every peer's outer-join with the local record is empty.
func (e *Engine) selectTarget() (left, right intervals.Offset, target peer.ID, ok bool) {
	window := uint64(1)
	if e.cfg.MaxSharedIntervals > 0 {
		window = mathutil.CeilDiv(e.weaveSize, uint64(e.cfg.MaxSharedIntervals))
	}
	window = mathutil.Max(window, 1)

	for id, rec := range e.peerRecords {
		if e.failures.RecentlyFailed(id) {
			continue
		}
		cut := rec.Clone()
		cut.Cut(intervals.Offset(e.weaveSize))
		missing := intervals.OuterJoin(e.syncRecord, cut)
		sum := missing.Sum()
		if sum == 0 {
			continue
		}
		r := uint64(e.rng.Int63n(int64(sum)))
		l, byteOff, rgt, err := missing.NthInnerPoint(r)
		if err != nil {
			continue
		}
		half := window / 2
		lo := l
		if candidate, underflowed := mathutil.SafeSub(uint64(byteOff), half); !underflowed {
			lo = intervals.Offset(mathutil.Clamp(candidate, uint64(l), uint64(rgt)))
		}
		hi := intervals.Offset(mathutil.Min(uint64(l)+window, uint64(rgt)))
		return lo, hi, id, true
	}

	// Step 2: fall back to the missing-chunks cursor.
	kvv, nextCursor, err := e.kvStore.CyclicNext(kv.MissingChunksIndex, e.missingCursor)
	if err != nil {
		return 0, 0, "", false
	}
	e.missingCursor = nextCursor
	end, ok1 := kv.DecodeOffsetKey(kvv.Key)
	start, ok2 := kv.DecodeOffsetKey(kvv.Value)
	if !ok1 || !ok2 {
		return 0, 0, "", false
	}
	_ = end
	byteTarget := start + 1
	if e.missingByteCursor+1 > byteTarget {
		byteTarget = e.missingByteCursor + 1
	}
	e.missingByteCursor = byteTarget

	for id, rec := range e.peerRecords {
		if e.failures.RecentlyFailed(id) {
			continue
		}
		if rec.IsInside(intervals.Offset(byteTarget)) {
			return byteTarget - 1, byteTarget, id, true
		}
	}
	return 0, 0, "", false
}

// fetchChunksInRange implements spec.md §4.4 steps 3-9: fetch and validate
// chunks covering [left, right) one at a time, advancing by each chunk's
// actual size, posting each validated chunk back to the actor as it lands.
func (e *Engine) fetchChunksInRange(ctx context.Context, target peer.ID, left, right intervals.Offset) {
	for left < right {
		proof, err := e.transport.GetChunk(ctx, target, uint64(left)+1)
		if err != nil {
			e.failures.MarkFailed(target)
			if e.metrics != nil {
				e.metrics.PeerTransportFailures.Inc()
				e.metrics.ChunksFetchFailed.Inc()
			}
			return
		}
		if len(proof.DataPath) == 0 || len(proof.DataPath) > len(proof.Chunk) {
			// "Chunk proof ratio not attractive": preserved verbatim per
			// spec.md §9's open question, calibration out of scope.
			e.dropPeer(target)
			return
		}

		advance, ok := e.validateAndStore(target, proof, left)
		if !ok {
			return
		}
		left += intervals.Offset(advance)
	}
}

// validateAndStore runs steps 5-8 for a single fetched chunk and reports how
// far to advance leftBound, or false if the peer should be dropped and the
// task restarted.
func (e *Engine) validateAndStore(target peer.ID, proof peer.Proof, leftBound intervals.Offset) (advance uint64, ok bool) {
	type applyResult struct {
		advance uint64
		ok      bool
	}
	res, _ := call(context.Background(), e, func() (applyResult, error) {
		blockStartKey, blockVal, err := e.kvStore.GetPrev(kv.DataRootOffsetIndex, kv.EncodeOffsetKey(uint64(leftBound)))
		if err != nil {
			return applyResult{}, nil
		}
		blockStart, ok := kv.DecodeOffsetKey(blockStartKey)
		if !ok {
			return applyResult{}, nil
		}
		offsetVal, err := decodeDataRootOffsetValue(blockVal)
		if err != nil {
			return applyResult{}, nil
		}
		offsetInBlock := uint64(leftBound) - blockStart

		result, verr := e.validator.ValidateProof(offsetVal.TxRoot, proof.TxPath, proof.DataPath, offsetInBlock, proof.Chunk, offsetVal.BlockSize)
		if verr != nil {
			if e.metrics != nil {
				e.metrics.ProofValidationFailed.Inc()
				e.metrics.ChunksFetchFailed.Inc()
			}
			return applyResult{}, nil
		}

		key := kv.DataRootKey{DataRoot: result.DataRoot, TxSize: result.TxSize}
		if !offsetVal.hasKey(key) {
			offsetVal = offsetVal.withKey(key)
			e.kvStore.Put(kv.DataRootOffsetIndex, blockStartKey, encodeDataRootOffsetValue(offsetVal))
		}
		absoluteTxStart := blockStart + result.TxStart

		drv, err := e.getDataRootIndexValue(key)
		if err != nil {
			drv = newDataRootIndexValue()
		}
		drv.put(offsetVal.TxRoot, absoluteTxStart, proof.TxPath)
		e.kvStore.Put(kv.DataRootIndex, key.Encode(), encodeDataRootIndexValue(drv))

		absoluteEnd := absoluteTxStart + result.ChunkEnd
		hash := dataPathHash(proof.DataPath)
		e.updateChunksIndex(updateChunksIndexInput{
			AbsoluteEnd:      absoluteEnd,
			RelativeEndInTx:  result.ChunkEnd,
			DataPathHash:     hash,
			TxRoot:           offsetVal.TxRoot,
			DataRoot:         result.DataRoot,
			TxPath:           proof.TxPath,
			ChunkSize:        uint64(len(proof.Chunk)),
			TxSize:           result.TxSize,
		})
		if err := e.chunks.Write(hash, proof.Chunk, proof.DataPath); err != nil {
			log.Error("[syncengine] write chunk blob", "err", err)
		}
		if e.metrics != nil {
			e.metrics.ChunksFetched.Inc()
		}
		return applyResult{advance: uint64(len(proof.Chunk)), ok: true}, nil
	})
	if !res.ok {
		e.dropPeer(target)
	}
	return res.advance, res.ok
}

func (e *Engine) dropPeer(id peer.ID) {
	e.cast(func() { delete(e.peerRecords, id) })
}

func (e *Engine) getDataRootIndexValue(key kv.DataRootKey) (dataRootIndexValue, error) {
	v, err := e.kvStore.Get(kv.DataRootIndex, key.Encode())
	if err != nil {
		return dataRootIndexValue{}, err
	}
	return decodeDataRootIndexValue(v)
}

// schedulePeerRecordsRefresh implements spec.md §4.4's peer-records refresh
// task: sample PICK_PEERS_OUT_OF_RANDOM_N peers, take
// CONSULT_PEER_RECORDS_COUNT of them, fetch their sync records off-actor,
// and replace PeerSyncRecords atomically via a single cast.
func (e *Engine) schedulePeerRecordsRefresh() {
	e.cast(func() {
		universe := append([]peer.ID{}, e.peerUniverse...)
		e.rng.Shuffle(len(universe), func(i, j int) { universe[i], universe[j] = universe[j], universe[i] })
		n := e.cfg.PickPeersOutOfRandomN
		if n > len(universe) {
			n = len(universe)
		}
		pool := universe[:n]
		e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		k := e.cfg.ConsultPeerRecordsCount
		if k > len(pool) {
			k = len(pool)
		}
		picked := append([]peer.ID{}, pool[:k]...)

		go e.refreshPeerRecords(picked)
	})
}

func (e *Engine) refreshPeerRecords(picked []peer.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	fetched := make(map[peer.ID]*intervals.Set, len(picked))
	for _, id := range picked {
		rec, err := e.transport.GetSyncRecord(ctx, id)
		if err != nil {
			e.failures.MarkFailed(id)
			if e.metrics != nil {
				e.metrics.PeerTransportFailures.Inc()
			}
			continue
		}
		fetched[id] = rec
	}
	e.cast(func() {
		for id, rec := range fetched {
			e.peerRecords[id] = rec
		}
		if e.metrics != nil {
			e.metrics.PeerSyncRecordRefresh.Add(float64(len(fetched)))
		}
	})
}
