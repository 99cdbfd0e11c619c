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
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/weavesync/kv"
)

// scheduleDiskPoolScan implements spec.md §4.7's "process one pending chunk":
// advance the DiskPoolChunksIndex cyclic cursor by one entry and resolve it
// against DataRootIndex/the disk-pool manager's InDiskPool predicate.
func (e *Engine) scheduleDiskPoolScan() {
	e.cast(func() {
		kvv, next, err := e.kvStore.CyclicNext(kv.DiskPoolChunksIndex, e.diskPoolCursor)
		if err != nil {
			return
		}
		e.diskPoolCursor = next

		dpv, derr := decodeDiskPoolChunkValue(kvv.Value)
		if derr != nil {
			log.Warn("[syncengine] malformed disk pool chunk value", "err", derr)
			e.kvStore.Delete(kv.DiskPoolChunksIndex, kvv.Key)
			return
		}
		key, kerr := dpv.dataRootKey()
		if kerr != nil {
			log.Warn("[syncengine] malformed disk pool chunk key", "err", kerr)
			e.kvStore.Delete(kv.DiskPoolChunksIndex, kvv.Key)
			return
		}

		drv, gerr := e.getDataRootIndexValue(key)
		confirmed := gerr == nil && !drv.isEmpty()

		if !confirmed {
			if e.pool.Has(key) {
				// Still pending: seek the cursor past this data root's
				// timestamp range rather than spinning on the same
				// unconfirmed entry every tick (spec.md §4.7).
				ts, hash, ok := kv.DecodeDiskPoolKey(kvv.Key)
				if ok {
					e.diskPoolCursor = kv.EncodeDiskPoolKey(ts+1, hash)
				}
				return
			}
			// Expired out of the disk pool and never confirmed: the blob and
			// index entry are garbage.
			_, timestampHash, ok := kv.DecodeDiskPoolKey(kvv.Key)
			if ok {
				if cerr := e.chunks.Delete(timestampHash); cerr != nil {
					log.Debug("[syncengine] delete expired disk pool blob", "err", cerr)
				}
			}
			e.kvStore.Delete(kv.DiskPoolChunksIndex, kvv.Key)
			return
		}

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
					AbsoluteEnd:     absTxStart + dpv.RelativeEnd,
					RelativeEndInTx: dpv.RelativeEnd,
					DataPathHash:    diskPoolKeyHash(kvv.Key),
					TxRoot:          txRoot,
					DataRoot:        key.DataRoot,
					TxPath:          txPath,
					ChunkSize:       dpv.ChunkSize,
					TxSize:          key.TxSize,
				})
			}
		}
		if !e.pool.Has(key) {
			e.kvStore.Delete(kv.DiskPoolChunksIndex, kvv.Key)
		}
	})
}

func diskPoolKeyHash(key []byte) [32]byte {
	_, hash, _ := kv.DecodeDiskPoolKey(key)
	return hash
}

// scheduleExpireDataRoots implements spec.md §4.7's "expire disk-pool data
// roots" periodic task.
func (e *Engine) scheduleExpireDataRoots() {
	e.cast(func() {
		expired := e.pool.ExpireOlderThan(e.nowUs())
		if len(expired) == 0 {
			return
		}
		if e.metrics != nil {
			e.metrics.DiskPoolSize.Set(float64(e.pool.Size()))
		}
		log.Debug("[syncengine] expired disk pool data roots", "count", len(expired))
	})
}
