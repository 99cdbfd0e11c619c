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

// requestCompaction implements spec.md §4.8. It must be called on the actor
// goroutine, the same way posting a "compaction request" message and
// handling it inline amount to the same thing for a single-owner actor.
func (e *Engine) requestCompaction() {
	absorbed, compacted := e.syncRecord.Compact(e.cfg.MaxSharedIntervals)
	if len(absorbed) == 0 {
		return
	}
	e.syncRecord = compacted
	for _, gap := range absorbed {
		e.kvStore.Put(kv.MissingChunksIndex, kv.EncodeOffsetKey(gap.End), kv.EncodeOffsetKey(gap.Start))
	}
	// "Advance missing-data cursor to Start+1 of the first absorbed gap so
	// the next sync-one scan will attempt these first" (spec.md §4.8). The
	// absorbed order is unspecified (spec.md §9's open question); we reset
	// the KV cyclic cursor to the beginning so the scan revisits every
	// pending false positive, including the ones just written, rather than
	// picking one specific absorbed gap to special-case.
	e.missingCursor = kv.FirstCursor
	if len(absorbed) > 0 {
		e.missingByteCursor = absorbed[0].Start
	}
	if e.metrics != nil {
		e.metrics.CompactionsRun.Inc()
		e.metrics.IntervalsAbsorbed.Add(float64(len(absorbed)))
	}
	log.Debug("[syncengine] compacted sync record", "absorbed", len(absorbed), "intervals", e.syncRecord.Count())
}
