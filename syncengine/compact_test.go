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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/weavesync/kv"
)

func TestRequestCompactionAbsorbsSmallestGapAndRecordsMissingEntry(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxSharedIntervals = 2
	e.cfg.ExtraBeforeCompaction = 0

	// Three disjoint intervals, two gaps: [10,20) len10 and [30,50) len20 --
	// the smaller gap is chosen to absorb, reducing 3 intervals to 2.
	e.syncRecord.Add(10, 0)
	e.syncRecord.Add(30, 20)
	e.syncRecord.Add(60, 50)
	e.missingCursor = []byte{0xff}
	e.missingByteCursor = 999

	e.requestCompaction()

	assert.Equal(t, 2, e.syncRecord.Count())
	assert.Equal(t, kv.FirstCursor, e.missingCursor)
	assert.Equal(t, uint64(10), e.missingByteCursor)

	v, err := e.kvStore.Get(kv.MissingChunksIndex, kv.EncodeOffsetKey(20))
	require.NoError(t, err)
	start, ok := kv.DecodeOffsetKey(v)
	require.True(t, ok)
	assert.Equal(t, uint64(10), start)
}

func TestRequestCompactionNoOpBelowLimit(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxSharedIntervals = 10
	e.cfg.ExtraBeforeCompaction = 10

	e.syncRecord.Add(10, 0)
	e.syncRecord.Add(30, 20)
	before := e.syncRecord.Count()

	e.requestCompaction()

	assert.Equal(t, before, e.syncRecord.Count())
}
