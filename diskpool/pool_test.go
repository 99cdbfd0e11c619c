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

package diskpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/weaveconfig"
)

func fakeClock(start uint64) func() uint64 {
	t := start
	return func() uint64 { return t }
}

// mutClock is a fake clock whose reading can be advanced mid-test.
type mutClock struct{ t uint64 }

func (c *mutClock) now() uint64  { return c.t }
func (c *mutClock) set(t uint64) { c.t = t }

func key(b byte, txSize uint64) kv.DataRootKey {
	var dr [32]byte
	dr[0] = b
	return kv.DataRootKey{DataRoot: dr, TxSize: txSize}
}

func TestAddDataRootCreatesEntry(t *testing.T) {
	m := New(weaveconfig.Default(), fakeClock(1000))
	k := key(1, 500)
	m.AddDataRoot(k, 7)

	e, ok := m.Get(k)
	require.True(t, ok)
	assert.Contains(t, e.TxIDs, uint64(7))
	assert.Equal(t, uint64(1000), e.TimestampUs)
}

func TestMaybeDropRemovesEntryWhenLastTxGone(t *testing.T) {
	m := New(weaveconfig.Default(), fakeClock(1))
	k := key(2, 100)
	m.AddDataRoot(k, 1)
	m.AddDataRoot(k, 2)

	m.MaybeDropDataRoot(k, 1)
	_, ok := m.Get(k)
	require.True(t, ok, "entry survives while tx 2 still references it")

	m.MaybeDropDataRoot(k, 2)
	_, ok = m.Get(k)
	assert.False(t, ok, "entry removed once no tx references it")
}

func TestMaybeDropIgnoredOnceConfirmed(t *testing.T) {
	m := New(weaveconfig.Default(), fakeClock(1))
	k := key(3, 100)
	m.AddDataRoot(k, 1)
	m.MarkConfirmed(k)

	m.MaybeDropDataRoot(k, 1)
	e, ok := m.Get(k)
	require.True(t, ok, "confirmed entries must ignore mempool drop notifications")
	assert.Contains(t, e.TxIDs, uint64(1))
}

func TestReserveEnforcesPerDataRootLimit(t *testing.T) {
	cfg := weaveconfig.Default()
	cfg.MaxDiskPoolDataRootBuffer = 100
	cfg.MaxDiskPoolBuffer = 1 << 30
	m := New(cfg, fakeClock(1))
	k := key(4, 1000)

	require.NoError(t, m.Reserve(k, 60))
	err := m.Reserve(k, 60)
	assert.ErrorIs(t, err, ErrExceedsDataRootSizeLimit)
	assert.Equal(t, uint64(60), m.Size())
}

func TestReserveEnforcesPoolWideLimit(t *testing.T) {
	cfg := weaveconfig.Default()
	cfg.MaxDiskPoolDataRootBuffer = 1 << 30
	cfg.MaxDiskPoolBuffer = 100
	m := New(cfg, fakeClock(1))

	require.NoError(t, m.Reserve(key(5, 1), 60))
	err := m.Reserve(key(6, 1), 60)
	assert.ErrorIs(t, err, ErrExceedsDiskPoolSizeLimit)
}

func TestConfirmAndRemoveReclaimsSize(t *testing.T) {
	m := New(weaveconfig.Default(), fakeClock(1))
	k := key(7, 10)
	require.NoError(t, m.Reserve(k, 42))
	assert.Equal(t, uint64(42), m.Size())

	removed, ok := m.ConfirmAndRemove(k)
	require.True(t, ok)
	assert.Equal(t, uint64(42), removed)
	assert.Equal(t, uint64(0), m.Size())
	assert.False(t, m.Has(k))
}

func TestExpireOlderThanSweepsStaleEntries(t *testing.T) {
	cfg := weaveconfig.Default()
	cfg.DiskPoolDataRootExpiration = time.Hour
	clock := &mutClock{}
	m := New(cfg, clock.now)

	stale := key(8, 1)
	fresh := key(9, 1)
	require.NoError(t, m.Reserve(stale, 10))
	require.NoError(t, m.Reserve(fresh, 10))

	almostExpired := uint64((50 * time.Minute) / time.Microsecond)
	clock.set(almostExpired)
	m.RefreshTimestamp(fresh) // fresh resubmitted just before it would have expired

	nowUs := uint64((100 * time.Minute) / time.Microsecond)
	clock.set(nowUs)
	removed := m.ExpireOlderThan(nowUs)
	assert.ElementsMatch(t, []kv.DataRootKey{stale}, removed)
	assert.Equal(t, uint64(10), m.Size())
	assert.True(t, m.Has(fresh))
	assert.False(t, m.Has(stale))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := New(weaveconfig.Default(), fakeClock(5))
	k := key(10, 1)
	m.AddDataRoot(k, 1)
	require.NoError(t, m.Reserve(k, 99))

	snap, size := m.Snapshot()
	restored := New(weaveconfig.Default(), fakeClock(5))
	restored.Restore(snap, size)

	e, ok := restored.Get(k)
	require.True(t, ok)
	assert.Equal(t, uint64(99), e.AccumulatedSize)
	assert.Contains(t, e.TxIDs, uint64(1))
	assert.Equal(t, size, restored.Size())
}
