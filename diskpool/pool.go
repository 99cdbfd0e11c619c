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

// Package diskpool tracks the in-memory DiskPoolDataRoots map: pending or
// recently-confirmed (data_root, tx_size) pairs, their accumulated pending
// size, submission timestamp, and the set of mempool tx ids that reference
// them (spec.md §3, §4.7). The cursor-driven scan that promotes pending
// chunks lives in syncengine, which alone has the DataRootIndex and
// update-chunks-index this manager's entries need to be cross-referenced
// against; keeping that orchestration out of this package avoids a
// diskpool<->syncengine import cycle, the same layering erigon-lib/kv uses
// to keep storage primitives free of turbo/'s orchestration logic.
package diskpool

import (
	"errors"
	"sync"

	"github.com/erigontech/weavesync/common/mathutil"
	"github.com/erigontech/weavesync/kv"
	"github.com/erigontech/weavesync/weaveconfig"
)

// ErrExceedsDataRootSizeLimit is returned by Reserve when admitting a chunk
// would push one data root's pending size past MaxDiskPoolDataRootBuffer.
var ErrExceedsDataRootSizeLimit = errors.New("diskpool: exceeds data root size limit")

// ErrExceedsDiskPoolSizeLimit is returned by Reserve when admitting a chunk
// would push the pool's total pending size past MaxDiskPoolBuffer.
var ErrExceedsDiskPoolSizeLimit = errors.New("diskpool: exceeds disk pool size limit")

// Entry is one DiskPoolDataRoots value.
type Entry struct {
	AccumulatedSize uint64
	TimestampUs     uint64
	TxIDs           map[uint64]struct{}
	// Confirmed is the "not_set" sentinel: once true, the data root is
	// confirmed on chain and maybe_drop_data_root_from_disk_pool must
	// ignore further mempool drop notifications for it.
	Confirmed bool
}

func newEntry(nowUs uint64) *Entry {
	return &Entry{TimestampUs: nowUs, TxIDs: make(map[uint64]struct{})}
}

// Manager owns DiskPoolDataRoots and the disk_pool_size invariant (I3:
// disk_pool_size == sum of AccumulatedSize over all entries).
type Manager struct {
	mu        sync.Mutex
	dataRoots map[kv.DataRootKey]*Entry
	size      uint64
	cfg       weaveconfig.Config
	now       func() uint64
}

// New returns an empty Manager. now should return microseconds since epoch.
func New(cfg weaveconfig.Config, now func() uint64) *Manager {
	return &Manager{dataRoots: make(map[kv.DataRootKey]*Entry), cfg: cfg, now: now}
}

// Size returns disk_pool_size.
func (m *Manager) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Has reports whether key is currently tracked (the "InDiskPool" predicate
// referenced by spec.md §4.7's process-one-pending-chunk cases).
func (m *Manager) Has(key kv.DataRootKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dataRoots[key]
	return ok
}

// Get returns a copy of key's entry.
func (m *Manager) Get(key kv.DataRootKey) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dataRoots[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AddDataRoot implements add_data_root_to_disk_pool: a mempool transaction
// references (data_root, tx_size); create the entry if absent and record
// txID.
func (m *Manager) AddDataRoot(key kv.DataRootKey, txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dataRoots[key]
	if !ok {
		e = newEntry(m.now())
		m.dataRoots[key] = e
	}
	e.TxIDs[txID] = struct{}{}
}

// MaybeDropDataRoot implements maybe_drop_data_root_from_disk_pool: a
// mempool transaction was dropped. If the data root is already confirmed on
// chain (Confirmed sentinel set), the drop is ignored. Otherwise txID is
// removed, and the entry (and its pending size) is dropped entirely once no
// transaction references it any more.
func (m *Manager) MaybeDropDataRoot(key kv.DataRootKey, txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dataRoots[key]
	if !ok || e.Confirmed {
		return
	}
	delete(e.TxIDs, txID)
	if len(e.TxIDs) == 0 {
		m.size -= e.AccumulatedSize
		delete(m.dataRoots, key)
	}
}

// CanReserve reports whether admitting addSize more bytes for key would
// keep both the per-data-root and pool-wide caps satisfied, without
// mutating any state. Spec.md §4.5 orders admission as "enforce caps,
// validate_data_path, persist..., bump accumulated_size" -- the bump must
// not happen until after the chunk's proof has actually been validated,
// since there is no refund path for a chunk that turns out to be invalid.
func (m *Manager) CanReserve(key kv.DataRootKey, addSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(key, addSize)
}

func (m *Manager) checkLocked(key kv.DataRootKey, addSize uint64) error {
	existing := uint64(0)
	if e, ok := m.dataRoots[key]; ok {
		existing = e.AccumulatedSize
	}
	perRoot, overflow := mathutil.SafeAdd(existing, addSize)
	if overflow || perRoot > m.cfg.MaxDiskPoolDataRootBuffer {
		return ErrExceedsDataRootSizeLimit
	}
	poolTotal, overflow := mathutil.SafeAdd(m.size, addSize)
	if overflow || poolTotal > m.cfg.MaxDiskPoolBuffer {
		return ErrExceedsDiskPoolSizeLimit
	}
	return nil
}

// Commit bumps key's AccumulatedSize and the pool-wide size by addSize,
// creating the entry if it does not yet exist. Callers are expected to have
// already confirmed via CanReserve that the bump keeps both caps satisfied;
// Commit does not re-check them, so that a validated chunk is never
// rejected by a check it already passed.
func (m *Manager) Commit(key kv.DataRootKey, addSize uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dataRoots[key]
	if !ok {
		e = newEntry(m.now())
		m.dataRoots[key] = e
	}
	e.AccumulatedSize += addSize
	m.size += addSize
}

// Reserve enforces the per-data-root and global size caps and, if both are
// satisfied, immediately commits addSize. It is CanReserve+Commit fused
// into one call for callers with no validation step in between (tests and
// other direct, non-admission callers).
func (m *Manager) Reserve(key kv.DataRootKey, addSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(key, addSize); err != nil {
		return err
	}
	e, ok := m.dataRoots[key]
	if !ok {
		e = newEntry(m.now())
		m.dataRoots[key] = e
	}
	e.AccumulatedSize += addSize
	m.size += addSize
	return nil
}

// RefreshTimestamp resets key's timestamp to now, giving a resubmission
// window after the data root is orphaned by a reorg (spec.md §4.6).
func (m *Manager) RefreshTimestamp(key kv.DataRootKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.dataRoots[key]; ok {
		e.TimestampUs = m.now()
		e.Confirmed = false
	}
}

// MarkConfirmed sets the Confirmed sentinel without removing the entry,
// matching spec.md §3's "not_set" semantics: existing DiskPoolChunksIndex
// entries may still need scanning before ConfirmAndRemove reclaims the size.
func (m *Manager) MarkConfirmed(key kv.DataRootKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.dataRoots[key]; ok {
		e.Confirmed = true
	}
}

// ConfirmAndRemove implements add_tip_block's "reduces disk_pool_size by the
// accumulated_size of data roots that have now been confirmed, replacing
// them in place": it removes key's entry entirely and returns the size that
// was reclaimed.
func (m *Manager) ConfirmAndRemove(key kv.DataRootKey) (removedSize uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dataRoots[key]
	if !ok {
		return 0, false
	}
	m.size -= e.AccumulatedSize
	delete(m.dataRoots, key)
	return e.AccumulatedSize, true
}

// ExpireOlderThan implements "expire disk-pool data roots": every entry
// whose TimestampUs + expiration < nowUs is removed, and disk_pool_size is
// recomputed. Returns the removed keys.
func (m *Manager) ExpireOlderThan(nowUs uint64) []kv.DataRootKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := uint64(m.cfg.DiskPoolDataRootExpiration.Microseconds())
	var removed []kv.DataRootKey
	for key, e := range m.dataRoots {
		if e.TimestampUs+exp < nowUs {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		e := m.dataRoots[key]
		m.size -= e.AccumulatedSize
		delete(m.dataRoots, key)
	}
	return removed
}

// Snapshot returns a defensive copy of every entry, for persistence
// (weavestate) and for P9-style invariant checks.
func (m *Manager) Snapshot() (map[kv.DataRootKey]Entry, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[kv.DataRootKey]Entry, len(m.dataRoots))
	for k, e := range m.dataRoots {
		cp := *e
		cp.TxIDs = make(map[uint64]struct{}, len(e.TxIDs))
		for id := range e.TxIDs {
			cp.TxIDs[id] = struct{}{}
		}
		out[k] = cp
	}
	return out, m.size
}

// Restore replaces the manager's state wholesale, used when loading the
// persisted state blob on startup.
func (m *Manager) Restore(entries map[kv.DataRootKey]Entry, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataRoots = make(map[kv.DataRootKey]*Entry, len(entries))
	for k, e := range entries {
		cp := e
		m.dataRoots[k] = &cp
	}
	m.size = size
}
