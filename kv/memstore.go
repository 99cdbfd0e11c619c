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

package kv

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type memEntry struct {
	Key, Value []byte
}

func memLess(a, b memEntry) bool { return bytes.Compare(a.Key, b.Key) < 0 }

// MemStore is an in-memory Store backed by a btree per table, used in tests
// and as the reference implementation the MDBX-backed Store is verified
// against. GetNext/GetPrev take an RLock, matching the "lock-free snapshot
// read" contract the engine's fast paths rely on (spec.md §5): writers never
// block readers out for longer than a single lookup.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*btree.BTreeG[memEntry]
}

// NewMemStore opens a MemStore with the given table schema.
func NewMemStore(cfg TableCfg) *MemStore {
	m := &MemStore{tables: make(map[string]*btree.BTreeG[memEntry], len(cfg))}
	for name := range cfg {
		m.tables[name] = btree.NewG[memEntry](32, memLess)
	}
	return m
}

func (m *MemStore) table(name string) *btree.BTreeG[memEntry] {
	t, ok := m.tables[name]
	if !ok {
		t = btree.NewG[memEntry](32, memLess)
		m.tables[name] = t
	}
	return t
}

func (m *MemStore) Get(table string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.table(table).Get(memEntry{Key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

func (m *MemStore) Put(table string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(table).ReplaceOrInsert(memEntry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	return nil
}

func (m *MemStore) Delete(table string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(table).Delete(memEntry{Key: key})
	return nil
}

func (m *MemStore) GetNext(table string, key []byte) (KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found KV
	ok := false
	m.table(table).AscendGreaterOrEqual(memEntry{Key: key}, func(e memEntry) bool {
		found = KV{Key: e.Key, Value: e.Value}
		ok = true
		return false
	})
	if !ok {
		return KV{}, ErrNotFound
	}
	return found, nil
}

func (m *MemStore) GetPrev(table string, key []byte) (KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found KV
	ok := false
	m.table(table).DescendLessOrEqual(memEntry{Key: key}, func(e memEntry) bool {
		found = KV{Key: e.Key, Value: e.Value}
		ok = true
		return false
	})
	if !ok {
		return KV{}, ErrNotFound
	}
	return found, nil
}

func (m *MemStore) GetRange(table string, lo, hi []byte) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KV
	m.table(table).AscendRange(memEntry{Key: lo}, memEntry{Key: hi}, func(e memEntry) bool {
		out = append(out, KV{Key: e.Key, Value: e.Value})
		return true
	})
	return out, nil
}

func (m *MemStore) DeleteRange(table string, lo, hi []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	var toDelete []memEntry
	t.AscendRange(memEntry{Key: lo}, memEntry{Key: hi}, func(e memEntry) bool {
		toDelete = append(toDelete, e)
		return true
	})
	for _, e := range toDelete {
		t.Delete(e)
	}
	return nil
}

func (m *MemStore) CyclicNext(table string, cursor []byte) (KV, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.table(table)
	if t.Len() == 0 {
		return KV{}, nil, ErrNotFound
	}
	var found KV
	ok := false
	if cursor != nil {
		t.AscendGreaterOrEqual(memEntry{Key: nextKey(cursor)}, func(e memEntry) bool {
			found = KV{Key: e.Key, Value: e.Value}
			ok = true
			return false
		})
	}
	if !ok {
		// wrap to the smallest key
		t.Ascend(func(e memEntry) bool {
			found = KV{Key: e.Key, Value: e.Value}
			ok = true
			return false
		})
	}
	if !ok {
		return KV{}, nil, ErrNotFound
	}
	return found, found.Key, nil
}

func (m *MemStore) Close() error { return nil }

// nextKey returns the smallest byte string strictly greater than k under
// lexicographic order (appends a zero byte).
func nextKey(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}
