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

import "errors"

// ErrNotFound is returned by Get/GetNext/GetPrev/CyclicNext when no matching
// key exists.
var ErrNotFound = errors.New("kv: not found")

// KV is a single ordered key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// FirstCursor is the cyclic-iterator sentinel meaning "start at the smallest
// key in the table".
var FirstCursor []byte

// Store is the ordered key-value contract required of the host database
// (spec.md §4.2). Implementations must guarantee that GetNext/GetPrev are
// safe to call concurrently with writes from a different goroutine without
// external locking -- the engine's two lock-free fast paths depend on this.
type Store interface {
	Get(table string, key []byte) ([]byte, error) // ErrNotFound if absent
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error

	// GetNext returns the smallest key >= key, or ErrNotFound.
	GetNext(table string, key []byte) (KV, error)
	// GetPrev returns the greatest key <= key, or ErrNotFound.
	GetPrev(table string, key []byte) (KV, error)
	// GetRange returns every entry in [lo, hi), ascending by key.
	GetRange(table string, lo, hi []byte) ([]KV, error)
	// DeleteRange deletes every entry in [lo, hi).
	DeleteRange(table string, lo, hi []byte) error

	// CyclicNext advances once from cursor, wrapping to the smallest key
	// after the greatest. cursor == FirstCursor starts at the smallest key.
	// Returns ErrNotFound if the table is empty; never loops forever.
	CyclicNext(table string, cursor []byte) (kv KV, nextCursor []byte, err error)

	Close() error
}
