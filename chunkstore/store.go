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

// Package chunkstore implements the content-addressed blob store that holds
// chunk bytes alongside their data-path proof, deduplicated by the hash of
// the data-path (spec.md §4.3 "Chunk Store").
package chunkstore

import "errors"

// ErrNotFound is returned by Read when no blob is stored under hash.
var ErrNotFound = errors.New("chunkstore: not found")

// Blob is a stored (chunk, data_path) pair.
type Blob struct {
	Chunk    []byte
	DataPath []byte
}

// Store is the host-supplied ChunkBlobStore (spec.md §6).
type Store interface {
	Write(hash [32]byte, chunk, dataPath []byte) error
	Read(hash [32]byte) (Blob, error)
	Has(hash [32]byte) bool
	Delete(hash [32]byte) error
}
