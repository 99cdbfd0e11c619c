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

package chunkstore

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// FSStore is a local directory-sharded Store, grounded in the same
// "directory-of-named-files" layout Erigon's snapshot segments use
// (turbo/snapshotsync downloads into per-type directories keyed by name):
// here the directory is keyed by the first byte of the data-path hash to
// avoid a flat directory with millions of entries.
type FSStore struct {
	root string
}

// NewFSStore returns a Store rooted at dir, creating it if absent.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

func (f *FSStore) paths(hash [32]byte) (chunkPath, dataPathPath string) {
	shard := hex.EncodeToString(hash[:1])
	name := hex.EncodeToString(hash[:])
	dir := filepath.Join(f.root, shard)
	return filepath.Join(dir, name+".chunk"), filepath.Join(dir, name+".datapath")
}

func (f *FSStore) Write(hash [32]byte, chunk, dataPath []byte) error {
	if f.Has(hash) {
		return nil // dedup by key
	}
	chunkPath, dataPathPath := f.paths(hash)
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(chunkPath, chunk, 0o644); err != nil {
		return err
	}
	return os.WriteFile(dataPathPath, dataPath, 0o644)
}

func (f *FSStore) Read(hash [32]byte) (Blob, error) {
	chunkPath, dataPathPath := f.paths(hash)
	chunk, err := os.ReadFile(chunkPath)
	if errors.Is(err, os.ErrNotExist) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	dataPath, err := os.ReadFile(dataPathPath)
	if errors.Is(err, os.ErrNotExist) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	return Blob{Chunk: chunk, DataPath: dataPath}, nil
}

func (f *FSStore) Has(hash [32]byte) bool {
	chunkPath, _ := f.paths(hash)
	_, err := os.Stat(chunkPath)
	return err == nil
}

func (f *FSStore) Delete(hash [32]byte) error {
	chunkPath, dataPathPath := f.paths(hash)
	if err := os.Remove(chunkPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(dataPathPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
