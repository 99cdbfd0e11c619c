// Copyright 2021 The Erigon Authors
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

// Package kv defines the ordered key-value store contract the sync engine's
// indices are built on (spec.md §4.2, §6) and the fixed-width offset key
// encoding every index shares.
package kv

const (
	// ChunksIndex maps absolute_chunk_end_offset -> chunk metadata.
	ChunksIndex = "ChunksIndex"
	// MissingChunksIndex maps end_offset -> start_offset for compaction
	// false positives.
	MissingChunksIndex = "MissingChunksIndex"
	// DataRootIndex maps (data_root||tx_size) -> tx_root -> tx_start -> tx_path.
	DataRootIndex = "DataRootIndex"
	// DataRootOffsetIndex maps absolute_block_start_offset -> block metadata.
	DataRootOffsetIndex = "DataRootOffsetIndex"
	// TxIndex maps tx_id -> (tx_end_offset, tx_size).
	TxIndex = "TxIndex"
	// TxOffsetIndex maps absolute_tx_start_offset -> tx_id.
	TxOffsetIndex = "TxOffsetIndex"
	// DiskPoolChunksIndex maps (timestamp||data_path_hash) -> pending chunk.
	DiskPoolChunksIndex = "DiskPoolChunksIndex"
)

// Tables lists every column family the engine opens a named database with.
var Tables = []string{
	ChunksIndex,
	MissingChunksIndex,
	DataRootIndex,
	DataRootOffsetIndex,
	TxIndex,
	TxOffsetIndex,
	DiskPoolChunksIndex,
}

// TableCfgItem mirrors the minimal subset of MDBX table settings the engine's
// tables need; Flags is carried but neither backend reads it (every table's
// value is a single serialized blob), so a host swapping in erigon-lib/kv's
// richer TableCfg only has to translate field-for-field.
type TableCfgItem struct {
	Flags uint
}

// TableCfg is the schema passed to a KVStore implementation's Open.
type TableCfg map[string]TableCfgItem

// DefaultTablesCfg returns every table with no special flags.
func DefaultTablesCfg() TableCfg {
	cfg := make(TableCfg, len(Tables))
	for _, t := range Tables {
		cfg[t] = TableCfgItem{}
	}
	return cfg
}
