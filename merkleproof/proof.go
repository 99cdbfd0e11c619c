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

// Package merkleproof validates a chunk's two inclusion proofs -- the
// transaction path within a block and the data path within a transaction --
// against host-supplied Merkle path verification (spec.md §4.3). The Merkle
// tree construction itself is out of scope (spec.md §1); this package only
// composes the two verification calls and enforces the chunk-size and
// chunk-identity checks around them.
package merkleproof

import "errors"

// ErrInvalidProof is returned whenever any stage of validation fails.
var ErrInvalidProof = errors.New("merkleproof: invalid proof")

// PathVerifier is the host-supplied Merkle primitive (spec.md §6 "Merkle").
// Tree construction and path generation live entirely on the host side; the
// core only ever calls the two verification methods.
type PathVerifier interface {
	// VerifyTxPath checks txPath proves some transaction's inclusion in
	// txRoot at offsetInBlock, within [0, blockSize). It returns the
	// transaction's data_root and its [start, end) byte range in the block.
	VerifyTxPath(txRoot [32]byte, txPath []byte, offsetInBlock, blockSize uint64) (dataRoot [32]byte, txStart, txEnd uint64, err error)

	// VerifyDataPath checks dataPath proves some chunk's inclusion in
	// dataRoot at offsetInTx, within [0, txSize). It returns the chunk's
	// content id and its [start, end) byte range within the transaction.
	VerifyDataPath(dataRoot [32]byte, dataPath []byte, offsetInTx, txSize uint64) (chunkID [32]byte, chunkStart, chunkEnd uint64, err error)
}

// ChunkIDFunc computes the content id a chunk's data path is expected to
// terminate at (the host's chunk-hashing scheme).
type ChunkIDFunc func(chunk []byte) [32]byte

// Validator composes PathVerifier with the chunk-size ceiling and
// chunk-identity check spec.md §4.3 requires around it.
type Validator struct {
	Verifier      PathVerifier
	ChunkID       ChunkIDFunc
	DataChunkSize uint64
}

// Result is the successful outcome of ValidateProof.
type Result struct {
	DataRoot    [32]byte
	TxStart     uint64
	ChunkEnd    uint64 // end offset of the chunk within the transaction
	TxSize      uint64
}

// ValidateProof implements spec.md §4.3's validate_proof: verify the tx path
// at offsetInBlock within [0, blockSize), recover the containing
// transaction's bounds, then verify the data path at the chunk's offset
// within that transaction.
func (v *Validator) ValidateProof(txRoot [32]byte, txPath, dataPath []byte, offsetInBlock uint64, chunk []byte, blockSize uint64) (Result, error) {
	if uint64(len(chunk)) > v.DataChunkSize {
		return Result{}, ErrInvalidProof
	}
	dataRoot, txStart, txEnd, err := v.Verifier.VerifyTxPath(txRoot, txPath, offsetInBlock, blockSize)
	if err != nil {
		return Result{}, ErrInvalidProof
	}
	if offsetInBlock < txStart || offsetInBlock >= txEnd {
		return Result{}, ErrInvalidProof
	}
	txSize := txEnd - txStart
	chunkOffsetInTx := offsetInBlock - txStart

	chunkEnd, err := v.validateDataPath(dataRoot, chunkOffsetInTx, txSize, dataPath, chunk)
	if err != nil {
		return Result{}, err
	}
	return Result{DataRoot: dataRoot, TxStart: txStart, ChunkEnd: chunkEnd, TxSize: txSize}, nil
}

// ValidateDataPath implements spec.md §4.3's validate_data_path: verify a
// chunk's inclusion within a single transaction, independent of any
// enclosing block.
func (v *Validator) ValidateDataPath(dataRoot [32]byte, offsetInTx, txSize uint64, dataPath, chunk []byte) (chunkEnd uint64, err error) {
	return v.validateDataPath(dataRoot, offsetInTx, txSize, dataPath, chunk)
}

func (v *Validator) validateDataPath(dataRoot [32]byte, offsetInTx, txSize uint64, dataPath, chunk []byte) (uint64, error) {
	if uint64(len(chunk)) > v.DataChunkSize {
		return 0, ErrInvalidProof
	}
	chunkID, chunkStart, chunkEnd, err := v.Verifier.VerifyDataPath(dataRoot, dataPath, offsetInTx, txSize)
	if err != nil {
		return 0, ErrInvalidProof
	}
	if chunkEnd-chunkStart != uint64(len(chunk)) {
		return 0, ErrInvalidProof
	}
	if chunkID != v.ChunkID(chunk) {
		return 0, ErrInvalidProof
	}
	return chunkEnd, nil
}
