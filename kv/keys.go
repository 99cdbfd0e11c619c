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
	"encoding/binary"

	"github.com/holiman/uint256"
)

// NoteSize is the deployment-wide width, in bytes, of every offset key and
// of the tx_size field inside a DataRootIndex key. 32 bytes (256 bits)
// matches the host's wire-level offset representation (spec.md §3).
const NoteSize = 32

// EncodeOffsetKey big-endian-encodes off into a fixed NoteSize-byte key so
// that lexicographic order equals numeric order.
func EncodeOffsetKey(off uint64) []byte {
	var buf [NoteSize]byte
	u := uint256.NewInt(off)
	b := u.Bytes32()
	copy(buf[:], b[:])
	return buf[:]
}

// DecodeOffsetKey is the inverse of EncodeOffsetKey. It returns false if key
// is the wrong width or encodes a value too large to fit a 64-bit offset.
func DecodeOffsetKey(key []byte) (uint64, bool) {
	if len(key) != NoteSize {
		return 0, false
	}
	var u uint256.Int
	u.SetBytes(key)
	if !u.IsUint64() {
		return 0, false
	}
	return u.Uint64(), true
}

// DataRootKey identifies a confirmed or pending (data_root, tx_size) pair.
type DataRootKey struct {
	DataRoot [32]byte
	TxSize   uint64
}

// Encode concatenates the data_root bytes with a NoteSize-byte big-endian
// tx_size, per spec.md §6's DataRootIndex key format.
func (k DataRootKey) Encode() []byte {
	out := make([]byte, 0, 32+NoteSize)
	out = append(out, k.DataRoot[:]...)
	out = append(out, EncodeOffsetKey(k.TxSize)...)
	return out
}

// DecodeDataRootKey is the inverse of Encode.
func DecodeDataRootKey(b []byte) (DataRootKey, bool) {
	if len(b) != 32+NoteSize {
		return DataRootKey{}, false
	}
	var k DataRootKey
	copy(k.DataRoot[:], b[:32])
	txSize, ok := DecodeOffsetKey(b[32:])
	if !ok {
		return DataRootKey{}, false
	}
	k.TxSize = txSize
	return k, true
}

// EncodeDiskPoolKey concatenates a NoteSize-byte big-endian timestamp
// (microseconds) with the data_path_hash, the DiskPoolChunksIndex key.
func EncodeDiskPoolKey(timestampUs uint64, dataPathHash [32]byte) []byte {
	out := make([]byte, 0, NoteSize+32)
	out = append(out, EncodeOffsetKey(timestampUs)...)
	out = append(out, dataPathHash[:]...)
	return out
}

// DecodeDiskPoolKey is the inverse of EncodeDiskPoolKey.
func DecodeDiskPoolKey(b []byte) (timestampUs uint64, hash [32]byte, ok bool) {
	if len(b) != NoteSize+32 {
		return 0, hash, false
	}
	ts, ok := DecodeOffsetKey(b[:NoteSize])
	if !ok {
		return 0, hash, false
	}
	copy(hash[:], b[NoteSize:])
	return ts, hash, true
}

// EncodeTxID encodes a tx_id as a fixed-width big-endian key, for TXIndex.
func EncodeTxID(txID uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], txID)
	return buf[:]
}

// DecodeTxID is the inverse of EncodeTxID.
func DecodeTxID(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
