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

package intervals

import (
	"encoding/json"
	"math/rand"
	"strconv"

	"github.com/holiman/uint256"
)

// Format selects a wire encoding for Serialize/Deserialize.
type Format int

const (
	// FormatBinary packs each interval as a 32-byte big-endian End followed
	// by a 32-byte big-endian Start, matching the compatibility-critical
	// wire format of spec.md §6.
	FormatBinary Format = iota
	// FormatJSON encodes the set as a JSON array of single-key objects,
	// {"<End decimal>":"<Start decimal>"}, ordered by descending End.
	FormatJSON
)

// Serialize emits at most limit intervals. If Count() <= limit every
// interval is emitted; otherwise each interval is sampled independently with
// probability limit/Count(), stopping once limit have been emitted. Output
// order is always descending End, matching the set's canonical traversal.
// rng may be nil to use a freshly seeded source.
func (s *Set) Serialize(limit int, format Format, rng *rand.Rand) ([]byte, error) {
	ivs := s.descending()
	if s.Count() > limit {
		ivs = sample(ivs, limit, rng)
	}
	switch format {
	case FormatBinary:
		return encodeBinary(ivs), nil
	case FormatJSON:
		return encodeJSON(ivs)
	default:
		return nil, ErrInvalidFormat
	}
}

func encodeBinary(ivs []Interval) []byte {
	out := make([]byte, 0, len(ivs)*64)
	for _, iv := range ivs {
		endB := uint256.NewInt(iv.End).Bytes32()
		startB := uint256.NewInt(iv.Start).Bytes32()
		out = append(out, endB[:]...)
		out = append(out, startB[:]...)
	}
	return out
}

func encodeJSON(ivs []Interval) ([]byte, error) {
	// Each element carries exactly one key, so encoding/json's alphabetical
	// key sort within an object is moot; the outer array preserves order.
	entries := make([]map[string]string, len(ivs))
	for i, iv := range ivs {
		entries[i] = map[string]string{
			strconv.FormatUint(iv.End, 10): strconv.FormatUint(iv.Start, 10),
		}
	}
	if entries == nil {
		entries = []map[string]string{}
	}
	return json.Marshal(entries)
}

// Deserialize parses a binary-encoded sequence produced by Serialize with
// FormatBinary. It accepts only sequences where every (End, Start) satisfies
// End > Start >= 0, the sequence is strictly decreasing in End, and the
// resulting intervals are disjoint and non-touching once reinserted.
func Deserialize(data []byte) (*Set, error) {
	if len(data)%64 != 0 {
		return nil, ErrInvalidFormat
	}
	n := len(data) / 64
	pairs := make([]Interval, n)
	for i := 0; i < n; i++ {
		chunk := data[i*64 : (i+1)*64]
		var endU, startU uint256.Int
		endU.SetBytes(chunk[:32])
		startU.SetBytes(chunk[32:64])
		if !endU.IsUint64() || !startU.IsUint64() {
			return nil, ErrInvalidFormat
		}
		end, start := endU.Uint64(), startU.Uint64()
		if end <= start {
			return nil, ErrInvalidFormat
		}
		pairs[i] = Interval{Start: start, End: end}
	}
	for i := 1; i < n; i++ {
		if pairs[i].End >= pairs[i-1].End {
			return nil, ErrInvalidFormat
		}
	}
	out := New()
	for _, iv := range pairs {
		out.Add(iv.End, iv.Start)
	}
	if out.Count() != n {
		// Some pair fused with another on reinsertion: the serialized form
		// was not actually disjoint/non-touching.
		return nil, ErrInvalidFormat
	}
	return out, nil
}
