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

// Package intervals implements the half-open interval set used as the weave
// sync record: a set of disjoint, non-touching [Start, End) ranges over
// non-negative offsets, stored sorted by End.
package intervals

import "math"

// Offset is a position in the weave. 64 bits is enough for any realistic
// weave size; wire encoding still zero-extends to a fixed-width field (see
// Serialize), matching the host's 256-bit offset convention.
type Offset = uint64

// Infinity is the End value used internally by Inverse for the top, unbounded
// interval. It is never a valid End for a finite interval and must never be
// serialized.
const Infinity = math.MaxUint64

// Interval is a half-open range [Start, End) with End > Start >= 0.
type Interval struct {
	Start Offset
	End   Offset
}

func (iv Interval) Len() uint64 {
	if iv.End <= iv.Start {
		return 0
	}
	return iv.End - iv.Start
}

// touches reports whether iv and other share a boundary or overlap, i.e.
// whether merging them is required to keep the set's no-touching invariant.
func (iv Interval) touches(other Interval) bool {
	return iv.End >= other.Start && iv.Start <= other.End
}
