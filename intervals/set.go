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
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/btree"
)

// ErrNoSuchPoint is returned by NthInnerPoint when n is out of range.
var ErrNoSuchPoint = errors.New("intervals: no such point")

// ErrInvalidFormat is returned by Deserialize on a malformed wire encoding.
var ErrInvalidFormat = errors.New("intervals: invalid format")

const degree = 32

// Set is a set of disjoint, non-touching half-open intervals, kept ordered
// by End so that the interval covering a given offset (if any) can be found
// in O(log n) via a single btree probe -- the same trick a get_next(key)
// lookup performs against a KV store keyed by end offset.
type Set struct {
	tree *btree.BTreeG[Interval]
}

func less(a, b Interval) bool { return a.End < b.End }

// New returns an empty interval set.
func New() *Set {
	return &Set{tree: btree.NewG[Interval](degree, less)}
}

// Clone returns a deep (structural) copy; the underlying btree nodes are
// copy-on-write so this is cheap.
func (s *Set) Clone() *Set {
	return &Set{tree: s.tree.Clone()}
}

func (s *Set) overlappingForAdd(start, end Offset) []Interval {
	var hits []Interval
	s.tree.AscendGreaterOrEqual(Interval{End: start}, func(iv Interval) bool {
		if iv.Start > end {
			return false
		}
		hits = append(hits, iv)
		return true
	})
	return hits
}

// Add inserts [start, end), fusing any existing interval it overlaps or
// touches. Panics if end <= start, matching the caller contract in spec.md
// ("requires End > Start").
func (s *Set) Add(end, start Offset) {
	if end <= start {
		panic(fmt.Sprintf("intervals: Add requires end > start, got end=%d start=%d", end, start))
	}
	newStart, newEnd := start, end
	for _, iv := range s.overlappingForAdd(start, end) {
		s.tree.Delete(iv)
		if iv.Start < newStart {
			newStart = iv.Start
		}
		if iv.End > newEnd {
			newEnd = iv.End
		}
	}
	s.tree.ReplaceOrInsert(Interval{Start: newStart, End: newEnd})
}

func (s *Set) overlappingForDelete(start, end Offset) []Interval {
	var hits []Interval
	s.tree.AscendGreaterOrEqual(Interval{End: start + 1}, func(iv Interval) bool {
		if iv.Start >= end {
			return false
		}
		hits = append(hits, iv)
		return true
	})
	return hits
}

// Delete subtracts [start, end) from the set, reinserting up to two residual
// intervals for every interval it overlaps.
func (s *Set) Delete(end, start Offset) {
	if end <= start {
		panic(fmt.Sprintf("intervals: Delete requires end > start, got end=%d start=%d", end, start))
	}
	for _, iv := range s.overlappingForDelete(start, end) {
		s.tree.Delete(iv)
		if left := (Interval{Start: iv.Start, End: min64(start, iv.End)}); left.End > left.Start {
			s.tree.ReplaceOrInsert(left)
		}
		if right := (Interval{Start: max64(end, iv.Start), End: iv.End}); right.End > right.Start {
			s.tree.ReplaceOrInsert(right)
		}
	}
}

// Cut removes every interval strictly above c, truncating any interval that
// straddles c to its left part.
func (s *Set) Cut(c Offset) {
	var toDelete []Interval
	var toTruncate []Interval
	s.tree.AscendGreaterOrEqual(Interval{End: c}, func(iv Interval) bool {
		if iv.Start >= c {
			toDelete = append(toDelete, iv)
		} else {
			toTruncate = append(toTruncate, iv)
		}
		return true
	})
	for _, iv := range toDelete {
		s.tree.Delete(iv)
	}
	for _, iv := range toTruncate {
		s.tree.Delete(iv)
		s.tree.ReplaceOrInsert(Interval{Start: iv.Start, End: c})
	}
}

// IsInside reports whether n is covered: some interval has Start < n <= End.
// Left-exclusive, right-inclusive: chunk keys are END offsets, so "byte n is
// covered" means "the chunk ending at some E>=n starts at some S<n".
func (s *Set) IsInside(n Offset) bool {
	found := false
	s.tree.AscendGreaterOrEqual(Interval{End: n}, func(iv Interval) bool {
		found = iv.Start < n
		return false
	})
	return found
}

// Sum returns the total covered length.
func (s *Set) Sum() uint64 {
	var total uint64
	s.tree.Ascend(func(iv Interval) bool {
		total += iv.Len()
		return true
	})
	return total
}

// Count returns the number of intervals.
func (s *Set) Count() int { return s.tree.Len() }

// IsEmpty reports whether the set has no intervals.
func (s *Set) IsEmpty() bool { return s.tree.Len() == 0 }

// TakeLargest returns the interval with the greatest length, breaking ties by
// the smallest Start, and whether any interval exists.
func (s *Set) TakeLargest() (Interval, bool) {
	var best Interval
	found := false
	s.tree.Ascend(func(iv Interval) bool {
		if !found || iv.Len() > best.Len() || (iv.Len() == best.Len() && iv.Start < best.Start) {
			best = iv
			found = true
		}
		return true
	})
	return best, found
}

// Intervals returns all intervals ascending by End.
func (s *Set) Intervals() []Interval {
	out := make([]Interval, 0, s.tree.Len())
	s.tree.Ascend(func(iv Interval) bool {
		out = append(out, iv)
		return true
	})
	return out
}

// Inverse returns the complement of s over [0, +Infinity). The topmost
// interval's End is Infinity.
func (s *Set) Inverse() *Set {
	out := New()
	prevEnd := Offset(0)
	s.tree.Ascend(func(iv Interval) bool {
		if iv.Start > prevEnd {
			out.tree.ReplaceOrInsert(Interval{Start: prevEnd, End: iv.Start})
		}
		prevEnd = iv.End
		return true
	})
	out.tree.ReplaceOrInsert(Interval{Start: prevEnd, End: Infinity})
	return out
}

// interiorGaps returns the gap between every pair of consecutive intervals,
// i.e. the finite, neighbor-bounded subset of Inverse(s) -- it excludes the
// unbounded [0, firstStart) and [lastEnd, +Infinity) edges, since Compact
// only ever fuses a pair of existing neighbors, never extends to the origin.
func (s *Set) interiorGaps() []Interval {
	ivs := s.Intervals()
	if len(ivs) < 2 {
		return nil
	}
	out := make([]Interval, 0, len(ivs)-1)
	for i := 1; i < len(ivs); i++ {
		out = append(out, Interval{Start: ivs[i-1].End, End: ivs[i].Start})
	}
	return out
}

// Intersection returns the maximal subintervals common to both a and b via a
// coordinated two-pointer walk in ascending order.
func Intersection(a, b *Set) *Set {
	out := New()
	ai, bi := a.Intervals(), b.Intervals()
	i, j := 0, 0
	for i < len(ai) && j < len(bi) {
		x, y := ai[i], bi[j]
		start := max64(x.Start, y.Start)
		end := min64(x.End, y.End)
		if start < end {
			out.tree.ReplaceOrInsert(Interval{Start: start, End: end})
		}
		if x.End < y.End {
			i++
		} else {
			j++
		}
	}
	return out
}

// OuterJoin returns the bytes in b that are not in a.
func OuterJoin(a, b *Set) *Set {
	return Intersection(a.Inverse(), b)
}

// NthInnerPoint walks intervals in ascending End order, returning
// (Start, Start+residual, End) for the interval containing the nth covered
// byte (0-indexed). Fails with ErrNoSuchPoint if n >= Sum(s).
func (s *Set) NthInnerPoint(n uint64) (start, byteOffset, end Offset, err error) {
	var running uint64
	result := false
	s.tree.Ascend(func(iv Interval) bool {
		length := iv.Len()
		if n < running+length {
			residual := n - running
			start, byteOffset, end = iv.Start, iv.Start+residual, iv.End
			result = true
			return false
		}
		running += length
		return true
	})
	if !result {
		return 0, 0, 0, ErrNoSuchPoint
	}
	return start, byteOffset, end, nil
}

// Compact reduces the set to at most limit intervals by fusing in the
// smallest gaps between neighbors, returning the absorbed gaps. If the set
// already has <= limit intervals it is returned unchanged.
func (s *Set) Compact(limit int) (absorbed []Interval, out *Set) {
	if s.Count() <= limit {
		return nil, s.Clone()
	}
	gaps := s.interiorGaps()
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Len() != gaps[j].Len() {
			return gaps[i].Len() < gaps[j].Len()
		}
		return gaps[i].Start < gaps[j].Start
	})
	need := s.Count() - limit
	if need > len(gaps) {
		need = len(gaps)
	}
	chosen := gaps[:need]
	out = s.Clone()
	for _, g := range chosen {
		out.Add(g.End, g.Start)
	}
	return chosen, out
}

func min64(a, b Offset) Offset {
	if a < b {
		return a
	}
	return b
}

func max64(a, b Offset) Offset {
	if a > b {
		return a
	}
	return b
}

// descending returns the set's intervals ordered by descending End, matching
// the traversal order the reference implementation serializes in.
func (s *Set) descending() []Interval {
	out := make([]Interval, 0, s.tree.Len())
	s.tree.Descend(func(iv Interval) bool {
		out = append(out, iv)
		return true
	})
	return out
}

// sample picks up to limit intervals from ivs independently with probability
// limit/len(ivs), preserving relative order, stopping once limit have been
// picked. rng may be nil, in which case a new source seeded from the
// package-level one is used.
func sample(ivs []Interval, limit int, rng *rand.Rand) []Interval {
	if limit <= 0 || len(ivs) == 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	p := float64(limit) / float64(len(ivs))
	out := make([]Interval, 0, limit)
	for _, iv := range ivs {
		if len(out) >= limit {
			break
		}
		if rng.Float64() < p {
			out = append(out, iv)
		}
	}
	return out
}
