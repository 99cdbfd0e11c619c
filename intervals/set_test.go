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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1
func TestScenario_S1(t *testing.T) {
	s := New()
	s.Add(2, 1)
	assert.Equal(t, uint64(1), s.Sum())
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.IsInside(2))
	assert.False(t, s.IsInside(1))
	assert.False(t, s.IsInside(3))

	start, b, end, err := s.NthInnerPoint(0)
	require.NoError(t, err)
	assert.Equal(t, Interval{Start: 1, End: 2}, Interval{Start: start, End: end})
	assert.Equal(t, Offset(1), b)
}

// S2
func TestScenario_S2(t *testing.T) {
	s := New()
	s.Add(2, 1)
	s.Add(6, 3)
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, uint64(4), s.Sum())
	assert.True(t, s.IsInside(4))
	assert.False(t, s.IsInside(3))

	absorbed, compacted := s.Compact(1)
	require.Len(t, absorbed, 1)
	assert.Equal(t, Interval{Start: 2, End: 3}, absorbed[0])
	assert.Equal(t, []Interval{{Start: 1, End: 6}}, compacted.Intervals())
}

// S3
func TestScenario_S3(t *testing.T) {
	s := New()
	s.Add(3, 1)
	s.Add(12, 8)
	s.Add(25, 22)
	s.Add(27, 26)
	absorbed, compacted := s.Compact(3)
	require.Len(t, absorbed, 1)
	assert.Equal(t, Interval{Start: 25, End: 26}, absorbed[0])
	assert.Equal(t, []Interval{{Start: 1, End: 3}, {Start: 8, End: 12}, {Start: 22, End: 27}}, compacted.Intervals())
}

// S4
func TestScenario_S4(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(10, 9)
	absorbed, compacted := s.Compact(1)
	require.Len(t, absorbed, 1)
	assert.Equal(t, Interval{Start: 5, End: 9}, absorbed[0])
	assert.Equal(t, []Interval{{Start: 3, End: 10}}, compacted.Intervals())
}

// S5
func TestScenario_S5(t *testing.T) {
	s := New()
	s.Add(4, 2)
	s.Add(8, 6)
	s.Delete(7, 3)
	assert.Equal(t, []Interval{{Start: 2, End: 3}, {Start: 7, End: 8}}, s.Intervals())
}

// S6
func TestScenario_S6(t *testing.T) {
	s := New()
	s.Add(6, 3)
	s.Add(2, 1)
	data, err := s.Serialize(10, FormatJSON, nil)
	require.NoError(t, err)
	var got []map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	want := []map[string]string{{"6": "3"}, {"2": "1"}}
	assert.Equal(t, want, got)
}

func TestAddFusesTouchingIntervals(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(3, 1) // touches at 3
	assert.Equal(t, []Interval{{Start: 1, End: 5}}, s.Intervals())
}

func TestIsInsideLeftExclusiveRightInclusive(t *testing.T) {
	s := New()
	s.Add(10, 5)
	assert.False(t, s.IsInside(5))
	assert.True(t, s.IsInside(6))
	assert.True(t, s.IsInside(10))
	assert.False(t, s.IsInside(11))
}

// P3 (partial, finite slice): a set and its inverse are disjoint, and the
// inverse plus the set's own ranges fills to a single interval.
func TestInverseAndIntersection(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(20, 15)

	inv := s.Inverse()
	assert.True(t, Intersection(s, inv).IsEmpty())

	// add(inverse(S), infinity, 0) covers everything s does, plus the gaps.
	withGapFilled := inv.Clone()
	withGapFilled.Add(Infinity, 0)
	assert.Equal(t, uint64(1), withGapFilled.Count())
}

func TestOuterJoin(t *testing.T) {
	mine := New()
	mine.Add(5, 0)
	theirs := New()
	theirs.Add(10, 0)
	missing := OuterJoin(mine, theirs)
	assert.Equal(t, []Interval{{Start: 5, End: 10}}, missing.Intervals())
}

func TestNthInnerPointStrictlyIncreasing(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(20, 15)
	var prev Offset
	for n := uint64(0); n < s.Sum(); n++ {
		_, b, _, err := s.NthInnerPoint(n)
		require.NoError(t, err)
		if n > 0 {
			assert.Greater(t, b, prev)
		}
		prev = b
	}
	_, _, _, err := s.NthInnerPoint(s.Sum())
	assert.ErrorIs(t, err, ErrNoSuchPoint)
}

func TestSerializeRoundTrip(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(20, 15)
	s.Add(100, 90)

	data, err := s.Serialize(s.Count(), FormatBinary, nil)
	require.NoError(t, err)
	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, s.Intervals(), got.Intervals())
}

func TestSerializeZeroLimit(t *testing.T) {
	s := New()
	s.Add(5, 3)
	data, err := s.Serialize(0, FormatBinary, nil)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDeserializeRejectsOutOfOrder(t *testing.T) {
	// (End=3,Start=1) then (End=6,Start=3): increasing End, should be rejected.
	s := New()
	s.Add(3, 1)
	data, _ := s.Serialize(1, FormatBinary, nil)
	s2 := New()
	s2.Add(6, 3)
	data2, _ := s2.Serialize(1, FormatBinary, nil)
	_, err := Deserialize(append(data, data2...))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDeserializeRejectsEndLessEqualStart(t *testing.T) {
	bad := make([]byte, 64)
	bad[31] = 5 // End = 5
	bad[63] = 5 // Start = 5, End <= Start
	_, err := Deserialize(bad)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestCompactNoopUnderLimit(t *testing.T) {
	s := New()
	s.Add(5, 3)
	absorbed, out := s.Compact(5)
	assert.Nil(t, absorbed)
	assert.Equal(t, s.Intervals(), out.Intervals())
}

func TestCutStraddling(t *testing.T) {
	s := New()
	s.Add(10, 0)
	s.Add(30, 20)
	s.Cut(5)
	assert.Equal(t, []Interval{{Start: 0, End: 5}}, s.Intervals())
}

func TestTakeLargest(t *testing.T) {
	s := New()
	s.Add(5, 3)
	s.Add(100, 50)
	largest, ok := s.TakeLargest()
	require.True(t, ok)
	assert.Equal(t, Interval{Start: 50, End: 100}, largest)
}
