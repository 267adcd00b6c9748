// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monotone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequences(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
		want   [][]int
	}{
		{
			name:   "empty sequence",
			ranges: nil,
			want:   [][]int{{}},
		},
		{
			name:   "single coordinate",
			ranges: []Range{{0, 3}},
			want:   [][]int{{0}, {1}, {2}},
		},
		{
			name:   "two coordinates share a range",
			ranges: []Range{{0, 3}, {0, 3}},
			want:   [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 1}, {1, 2}, {2, 2}},
		},
		{
			name:   "disjoint ranges",
			ranges: []Range{{0, 2}, {2, 4}},
			want:   [][]int{{0, 2}, {0, 3}, {1, 2}, {1, 3}},
		},
		{
			name:   "later range below earlier values",
			ranges: []Range{{1, 3}, {0, 2}},
			want:   [][]int{{1, 1}},
		},
		{
			name:   "empty range",
			ranges: []Range{{0, 2}, {1, 1}},
			want:   nil,
		},
		{
			name:   "monotonicity forces backtracking",
			ranges: []Range{{0, 3}, {0, 1}, {0, 3}},
			want:   [][]int{{0, 0, 0}, {0, 0, 1}, {0, 0, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Collect(tt.ranges, 0))
		})
	}
}

func TestSequences_Limit(t *testing.T) {
	got := Collect([]Range{{0, 10}, {0, 10}}, 4)
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {0, 3}}, got)
}

func TestSequences_ExhaustedStaysExhausted(t *testing.T) {
	it := NewSequences([]Range{{0, 1}})
	require.True(t, it.Next())
	assert.False(t, it.Next())
	assert.False(t, it.Next())
}

func TestOdometer(t *testing.T) {
	o, err := NewOdometer([]int{2, 3})
	require.NoError(t, err)

	var got [][]int
	for o.Next() {
		got = append(got, append([]int(nil), o.Value()...))
	}
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, got)

	empty, err := NewOdometer([]int{2, 0})
	require.NoError(t, err)
	assert.False(t, empty.Next())

	unit, err := NewOdometer(nil)
	require.NoError(t, err)
	assert.True(t, unit.Next())
	assert.False(t, unit.Next())

	_, err = NewOdometer([]int{-1})
	assert.ErrorIs(t, err, ErrEmptyRange)
}
