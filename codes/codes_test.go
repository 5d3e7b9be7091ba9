package codes

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, prefix string, start, end int) []Item {
	t.Helper()
	seq, err := Expand(prefix, start, end)
	require.NoError(t, err)
	var items []Item
	for it := range seq {
		items = append(items, it)
	}
	return items
}

func TestExpand_LengthTextAndIndices(t *testing.T) {
	cases := []struct {
		prefix     string
		start, end int
	}{
		{"R13-", 1, 12},
		{"R13-", 1, 51},
		{"", 0, 0},
		{"X", -3, 2},
		{"SDS-", 998, 1002},
	}
	for _, tc := range cases {
		t.Run(tc.prefix+strconv.Itoa(tc.start), func(t *testing.T) {
			items := collect(t, tc.prefix, tc.start, tc.end)
			require.Len(t, items, tc.end-tc.start+1)
			for i, it := range items {
				assert.Equal(t, i, it.Index)
				assert.Equal(t, tc.prefix+strconv.Itoa(tc.start+i), it.Text)
			}
		})
	}
}

func TestExpand_Labels(t *testing.T) {
	items := collect(t, "R13-", 1, 12)
	assert.Equal(t, "R13-1", items[0].Text)
	assert.Equal(t, "R13-12", items[11].Text)
}

func TestExpand_InvalidRange(t *testing.T) {
	for _, tc := range []struct{ start, end int }{{5, 3}, {1, 0}, {0, -1}, {math.MinInt + 1, math.MinInt}} {
		seq, err := Expand("R", tc.start, tc.end)
		assert.Nil(t, seq)
		var rangeErr *InvalidRangeError
		require.True(t, errors.As(err, &rangeErr), "start=%d end=%d", tc.start, tc.end)
		assert.Equal(t, tc.start, rangeErr.Start)
		assert.Equal(t, tc.end, rangeErr.End)
	}
}

func TestRange_TooLarge(t *testing.T) {
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, Range{Start: 0, End: math.MaxInt}.Validate(), &rangeErr)
	require.ErrorAs(t, Range{Start: math.MinInt, End: 0}.Validate(), &rangeErr)
	require.NoError(t, Range{Start: 1, End: math.MaxInt}.Validate())
}

func TestRange_ItemsRestartableAndLazy(t *testing.T) {
	r := Range{Prefix: "A", Start: 1, End: 1_000_000_000}
	seq := r.Items()

	first := func() []string {
		var out []string
		for it := range seq {
			out = append(out, it.Text)
			if len(out) == 3 {
				break
			}
		}
		return out
	}
	assert.Equal(t, []string{"A1", "A2", "A3"}, first())
	assert.Equal(t, []string{"A1", "A2", "A3"}, first())
	assert.Equal(t, 1_000_000_000, r.Len())
	assert.Equal(t, Item{Index: 41, Text: "A42"}, r.At(41))
}

func TestRange_NoDeduplication(t *testing.T) {
	a := collect(t, "A1", 0, 0)
	b := collect(t, "A", 10, 10)
	assert.Equal(t, a[0].Text, b[0].Text)
}

func TestRange_String(t *testing.T) {
	assert.Equal(t, "R13-1..R13-51", Range{Prefix: "R13-", Start: 1, End: 51}.String())
}
