// Package codes expands a prefix and an inclusive numeric range into the
// ordered sequence of code strings printed on a sheet.
//
// Expansion does not deduplicate: prefixes such as "A1" with start 0 and
// "A" with start 10 produce colliding text, and callers that combine ranges
// must check for that themselves.
package codes

import (
	"fmt"
	"iter"
	"math"
	"strconv"
)

// Item is one code in a range. Index is its zero-based position.
type Item struct {
	Index int
	Text  string
}

// Range is an inclusive numeric range with a text prefix.
type Range struct {
	Prefix string
	Start  int
	End    int
}

// InvalidRangeError reports a range that cannot be expanded.
type InvalidRangeError struct {
	Start  int
	End    int
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %d..%d: %s", e.Start, e.End, e.Reason)
}

// Validate checks that the range is non-empty and its length fits in an int.
func (r Range) Validate() error {
	if r.End < r.Start {
		return &InvalidRangeError{Start: r.Start, End: r.End, Reason: "end is before start"}
	}
	if r.Start < 0 && r.End > math.MaxInt+r.Start-1 {
		return &InvalidRangeError{Start: r.Start, End: r.End, Reason: "range too large"}
	}
	if r.Start >= 0 && r.End-r.Start == math.MaxInt {
		return &InvalidRangeError{Start: r.Start, End: r.End, Reason: "range too large"}
	}
	return nil
}

// Len is the number of items in a valid range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// At returns item i without checking bounds.
func (r Range) At(i int) Item {
	return Item{Index: i, Text: r.Prefix + strconv.Itoa(r.Start+i)}
}

// Items yields every item in index order. The sequence is lazy and can be
// ranged over any number of times.
func (r Range) Items() iter.Seq[Item] {
	n := r.Len()
	return func(yield func(Item) bool) {
		for i := 0; i < n; i++ {
			if !yield(r.At(i)) {
				return
			}
		}
	}
}

// String summarizes the range as "prefix start..end".
func (r Range) String() string {
	return fmt.Sprintf("%s%d..%s%d", r.Prefix, r.Start, r.Prefix, r.End)
}

// Expand validates the range and returns its items.
func Expand(prefix string, start, end int) (iter.Seq[Item], error) {
	r := Range{Prefix: prefix, Start: start, End: end}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r.Items(), nil
}
