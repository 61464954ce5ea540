// Package idrange maps an inclusive range of post IDs to request targets
// and partitions it into sequential batches.
package idrange

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrInvalidRange is returned when a range has start > end or negative IDs.
var ErrInvalidRange = errors.New("invalid id range")

// Range is an inclusive, immutable range of post IDs.
type Range struct {
	Start int
	End   int
}

// New validates and returns the range [start, end].
func New(start, end int) (Range, error) {
	if start < 0 || end < 0 {
		return Range{}, fmt.Errorf("%w: ids must be non-negative (got %d-%d)", ErrInvalidRange, start, end)
	}
	if start > end {
		return Range{}, fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start, end)
	}
	if end-start == math.MaxInt {
		return Range{}, fmt.Errorf("%w: %d-%d holds more than %d ids", ErrInvalidRange, start, end, math.MaxInt)
	}
	return Range{Start: start, End: end}, nil
}

// Single returns the range holding exactly one ID.
func Single(id int) Range {
	return Range{Start: id, End: id}
}

// Len returns the number of IDs in the range, saturating at math.MaxInt.
func (r Range) Len() int {
	n := r.End - r.Start
	if n == math.MaxInt {
		return n
	}
	return n + 1
}

// Contains reports whether id lies inside the range.
func (r Range) Contains(id int) bool {
	return id >= r.Start && id <= r.End
}

// IsSingle reports whether the range covers a single ID.
func (r Range) IsSingle() bool {
	return r.Start == r.End
}

// String formats the range as "start-end", or "start" for a single ID.
func (r Range) String() string {
	if r.IsSingle() {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// IDs yields every ID in ascending order.
func (r Range) IDs() iter.Seq[int] {
	return func(yield func(int) bool) {
		if r.Start > r.End {
			return
		}
		for id := r.Start; ; id++ {
			if !yield(id) || id == r.End {
				return
			}
		}
	}
}

// Split yields contiguous sub-ranges of at most size IDs, in ascending order.
// A size <= 0 disables batching and yields r itself.
func Split(r Range, size int) iter.Seq[Range] {
	return func(yield func(Range) bool) {
		if size <= 0 || size >= r.Len() {
			yield(r)
			return
		}
		for lo := r.Start; ; {
			hi := r.End
			if r.End-lo >= size {
				hi = lo + size - 1
			}
			if !yield(Range{Start: lo, End: hi}) || hi == r.End {
				return
			}
			lo = hi + 1
		}
	}
}

// BatchCount returns how many batches Split yields for the given size.
func BatchCount(r Range, size int) int {
	if size <= 0 || size >= r.Len() {
		return 1
	}
	return (r.Len()-1)/size + 1
}
