package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBlockRanges(t *testing.T) {
	assert.Nil(t, BlockRanges(10, 9, 5))
	assert.Equal(t, []BlockRange{{0, 0}}, BlockRanges(0, 0, 100))
	assert.Equal(t, []BlockRange{{0, 999}, {1000, 1999}, {2000, 2500}}, BlockRanges(0, 2500, 1000))
	assert.Equal(t, []BlockRange{{5, 5}, {6, 6}}, BlockRanges(5, 6, 0))
}

func TestBlockRangesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.Int64Range(0, 1_000_000).Draw(t, "from").(int64)
		to := rapid.Int64Range(from, from+50_000).Draw(t, "to").(int64)
		size := rapid.Int64Range(1, 5_000).Draw(t, "size").(int64)

		ranges := BlockRanges(from, to, size)
		if len(ranges) == 0 {
			t.Fatalf("no ranges for [%d, %d]", from, to)
		}
		if ranges[0].From != from || ranges[len(ranges)-1].To != to {
			t.Fatalf("ranges %v do not cover [%d, %d]", ranges, from, to)
		}
		for i, r := range ranges {
			if r.From > r.To || r.To-r.From+1 > size {
				t.Fatalf("bad range %v for size %d", r, size)
			}
			if i > 0 && r.From != ranges[i-1].To+1 {
				t.Fatalf("ranges %v and %v are not contiguous", ranges[i-1], r)
			}
		}
	})
}
