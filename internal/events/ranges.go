package events

// BlockRange is an inclusive span of blocks.
type BlockRange struct {
	From int64
	To   int64
}

// BlockRanges splits [from, to] into contiguous, non-overlapping ranges of
// at most size blocks, in ascending order.
func BlockRanges(from, to, size int64) []BlockRange {
	if from > to {
		return nil
	}
	if size < 1 {
		size = 1
	}
	out := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to || end < start { // overflow
			end = to
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == to {
			break
		}
	}
	return out
}
