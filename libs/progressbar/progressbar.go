package progressbar

import (
	"fmt"
	"io"
	"os"
)

// Bar prints the progress of a long running loop over a closed interval of
// block numbers.
type Bar struct {
	percent int64  // progress percentage
	cur     int64  // current progress
	start   int64  // the init starting value for progress
	total   int64  // total value for progress
	rate    string // the actual progress bar to be printed
	graph   string // the fill value for progress bar
	out     io.Writer
}

func (bar *Bar) NewOption(start, total int64) {
	bar.cur = start
	bar.start = start
	bar.total = total
	bar.graph = "█"
	if bar.out == nil {
		bar.out = os.Stdout
	}
	bar.percent = bar.getPercent()
}

// SetOutput redirects the bar, stdout by default.
func (bar *Bar) SetOutput(w io.Writer) { bar.out = w }

func (bar *Bar) getPercent() int64 {
	if bar.total <= bar.start {
		return 100
	}
	return int64(float32(bar.cur-bar.start) / float32(bar.total-bar.start) * 100)
}

func (bar *Bar) Play(cur int64) {
	bar.cur = cur
	last := bar.percent
	bar.percent = bar.getPercent()
	if bar.percent != last && bar.percent%2 == 0 {
		bar.rate += bar.graph
	}
	fmt.Fprintf(bar.out, "\r[%-50s]%3d%% %8d/%d", bar.rate, bar.percent, bar.cur, bar.total)
}

func (bar *Bar) Finish() {
	fmt.Fprintln(bar.out)
}
