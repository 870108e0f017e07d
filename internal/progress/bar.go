package progress

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"dbferry/internal/logging"
)

// Bar renders copy progress in the terminal.
type Bar struct {
	bar       *progressbar.ProgressBar
	startTime time.Time
	copied    int64
}

// NewBar creates a terminal progress bar for total rows. A non-positive
// total renders a spinner-style bar without a bound.
func NewBar(total int64) *Bar {
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Copying"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &Bar{bar: bar, startTime: time.Now()}
}

// SetTable updates the bar description with the current table.
func (b *Bar) SetTable(name string) {
	b.bar.Describe(fmt.Sprintf("Copying %s", name))
}

// Add advances the bar by n rows.
func (b *Bar) Add(n int64) {
	b.copied += n
	b.bar.Add64(n)
}

// Finish completes the bar and logs the throughput summary.
func (b *Bar) Finish() {
	b.bar.Finish()

	elapsed := time.Since(b.startTime)
	rowsPerSec := float64(b.copied) / elapsed.Seconds()

	fmt.Println()
	logging.Info("Copy complete: %d rows in %s (%.0f rows/sec)",
		b.copied, elapsed.Round(time.Second), rowsPerSec)
}
