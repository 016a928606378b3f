// Package progress renders live CLI progress bars for in-flight transfers,
// one bar per queue entry, falling back to plain line-printing when stderr
// is not a terminal.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

func storeSpeed(addr *uint64, v float64) {
	atomic.StoreUint64(addr, math.Float64bits(v))
}

func loadSpeed(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// TransferUI renders one progress bar per queued transfer.
type TransferUI interface {
	// AddBar creates a bar for a newly queued transfer. arrow is "→" for an
	// outgoing send or "←" for an incoming receive.
	AddBar(queueID, arrow, label string, size int64) BarHandle

	// Wait blocks until every bar has completed.
	Wait()

	// Writer returns an io.Writer that prints above the active bars without
	// corrupting their rendering.
	Writer() io.Writer

	// IsTerminal reports whether bars are actually being drawn.
	IsTerminal() bool
}

// BarHandle updates one transfer's progress bar.
type BarHandle interface {
	SetTransferred(bytes int64)
	SetSpeed(bytesPerSecond float64)
	SetStatus(status string)
	Complete(err error)
}

// UI is the mpb-backed TransferUI used by the daemon's CLI front-end.
type UI struct {
	progress   *mpb.Progress
	bars       sync.Map // queueID -> *bar
	isTerminal bool
}

// New creates a UI; when stderr is not a terminal, bars are suppressed and
// callers get plain-text start/complete lines instead.
func New() *UI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &UI{progress: p, isTerminal: isTerminal}
}

type bar struct {
	mpbBar    *mpb.Bar
	ui        *UI
	queueID   string
	label     string
	size      int64
	startTime time.Time

	speedBits uint64 // atomic, math.Float64bits
	status    atomic.Value
}

// AddBar creates a bar for queueID; size of 0 renders an indeterminate bar.
func (u *UI) AddBar(queueID, arrow, label string, size int64) BarHandle {
	b := &bar{
		ui:        u,
		queueID:   queueID,
		label:     label,
		size:      size,
		startTime: time.Now(),
	}
	b.status.Store("")

	if u.isTerminal {
		total := size
		if total <= 0 {
			total = 1
		}
		b.mpbBar = u.progress.New(total,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					st := b.status.Load().(string)
					base := fmt.Sprintf("%s %s (%.1f MiB)", arrow, truncatePath(label, 2), float64(size)/(1024*1024))
					if st != "" {
						return fmt.Sprintf("%s [%s]", base, st)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.Any(func(s decor.Statistics) string {
					mbps := loadSpeed(&b.speedBits) / (1024 * 1024)
					return fmt.Sprintf("%.1f MiB/s", mbps)
				}, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s (%.1f MiB)\n", arrow, truncatePath(label, 2), float64(size)/(1024*1024))
	}

	u.bars.Store(queueID, b)
	return b
}

func (b *bar) SetTransferred(bytesTransferred int64) {
	if b.mpbBar != nil {
		b.mpbBar.SetCurrent(bytesTransferred)
	}
}

func (b *bar) SetSpeed(bytesPerSecond float64) {
	storeSpeed(&b.speedBits, bytesPerSecond)
}

func (b *bar) SetStatus(status string) {
	b.status.Store(status)
	if b.mpbBar != nil && status == "retrying" {
		b.mpbBar.SetRefill(b.mpbBar.Current())
	}
}

func (b *bar) Complete(err error) {
	elapsed := time.Since(b.startTime)
	speed := float64(b.size) / elapsed.Seconds() / (1024 * 1024)

	var msg string
	if err == nil {
		if b.mpbBar != nil {
			b.mpbBar.SetCurrent(b.size)
			b.mpbBar.SetTotal(b.size, true)
		}
		msg = fmt.Sprintf("done %s (%.1f MiB, %s, %.1f MiB/s)\n",
			truncatePath(b.label, 2), float64(b.size)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if b.mpbBar != nil {
			b.mpbBar.Abort(false)
		}
		msg = fmt.Sprintf("failed %s: %v\n", truncatePath(b.label, 2), err)
	}

	if b.ui.isTerminal && b.ui.progress != nil {
		b.ui.progress.Write([]byte(msg))
	} else {
		fmt.Fprint(os.Stderr, msg)
	}
}

// Wait blocks until every bar completes.
func (u *UI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns a writer that prints above the active bars.
func (u *UI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// IsTerminal reports whether bars are actually being rendered.
func (u *UI) IsTerminal() bool {
	return u.isTerminal
}

func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return path
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
