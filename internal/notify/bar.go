package notify

import (
	"fmt"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar renders item progress as a terminal progress bar. It draws one bar per
// run, so create a fresh Bar for each run. Phase updates without an item
// count are not drawn; the summary line prints once the bar is done.
type Bar struct {
	p   *mpb.Progress
	bar *mpb.Bar

	mu    sync.Mutex
	label string
}

func NewBar() *Bar {
	// In the future, we can add a check for os.Stdout TTY status
	return &Bar{p: mpb.New(mpb.WithWidth(64))}
}

func (b *Bar) Progress(title, message string, total, index int) {
	if total <= 0 {
		return
	}
	b.setLabel(message)
	if b.bar == nil {
		b.bar = b.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(title, decor.WC{W: len(title) + 1}),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string { return " " + b.currentLabel() }),
			),
		)
	}
	b.bar.SetCurrent(int64(index))
}

func (b *Bar) Complete(title, message string) {
	b.finish()
	fmt.Printf("%s: %s\n", title, message)
}

// Flush finishes the bar without printing a summary, releasing the terminal
// after runs that abort before completing.
func (b *Bar) Flush() error {
	b.finish()
	return nil
}

func (b *Bar) finish() {
	if b.bar != nil {
		// A negative total snaps the bar shut at its current position.
		b.bar.SetTotal(-1, true)
	}
	b.p.Wait()
}

func (b *Bar) setLabel(s string) {
	b.mu.Lock()
	b.label = s
	b.mu.Unlock()
}

func (b *Bar) currentLabel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label
}
