// Package notify delivers run progress and completion events to the user.
//
// The engine talks to a single Notifier; concrete implementations render to
// the terminal (Bar), to the structured log (Log), or push completion
// summaries to HTTP endpoints (Webhook, Slack). Multi fans out to several of
// them at once.
package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lupppig/appvault/internal/logger"
)

// Notifier receives progress events during a run and a summary when it ends.
//
// Progress is called once per processed item with the item's label, the total
// item count and the 1-based position. Phase updates that carry no item count
// use total == 0. Complete fires once after postprocessing with the run
// summary. Implementations must not block the caller; slow deliveries happen
// asynchronously and are collected by Flush.
type Notifier interface {
	Progress(title, message string, total, index int)
	Complete(title, message string)
}

// Flusher is implemented by notifiers that deliver asynchronously. Flush
// blocks until all in-flight deliveries finish and returns their joined
// errors.
type Flusher interface {
	Flush() error
}

// Flush drains n if it delivers asynchronously and is a no-op otherwise.
func Flush(n Notifier) error {
	if f, ok := n.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Noop discards all events.
type Noop struct{}

func (Noop) Progress(string, string, int, int) {}
func (Noop) Complete(string, string)           {}

// Multi fans every event out to all wrapped notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti wraps the given notifiers, skipping nil entries.
func NewMulti(ns ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range ns {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

func (m *Multi) Progress(title, message string, total, index int) {
	for _, n := range m.notifiers {
		n.Progress(title, message, total, index)
	}
}

func (m *Multi) Complete(title, message string) {
	for _, n := range m.notifiers {
		n.Complete(title, message)
	}
}

func (m *Multi) Flush() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := Flush(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log renders events as structured log lines.
type Log struct {
	log *logger.Logger
}

func NewLog(l *logger.Logger) *Log {
	if l == nil {
		l = logger.Noop()
	}
	return &Log{log: l}
}

func (n *Log) Progress(title, message string, total, index int) {
	if total > 0 {
		n.log.Info(title, "item", message, "progress", fmt.Sprintf("%d/%d", index, total))
		return
	}
	n.log.Info(title, "status", message)
}

func (n *Log) Complete(title, message string) {
	n.log.Info(title, "result", message)
}

// asyncErrs tracks fire-and-forget deliveries for the HTTP notifiers.
type asyncErrs struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func (a *asyncErrs) spawn(fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil {
			a.mu.Lock()
			a.errs = append(a.errs, err)
			a.mu.Unlock()
		}
	}()
}

func (a *asyncErrs) wait() error {
	a.wg.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	err := errors.Join(a.errs...)
	a.errs = nil
	return err
}

// FormatSize renders a byte count in binary units for human-facing messages.
func FormatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
