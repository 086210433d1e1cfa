// Package engine drives backup and restore runs through three strictly
// ordered phases: preprocessing, per-item processing and post-processing.
//
// The engine owns phase sequencing, task persistence and progress
// notifications; everything variant-specific (which remote calls to make,
// how to archive or install an app) lives behind the Processor interface.
// One engine instance executes one run at a time; concurrent callers block
// until the running pass finishes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/notify"
	"github.com/lupppig/appvault/internal/record"
)

// Store is the slice of persistence the engine consumes.
type Store interface {
	UpsertTask(ctx context.Context, t *record.Task) error
	ActivatedItems(ctx context.Context, op record.OpType) ([]*record.Item, error)
	SumActivatedBytes(ctx context.Context, op record.OpType, kind record.TaskKind) (float64, error)
	ClearActivated(ctx context.Context) error
}

// Processor supplies the variant-specific half of a run.
type Processor interface {
	OpType() record.OpType
	Kind() record.TaskKind
	// Title names the run in progress and completion notifications,
	// e.g. "Backup" or "Full restore".
	Title() string
	// Target is the scrubbed destination URI recorded on the task.
	Target() string

	// Prepare performs one-time setup: connecting the remote session,
	// creating the target layout, staging directories. A Prepare failure is
	// fatal to the run.
	Prepare(ctx context.Context) error

	// Capacity reports available and total bytes at the destination. A
	// failure here degrades the task's counters to zero but never aborts
	// the run.
	Capacity(ctx context.Context) (available, total int64, err error)

	// ProcessItem handles one item. The processor records the outcome on
	// the item and increments the task's success or failure counter itself;
	// the returned error is informational except for persistence failures,
	// which abort the run.
	ProcessItem(ctx context.Context, task *record.Task, item *record.Item) error
}

type Config struct {
	Store    Store
	Notifier notify.Notifier
	Log      *logger.Logger
}

func (c Config) defaults() Config {
	if c.Notifier == nil {
		c.Notifier = notify.Noop{}
	}
	if c.Log == nil {
		c.Log = logger.Noop()
	}
	return c
}

// Engine serializes runs over a shared store.
type Engine struct {
	mu  sync.Mutex
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, apperrors.New(apperrors.TypeConfig, "engine requires a store", "")
	}
	return &Engine{cfg: cfg.defaults()}, nil
}

// Run executes one full pass for the given processor and returns the task
// record describing it. The run holds the engine lock for its whole
// duration, so a second Run blocks until the first one has finished
// post-processing.
//
// Any error return leaves the persisted task with Processing still true;
// `appvault doctor` reconciles such records.
func (e *Engine) Run(ctx context.Context, p Processor) (*record.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task := record.NewTask(p.OpType(), p.Kind(), p.Target())
	log := e.cfg.Log.With("op", task.OpType, "kind", task.Kind)

	if err := e.preprocess(ctx, p, task, log); err != nil {
		return task, err
	}
	if err := e.process(ctx, p, task, log); err != nil {
		return task, err
	}
	if err := e.postprocess(ctx, p, task, log); err != nil {
		return task, err
	}
	return task, nil
}

func (e *Engine) preprocess(ctx context.Context, p Processor, task *record.Task, log *logger.Logger) error {
	log.Debug("run starting", "target", task.Target)

	if err := e.cfg.Store.UpsertTask(ctx, task); err != nil {
		return err
	}

	e.cfg.Notifier.Progress(p.Title(), "preparing", 0, 0)

	if err := p.Prepare(ctx); err != nil {
		log.Error("preparation failed", "error", err)
		return err
	}
	return nil
}

func (e *Engine) process(ctx context.Context, p Processor, task *record.Task, log *logger.Logger) error {
	st := e.cfg.Store

	raw, err := st.SumActivatedBytes(ctx, task.OpType, task.Kind)
	if err != nil {
		return err
	}
	task.RawBytes = raw

	if avail, total, err := p.Capacity(ctx); err != nil {
		log.Warn("capacity probe failed", "error", err)
	} else {
		task.AvailableBytes = float64(avail)
		task.TotalBytes = float64(total)
	}

	// The activated query is the run's snapshot; selection changes made
	// after this point do not affect the pass.
	items, err := st.ActivatedItems(ctx, task.OpType)
	if err != nil {
		return err
	}
	task.TotalCount = len(items)
	if err := st.UpsertTask(ctx, task); err != nil {
		return err
	}

	log.Debug("processing items", "count", len(items), "raw_bytes", int64(raw))

	for i, item := range items {
		e.cfg.Notifier.Progress(p.Title(), itemLabel(item), len(items), i+1)

		if err := p.ProcessItem(ctx, task, item); err != nil {
			if apperrors.IsType(err, apperrors.TypePersistence) {
				log.Error("aborting run, records unreliable", "package", item.Name, "error", err)
				return err
			}
			log.Warn("item failed", "package", item.Name, "user", item.UserID, "error", err)
		}

		// Keep the counters durable so a crash mid-run leaves an
		// accurate partial record behind.
		if err := st.UpsertTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) postprocess(ctx context.Context, p Processor, task *record.Task, log *logger.Logger) error {
	e.cfg.Notifier.Progress(p.Title(), "finalizing", 0, 0)

	if err := e.cfg.Store.ClearActivated(ctx); err != nil {
		return err
	}

	task.Finish()
	if err := e.cfg.Store.UpsertTask(ctx, task); err != nil {
		return err
	}

	e.cfg.Notifier.Complete(fmt.Sprintf("%s complete", p.Title()), Summary(task))
	log.Info("run finished",
		"succeeded", task.SuccessCount,
		"failed", task.FailureCount,
		"elapsed", task.Elapsed().Truncate(time.Millisecond).String(),
	)
	return nil
}

// Summary renders the one-line result for a finished task.
func Summary(t *record.Task) string {
	elapsed := t.Elapsed().Truncate(time.Second)
	if t.FailureCount > 0 {
		return fmt.Sprintf("%d of %d apps, %d failed in %s", t.SuccessCount, t.TotalCount, t.FailureCount, elapsed)
	}
	return fmt.Sprintf("%d apps in %s (%s)", t.SuccessCount, elapsed, notify.FormatSize(int64(t.RawBytes)))
}

func itemLabel(i *record.Item) string {
	if i.Label != "" {
		return i.Label
	}
	return i.Name
}
