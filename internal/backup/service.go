// Package backup implements the four run variants behind the engine's
// processor contract: backup and restore, each covering the package archive
// alone or the package plus its data directory.
//
// A variant holds one remote session for the whole run. Remote work for an
// item is retried once after a reconnect when the failure looks transient;
// outcome bookkeeping (item state, task counters, item upsert) is owned
// here, not by the engine.
package backup

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lupppig/appvault/internal/applib"
	"github.com/lupppig/appvault/internal/archive"
	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/hook"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
)

// appsDir is the top-level directory on every target under which
// generations are laid out as apps/<package>/<user>/<preserve>.
const appsDir = "apps"

// ItemStore is the item persistence the variants need on top of what the
// engine consumes.
type ItemStore interface {
	UpsertItem(ctx context.Context, i *record.Item) error
}

type Options struct {
	Kind    record.TaskKind
	Target  string // destination URI
	Library applib.Library
	Store   ItemStore

	// StagingDir hosts the per-run scratch directory; empty means the
	// system temp dir.
	StagingDir  string
	Compression archive.Algorithm
	Hooks       *hook.Runner

	AllowInsecure bool
	Timeout       time.Duration
	Log           *logger.Logger
}

func (o Options) defaults() Options {
	if o.Kind == "" {
		o.Kind = record.KindPackage
	}
	if o.Compression == "" {
		o.Compression = archive.Zstd
	}
	if o.Log == nil {
		o.Log = logger.Noop()
	}
	if o.Hooks == nil {
		o.Hooks = hook.New(nil, nil, o.Log)
	}
	return o
}

// service carries what Backup and Restore share: the remote session, the
// staging directory and the outcome bookkeeping.
type service struct {
	opts   Options
	client remote.Client
	stage  string
}

func newService(opts Options) (service, error) {
	opts = opts.defaults()
	if opts.Store == nil {
		return service{}, apperrors.New(apperrors.TypeConfig, "run requires an item store", "")
	}
	c, err := remote.FromURI(opts.Target, remote.Options{
		AllowInsecure: opts.AllowInsecure,
		Timeout:       opts.Timeout,
	})
	if err != nil {
		return service{}, err
	}
	return service{opts: opts, client: c}, nil
}

func (s *service) Kind() record.TaskKind { return s.opts.Kind }

func (s *service) Target() string { return s.client.Location() }

// connect opens the remote session and the run's staging directory.
func (s *service) connect(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	dir, err := os.MkdirTemp(s.opts.StagingDir, "appvault-*")
	if err != nil {
		s.client.Disconnect()
		return apperrors.Wrap(err, apperrors.TypeInternal,
			"failed to create staging directory",
			"Check staging_dir in the config.")
	}
	s.stage = dir
	return nil
}

// Close releases the remote session and the staging directory. Call it once
// the run is over, whatever its outcome.
func (s *service) Close() {
	s.client.Disconnect()
	if s.stage != "" {
		os.RemoveAll(s.stage)
		s.stage = ""
	}
}

// Capacity reports the destination volume's free and total bytes when the
// backend can tell, zeros otherwise.
func (s *service) Capacity(ctx context.Context) (int64, int64, error) {
	if cr, ok := s.client.(remote.CapacityReporter); ok {
		free, total, err := cr.Capacity(ctx)
		return int64(free), int64(total), err
	}
	return 0, 0, nil
}

// withRetry reconnects once and reruns fn when it fails with a transient
// error. The second failure is final; anything non-transient passes through
// untouched.
func (s *service) withRetry(ctx context.Context, pkg string, fn func() error) error {
	err := fn()
	if err == nil || !apperrors.Transient(err) {
		return err
	}
	s.opts.Log.Warn("transient failure, reconnecting", "package", pkg, "error", err)
	s.client.Disconnect()
	if cerr := s.client.Connect(ctx); cerr != nil {
		return cerr
	}
	return fn()
}

// finishItem records the item's outcome and bumps the task counter. A
// persistence failure here outranks the outcome itself: the run must abort.
func (s *service) finishItem(ctx context.Context, task *record.Task, item *record.Item, err error) error {
	if err != nil {
		task.FailureCount++
		item.Fail(err)
	} else {
		task.SuccessCount++
		item.Succeed()
	}
	if perr := s.opts.Store.UpsertItem(ctx, item); perr != nil {
		return perr
	}
	return err
}

func (s *service) algorithm(item *record.Item) archive.Algorithm {
	if item.Compression != "" {
		return archive.Algorithm(item.Compression)
	}
	return s.opts.Compression
}

func (s *service) workDir(item *record.Item) (string, error) {
	dir, err := os.MkdirTemp(s.stage, item.Name+"-")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeInternal, "failed to create work directory", "")
	}
	return dir, nil
}

// generationDir is the remote path of one backup generation.
func generationDir(item *record.Item) string {
	return path.Join(appsDir, item.Name,
		strconv.Itoa(item.UserID),
		strconv.FormatInt(item.PreserveID, 10))
}

// mainAPK locates the installable package file inside an unpacked APK
// directory: base.apk when present, otherwise the first .apk file.
func mainAPK(dir string) string {
	base := filepath.Join(dir, "base.apk")
	if _, err := os.Stat(base); err == nil {
		return base
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".apk" {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}
