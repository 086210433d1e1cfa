package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/lupppig/appvault/internal/archive"
	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/hook"
	"github.com/lupppig/appvault/internal/manifest"
	"github.com/lupppig/appvault/internal/record"
)

// Restore downloads activated generations from the target, verifies them
// against their manifest and unpacks them back into the library, then runs
// the configured install hook.
type Restore struct {
	service
}

func NewRestore(opts Options) (*Restore, error) {
	svc, err := newService(opts)
	if err != nil {
		return nil, err
	}
	return &Restore{service: svc}, nil
}

func (r *Restore) OpType() record.OpType { return record.OpRestore }

func (r *Restore) Title() string {
	if r.opts.Kind == record.KindFull {
		return "Full restore"
	}
	return "Restore"
}

func (r *Restore) Prepare(ctx context.Context) error {
	return r.connect(ctx)
}

func (r *Restore) ProcessItem(ctx context.Context, task *record.Task, item *record.Item) error {
	return r.finishItem(ctx, task, item, r.processOne(ctx, item))
}

func (r *Restore) processOne(ctx context.Context, item *record.Item) error {
	work, err := r.workDir(item)
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	src := generationDir(item)
	var man *manifest.Manifest

	err = r.withRetry(ctx, item.Name, func() error {
		if err := r.client.Download(ctx, path.Join(src, manifest.FileName), work); err != nil {
			return err
		}
		m, err := manifest.ReadFile(filepath.Join(work, manifest.FileName))
		if err != nil {
			return err
		}
		man = m
		for _, a := range r.wanted(man) {
			if err := r.client.Download(ctx, path.Join(src, a.Name), work); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Verify only what was downloaded; a package-only restore of a full
	// generation leaves the data archive on the target.
	checked := *man
	checked.Archives = r.wanted(man)
	if err := checked.Verify(work); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer,
			fmt.Sprintf("downloaded generation for %s is corrupt", item.Name), "")
	}

	apk := man.Archive(manifest.KindAPK)
	if apk == nil {
		return apperrors.New(apperrors.TypeNotFound,
			fmt.Sprintf("generation for %s has no package archive", item.Name), "")
	}

	apkDir := r.opts.Library.APKDir(item.Name)
	if err := archive.Unpack(filepath.Join(work, apk.Name), apkDir); err != nil {
		return err
	}

	if r.opts.Kind == record.KindFull {
		if data := man.Archive(manifest.KindData); data != nil {
			dataDir := r.opts.Library.DataDir(item.UserID, item.Name)
			if err := archive.Unpack(filepath.Join(work, data.Name), dataDir); err != nil {
				return err
			}
		}
	}

	item.Compression = man.Compression

	return r.opts.Hooks.Install(ctx, hook.Vars{
		Package: item.Name,
		APK:     mainAPK(apkDir),
		User:    item.UserID,
	})
}

// wanted filters the manifest's archives down to what this run's kind
// restores.
func (r *Restore) wanted(man *manifest.Manifest) []manifest.Archive {
	var out []manifest.Archive
	for _, a := range man.Archives {
		if a.Kind == manifest.KindData && r.opts.Kind != record.KindFull {
			continue
		}
		out = append(out, a)
	}
	return out
}
