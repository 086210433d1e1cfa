package backup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lupppig/appvault/internal/archive"
	"github.com/lupppig/appvault/internal/manifest"
	"github.com/lupppig/appvault/internal/record"
)

// Backup archives each activated app and uploads the generation to the
// target.
type Backup struct {
	service
}

func NewBackup(opts Options) (*Backup, error) {
	svc, err := newService(opts)
	if err != nil {
		return nil, err
	}
	return &Backup{service: svc}, nil
}

func (b *Backup) OpType() record.OpType { return record.OpBackup }

func (b *Backup) Title() string {
	if b.opts.Kind == record.KindFull {
		return "Full backup"
	}
	return "Backup"
}

func (b *Backup) Prepare(ctx context.Context) error {
	if err := b.connect(ctx); err != nil {
		return err
	}
	return b.client.MkdirAll(ctx, appsDir)
}

func (b *Backup) ProcessItem(ctx context.Context, task *record.Task, item *record.Item) error {
	return b.finishItem(ctx, task, item, b.processOne(ctx, item))
}

// processOne stages the generation locally (archives plus manifest), then
// pushes the whole directory in one retryable remote sequence.
func (b *Backup) processOne(ctx context.Context, item *record.Item) error {
	work, err := b.workDir(item)
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	algo := b.algorithm(item)
	man := manifest.New(item.Name, item.UserID, item.PreserveID)
	man.Label = item.Label
	man.VersionName = item.VersionName
	man.VersionCode = item.VersionCode
	man.Compression = string(algo)

	apkArchive := filepath.Join(work, "apk"+archive.Extension(algo))
	if _, err := archive.Pack(b.opts.Library.APKDir(item.Name), apkArchive, algo); err != nil {
		return err
	}
	if err := man.AddArchive(manifest.KindAPK, apkArchive); err != nil {
		return err
	}
	uploads := []string{apkArchive}

	if b.opts.Kind == record.KindFull {
		dataDir := b.opts.Library.DataDir(item.UserID, item.Name)
		// Apps without a data directory get a package-only generation.
		if _, err := os.Stat(dataDir); err == nil {
			dataArchive := filepath.Join(work, "data"+archive.Extension(algo))
			if _, err := archive.Pack(dataDir, dataArchive, algo); err != nil {
				return err
			}
			if err := man.AddArchive(manifest.KindData, dataArchive); err != nil {
				return err
			}
			uploads = append(uploads, dataArchive)
		}
	}

	manPath, err := man.WriteFile(work)
	if err != nil {
		return err
	}
	uploads = append(uploads, manPath)
	item.Compression = string(algo)

	dst := generationDir(item)
	return b.withRetry(ctx, item.Name, func() error {
		if err := b.client.MkdirAll(ctx, dst); err != nil {
			return err
		}
		for _, f := range uploads {
			if err := b.client.Upload(ctx, f, dst); err != nil {
				return err
			}
		}
		return nil
	})
}
