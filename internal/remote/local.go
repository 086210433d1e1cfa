package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// Local serves a directory on the local filesystem through the same contract
// as the network backends, so local targets need no special casing anywhere
// above the client.
type Local struct {
	root      string
	connected bool
}

func NewLocal(root string) *Local {
	if root == "" {
		root = "."
	}
	return &Local{root: root}
}

func (l *Local) Connect(ctx context.Context) error {
	if l.connected {
		return nil
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("cannot open local target %s", l.root), "Check the path and its permissions.")
	}
	l.connected = true
	return nil
}

func (l *Local) Disconnect() {
	l.connected = false
}

func (l *Local) abs(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

func (l *Local) Mkdir(ctx context.Context, dir string) error {
	if !l.connected {
		return notConnected("mkdir")
	}
	if err := os.Mkdir(l.abs(dir), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (l *Local) MkdirAll(ctx context.Context, dir string) error {
	if !l.connected {
		return notConnected("mkdir")
	}
	current := ""
	for _, part := range pathComponents(dir) {
		current = current + "/" + part
		target := l.abs(current)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.Mkdir(target, 0o755); err != nil && !os.IsExist(err) {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", current), "")
		}
	}
	return nil
}

func (l *Local) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if !l.connected {
		return notConnected("upload")
	}
	f, err := os.Open(srcLocal)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read source file %s", srcLocal), "")
	}
	defer f.Close()
	return writeLocal(l.abs(dstRemoteDir), filepath.Base(srcLocal), f)
}

func (l *Local) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if !l.connected {
		return notConnected("download")
	}
	f, err := os.Open(l.abs(srcRemote))
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", srcRemote), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read %s", srcRemote), "")
	}
	defer f.Close()
	return writeLocal(dstLocalDir, filepath.Base(srcRemote), f)
}

func (l *Local) DeleteFile(ctx context.Context, file string) error {
	if !l.connected {
		return notConnected("delete")
	}
	if err := os.Remove(l.abs(file)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", file), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (l *Local) RemoveDirectory(ctx context.Context, dir string) error {
	if !l.connected {
		return notConnected("rmdir")
	}
	if err := os.Remove(l.abs(dir)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such directory %s", dir), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to remove directory %s", dir), "")
	}
	return nil
}

func (l *Local) DeleteRecursively(ctx context.Context, target string) error {
	if !l.connected {
		return notConnected("delete")
	}
	abs := l.abs(target)
	if _, err := os.Stat(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	if err := os.RemoveAll(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
	}
	return nil
}

func (l *Local) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if !l.connected {
		return Listing{}, notConnected("list")
	}
	entries, err := os.ReadDir(l.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Listing{}, apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such directory %s", dir), "")
		}
		return Listing{}, apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to list %s", dir), "")
	}

	var out Listing
	for _, e := range entries {
		if e.IsDir() {
			out.Dirs = append(out.Dirs, Entry{Name: e.Name()})
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out.Files = append(out.Files, Entry{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	out.sort()
	return out, nil
}

func (l *Local) Size(ctx context.Context, target string) (int64, error) {
	if !l.connected {
		return 0, notConnected("size")
	}
	info, err := os.Stat(l.abs(target))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return sizeUnder(ctx, target, l.ListFiles)
}

func (l *Local) Capacity(ctx context.Context) (free, total uint64, err error) {
	usage, err := disk.Usage(l.root)
	if err != nil {
		return 0, 0, apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read disk usage of %s", l.root), "")
	}
	return usage.Free, usage.Total, nil
}

func (l *Local) Location() string {
	return "local://" + l.root
}

func pathComponents(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

var (
	_ Client           = (*Local)(nil)
	_ CapacityReporter = (*Local)(nil)
)
