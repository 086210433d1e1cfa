package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/studio-b12/gowebdav"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// WebDAV speaks HTTP(S) to a DAV server. Sessions are stateless; Connect
// still performs a probe request so bad credentials surface before a run
// starts.
type WebDAV struct {
	ep   Endpoint
	opts Options

	client *gowebdav.Client
}

func NewWebDAV(ep Endpoint, opts Options) *WebDAV {
	return &WebDAV{ep: ep, opts: opts}
}

func (w *WebDAV) rootURL() string {
	scheme := "http"
	if w.ep.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, w.ep.addr(), w.ep.Path)
}

func (w *WebDAV) Connect(ctx context.Context) error {
	if w.client != nil {
		return nil
	}

	client := gowebdav.NewClient(w.rootURL(), w.ep.User, w.ep.Secret)
	client.SetTimeout(w.opts.timeout())
	if err := client.Connect(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("failed to connect to %s", w.rootURL()), "Check the endpoint URL and credentials.")
	}

	w.client = client
	return nil
}

func (w *WebDAV) Disconnect() {
	w.client = nil
}

func (w *WebDAV) Mkdir(ctx context.Context, dir string) error {
	if w.client == nil {
		return notConnected("mkdir")
	}
	if err := w.client.Mkdir(dir, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (w *WebDAV) MkdirAll(ctx context.Context, dir string) error {
	if w.client == nil {
		return notConnected("mkdir")
	}
	current := ""
	for _, part := range pathComponents(dir) {
		current = current + "/" + part
		if _, err := w.client.Stat(current); err == nil {
			continue
		}
		if err := w.client.Mkdir(current, 0o755); err != nil {
			if _, statErr := w.client.Stat(current); statErr == nil {
				continue
			}
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", current), "")
		}
	}
	return nil
}

func (w *WebDAV) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if w.client == nil {
		return notConnected("upload")
	}
	src, err := os.Open(srcLocal)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read source file %s", srcLocal), "")
	}
	defer src.Close()

	target := path.Join(dstRemoteDir, filepath.Base(srcLocal))
	if err := w.client.WriteStream(target, src, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("upload of %s interrupted", srcLocal), "Ensure the destination directory exists.")
	}
	return nil
}

func (w *WebDAV) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if w.client == nil {
		return notConnected("download")
	}
	src, err := w.client.ReadStream(srcRemote)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", srcRemote), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot open remote file %s", srcRemote), "")
	}
	defer src.Close()
	return writeLocal(dstLocalDir, path.Base(srcRemote), src)
}

func (w *WebDAV) DeleteFile(ctx context.Context, file string) error {
	if w.client == nil {
		return notConnected("delete")
	}
	if err := w.client.Remove(file); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", file), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (w *WebDAV) RemoveDirectory(ctx context.Context, dir string) error {
	return w.DeleteFile(ctx, dir)
}

func (w *WebDAV) DeleteRecursively(ctx context.Context, target string) error {
	if w.client == nil {
		return notConnected("delete")
	}
	if _, err := w.client.Stat(target); err != nil {
		return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	if err := w.client.RemoveAll(target); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
	}
	return nil
}

func (w *WebDAV) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if w.client == nil {
		return Listing{}, notConnected("list")
	}
	entries, err := w.client.ReadDir(dir)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
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
		out.Files = append(out.Files, Entry{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	out.sort()
	return out, nil
}

func (w *WebDAV) Size(ctx context.Context, target string) (int64, error) {
	if w.client == nil {
		return 0, notConnected("size")
	}
	info, err := w.client.Stat(target)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return sizeUnder(ctx, target, w.ListFiles)
}

func (w *WebDAV) Location() string {
	return w.rootURL()
}

var _ Client = (*WebDAV)(nil)
