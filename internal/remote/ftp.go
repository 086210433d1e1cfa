package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/jlaffaye/ftp"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// FTP is the plaintext fallback for targets that offer nothing better. The
// factory refuses to build one unless insecure protocols were opted into.
type FTP struct {
	ep   Endpoint
	opts Options

	conn *ftp.ServerConn
}

func NewFTP(ep Endpoint, opts Options) *FTP {
	return &FTP{ep: ep, opts: opts}
}

func (f *FTP) Connect(ctx context.Context) error {
	if f.conn != nil {
		return nil
	}

	conn, err := ftp.Dial(f.ep.addr(), ftp.DialWithTimeout(f.opts.timeout()), ftp.DialWithContext(ctx))
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("failed to connect to %s via FTP", f.ep.addr()), "Check host reachability and the FTP port.")
	}
	if err := conn.Login(f.ep.User, f.ep.Secret); err != nil {
		conn.Quit()
		return apperrors.Wrap(err, apperrors.TypeConnection, "FTP login rejected", "Check the username and password.")
	}

	f.conn = conn
	return nil
}

func (f *FTP) Disconnect() {
	if f.conn != nil {
		f.conn.Quit()
		f.conn = nil
	}
}

func (f *FTP) abs(p string) string {
	return path.Join(f.ep.Path, p)
}

func (f *FTP) Mkdir(ctx context.Context, dir string) error {
	if f.conn == nil {
		return notConnected("mkdir")
	}
	if err := f.conn.MakeDir(f.abs(dir)); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (f *FTP) MkdirAll(ctx context.Context, dir string) error {
	if f.conn == nil {
		return notConnected("mkdir")
	}
	current := f.ep.Path
	for _, part := range pathComponents(dir) {
		current = path.Join(current, part)
		if f.dirExists(current) {
			continue
		}
		if err := f.conn.MakeDir(current); err != nil && !f.dirExists(current) {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", current), "")
		}
	}
	return nil
}

// dirExists probes a directory by changing into it; FTP has no portable stat.
func (f *FTP) dirExists(abs string) bool {
	cur, err := f.conn.CurrentDir()
	if err != nil {
		return false
	}
	if err := f.conn.ChangeDir(abs); err != nil {
		return false
	}
	_ = f.conn.ChangeDir(cur)
	return true
}

func (f *FTP) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if f.conn == nil {
		return notConnected("upload")
	}
	src, err := os.Open(srcLocal)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read source file %s", srcLocal), "")
	}
	defer src.Close()

	target := path.Join(f.abs(dstRemoteDir), filepath.Base(srcLocal))
	if err := f.conn.Stor(target, src); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("upload of %s interrupted", srcLocal), "Ensure the destination directory exists.")
	}
	return nil
}

func (f *FTP) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if f.conn == nil {
		return notConnected("download")
	}
	resp, err := f.conn.Retr(f.abs(srcRemote))
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot retrieve %s", srcRemote), "")
	}
	defer resp.Close()
	return writeLocal(dstLocalDir, path.Base(srcRemote), resp)
}

func (f *FTP) DeleteFile(ctx context.Context, file string) error {
	if f.conn == nil {
		return notConnected("delete")
	}
	if err := f.conn.Delete(f.abs(file)); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (f *FTP) RemoveDirectory(ctx context.Context, dir string) error {
	if f.conn == nil {
		return notConnected("rmdir")
	}
	if err := f.conn.RemoveDir(f.abs(dir)); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to remove directory %s", dir), "")
	}
	return nil
}

func (f *FTP) DeleteRecursively(ctx context.Context, target string) error {
	if f.conn == nil {
		return notConnected("delete")
	}
	abs := f.abs(target)

	if _, err := f.conn.FileSize(abs); err == nil {
		if err := f.conn.Delete(abs); err != nil {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
		}
		return nil
	}
	if !f.dirExists(abs) {
		return apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	if err := f.conn.RemoveDirRecur(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
	}
	return nil
}

func (f *FTP) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if f.conn == nil {
		return Listing{}, notConnected("list")
	}
	entries, err := f.conn.List(f.abs(dir))
	if err != nil {
		return Listing{}, apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to list %s", dir), "")
	}

	var out Listing
	for _, e := range entries {
		switch e.Type {
		case ftp.EntryTypeFolder:
			if e.Name == "." || e.Name == ".." {
				continue
			}
			out.Dirs = append(out.Dirs, Entry{Name: e.Name})
		case ftp.EntryTypeFile:
			out.Files = append(out.Files, Entry{Name: e.Name, Size: int64(e.Size), ModTime: e.Time})
		}
	}
	out.sort()
	return out, nil
}

func (f *FTP) Size(ctx context.Context, target string) (int64, error) {
	if f.conn == nil {
		return 0, notConnected("size")
	}
	abs := f.abs(target)
	if n, err := f.conn.FileSize(abs); err == nil {
		return n, nil
	}
	if !f.dirExists(abs) {
		return 0, apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	return sizeUnder(ctx, target, f.ListFiles)
}

func (f *FTP) Location() string {
	return "ftp://" + f.ep.addr() + f.ep.Path
}

var _ Client = (*FTP)(nil)
