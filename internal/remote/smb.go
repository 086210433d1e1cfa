package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudsoda/go-smb2"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// SMB mounts one share on a Windows/Samba host. An empty list path returns
// the share names visible to the session instead of directory contents.
type SMB struct {
	ep   Endpoint
	opts Options

	sess  *smb2.Session
	share *smb2.Share
}

func NewSMB(ep Endpoint, opts Options) *SMB {
	return &SMB{ep: ep, opts: opts}
}

// Dialect revision numbers from MS-SMB2; go-smb2 keeps the named constants
// in an internal package.
var smbDialects = map[string]uint16{
	"2.0.2": 0x202,
	"2.1":   0x210,
	"3.0":   0x300,
	"3.0.2": 0x302,
	"3.1.1": 0x311,
}

func (s *SMB) Connect(ctx context.Context) error {
	if s.sess != nil {
		return nil
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     s.ep.User,
			Password: s.ep.Secret,
			Domain:   s.ep.Domain,
		},
	}
	if len(s.ep.Dialects) > 0 {
		d, ok := smbDialects[s.ep.Dialects[0]]
		if !ok {
			return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("unknown SMB dialect %q", s.ep.Dialects[0]), "Known dialects: 2.0.2, 2.1, 3.0, 3.0.2, 3.1.1.")
		}
		dialer.Negotiator = smb2.Negotiator{SpecifiedDialect: d}
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.timeout())
	defer cancel()

	sess, err := dialer.Dial(dialCtx, s.ep.addr())
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("failed to connect to %s via SMB", s.ep.addr()), "Check host reachability, the SMB port, and credentials.")
	}

	if s.ep.Share != "" {
		share, err := sess.Mount(s.ep.Share)
		if err != nil {
			sess.Logoff()
			return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("failed to mount SMB share %s", s.ep.Share), "List available shares with an empty path.")
		}
		s.share = share
	}
	s.sess = sess
	return nil
}

func (s *SMB) Disconnect() {
	if s.share != nil {
		s.share.Umount()
		s.share = nil
	}
	if s.sess != nil {
		s.sess.Logoff()
		s.sess = nil
	}
}

// abs maps a client path onto the mounted share, backslash-separated and
// relative to the share root.
func (s *SMB) abs(p string) string {
	joined := strings.TrimPrefix(path.Join(s.ep.Path, p), "/")
	return strings.ReplaceAll(joined, "/", `\`)
}

func (s *SMB) mounted(op string) error {
	if s.sess == nil {
		return notConnected(op)
	}
	if s.share == nil {
		return apperrors.New(apperrors.TypeConfig, "no SMB share selected", "Put the share name in the target, e.g. smb://host/share/dir.")
	}
	return nil
}

func (s *SMB) Mkdir(ctx context.Context, dir string) error {
	if err := s.mounted("mkdir"); err != nil {
		return err
	}
	if err := s.share.Mkdir(s.abs(dir), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (s *SMB) MkdirAll(ctx context.Context, dir string) error {
	if err := s.mounted("mkdir"); err != nil {
		return err
	}
	current := s.ep.Path
	for _, part := range pathComponents(dir) {
		current = path.Join(current, part)
		abs := strings.ReplaceAll(strings.TrimPrefix(current, "/"), "/", `\`)
		if _, err := s.share.Stat(abs); err == nil {
			continue
		}
		if err := s.share.Mkdir(abs, 0o755); err != nil {
			if _, statErr := s.share.Stat(abs); statErr == nil {
				continue
			}
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", current), "")
		}
	}
	return nil
}

func (s *SMB) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if err := s.mounted("upload"); err != nil {
		return err
	}
	src, err := os.Open(srcLocal)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read source file %s", srcLocal), "")
	}
	defer src.Close()

	target := s.abs(path.Join(dstRemoteDir, filepath.Base(srcLocal)))
	dst, err := s.share.Create(target)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create remote file %s", target), "Ensure the destination directory exists.")
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("upload of %s interrupted", srcLocal), "")
	}
	if err := dst.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to finalize remote file %s", target), "")
	}
	return nil
}

func (s *SMB) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if err := s.mounted("download"); err != nil {
		return err
	}
	src, err := s.share.Open(s.abs(srcRemote))
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", srcRemote), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot open remote file %s", srcRemote), "")
	}
	defer src.Close()
	return writeLocal(dstLocalDir, path.Base(srcRemote), src)
}

func (s *SMB) DeleteFile(ctx context.Context, file string) error {
	if err := s.mounted("delete"); err != nil {
		return err
	}
	if err := s.share.Remove(s.abs(file)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", file), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (s *SMB) RemoveDirectory(ctx context.Context, dir string) error {
	if err := s.mounted("rmdir"); err != nil {
		return err
	}
	if err := s.share.Remove(s.abs(dir)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such directory %s", dir), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to remove directory %s", dir), "")
	}
	return nil
}

func (s *SMB) DeleteRecursively(ctx context.Context, target string) error {
	if err := s.mounted("delete"); err != nil {
		return err
	}
	abs := s.abs(target)
	info, err := s.share.Stat(abs)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	if !info.IsDir() {
		if err := s.share.Remove(abs); err != nil {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
		}
		return nil
	}
	if err := s.share.RemoveAll(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
	}
	return nil
}

func (s *SMB) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if s.sess == nil {
		return Listing{}, notConnected("list")
	}

	// Empty path: enumerate shares, not directory contents.
	if dir == "" {
		names, err := s.sess.ListSharenames()
		if err != nil {
			return Listing{}, apperrors.Wrap(err, apperrors.TypeTransfer, "failed to list SMB shares", "")
		}
		var out Listing
		for _, n := range names {
			out.Dirs = append(out.Dirs, Entry{Name: n})
		}
		out.sort()
		return out, nil
	}

	if err := s.mounted("list"); err != nil {
		return Listing{}, err
	}
	entries, err := s.share.ReadDir(s.abs(dir))
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
		out.Files = append(out.Files, Entry{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	out.sort()
	return out, nil
}

func (s *SMB) Size(ctx context.Context, target string) (int64, error) {
	if err := s.mounted("size"); err != nil {
		return 0, err
	}
	info, err := s.share.Stat(s.abs(target))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return sizeUnder(ctx, target, s.ListFiles)
}

func (s *SMB) Location() string {
	loc := "smb://" + s.ep.addr()
	if s.ep.Share != "" {
		loc += "/" + s.ep.Share
	}
	return loc + s.ep.Path
}

var _ Client = (*SMB)(nil)
