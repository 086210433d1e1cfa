package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// SFTP talks to an SSH host through the SFTP subsystem. Authentication order:
// explicit password, then the SSH agent, then the common private keys under
// ~/.ssh.
type SFTP struct {
	ep   Endpoint
	opts Options

	conn *ssh.Client
	sftp *sftp.Client
}

func NewSFTP(ep Endpoint, opts Options) *SFTP {
	return &SFTP{ep: ep, opts: opts}
}

func (s *SFTP) Connect(ctx context.Context) error {
	if s.sftp != nil {
		return nil
	}

	config := &ssh.ClientConfig{
		User:            s.ep.User,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.opts.timeout(),
	}

	if s.ep.Secret != "" {
		config.Auth = append(config.Auth, ssh.Password(s.ep.Secret))
	} else {
		if authSock := os.Getenv("SSH_AUTH_SOCK"); authSock != "" {
			if conn, err := net.Dial("unix", authSock); err == nil {
				ag := agent.NewClient(conn)
				if signers, err := ag.Signers(); err == nil && len(signers) > 0 {
					config.Auth = append(config.Auth, ssh.PublicKeysCallback(ag.Signers))
				}
			}
		}

		if home, err := os.UserHomeDir(); err == nil {
			for _, k := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
				key, err := os.ReadFile(filepath.Join(home, ".ssh", k))
				if err != nil {
					continue
				}
				if signer, err := ssh.ParsePrivateKey(key); err == nil {
					config.Auth = append(config.Auth, ssh.PublicKeys(signer))
				}
			}
		}
	}

	if len(config.Auth) == 0 {
		return apperrors.New(apperrors.TypeConnection, "no supported SSH authentication methods found", "Run an SSH agent or provide a password or private key.")
	}

	conn, err := ssh.Dial("tcp", s.ep.addr(), config)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("failed to connect to %s via SSH", s.ep.addr()), "Check host reachability, SSH port, and credentials.")
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to open the SFTP subsystem", "Verify SFTP is enabled on the remote host.")
	}

	s.conn = conn
	s.sftp = client
	return nil
}

func (s *SFTP) Disconnect() {
	if s.sftp != nil {
		s.sftp.Close()
		s.sftp = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *SFTP) abs(p string) string {
	return path.Join(s.ep.Path, p)
}

func (s *SFTP) Mkdir(ctx context.Context, dir string) error {
	if s.sftp == nil {
		return notConnected("mkdir")
	}
	if err := s.sftp.Mkdir(s.abs(dir)); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (s *SFTP) MkdirAll(ctx context.Context, dir string) error {
	if s.sftp == nil {
		return notConnected("mkdir")
	}
	current := s.ep.Path
	for _, part := range pathComponents(dir) {
		current = path.Join(current, part)
		if _, err := s.sftp.Stat(current); err == nil {
			continue
		}
		if err := s.sftp.Mkdir(current); err != nil {
			if _, statErr := s.sftp.Stat(current); statErr == nil {
				continue
			}
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", current), "")
		}
	}
	return nil
}

func (s *SFTP) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if s.sftp == nil {
		return notConnected("upload")
	}
	src, err := os.Open(srcLocal)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot read source file %s", srcLocal), "")
	}
	defer src.Close()

	target := path.Join(s.abs(dstRemoteDir), filepath.Base(srcLocal))
	dst, err := s.sftp.Create(target)
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

func (s *SFTP) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if s.sftp == nil {
		return notConnected("download")
	}
	src, err := s.sftp.Open(s.abs(srcRemote))
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", srcRemote), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot open remote file %s", srcRemote), "")
	}
	defer src.Close()
	return writeLocal(dstLocalDir, path.Base(srcRemote), src)
}

func (s *SFTP) DeleteFile(ctx context.Context, file string) error {
	if s.sftp == nil {
		return notConnected("delete")
	}
	if err := s.sftp.Remove(s.abs(file)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such file %s", file), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (s *SFTP) RemoveDirectory(ctx context.Context, dir string) error {
	if s.sftp == nil {
		return notConnected("rmdir")
	}
	if err := s.sftp.RemoveDirectory(s.abs(dir)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such directory %s", dir), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to remove directory %s", dir), "")
	}
	return nil
}

func (s *SFTP) DeleteRecursively(ctx context.Context, target string) error {
	if s.sftp == nil {
		return notConnected("delete")
	}
	abs := s.abs(target)
	if _, err := s.sftp.Stat(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	if err := s.sftp.RemoveAll(abs); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
	}
	return nil
}

func (s *SFTP) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if s.sftp == nil {
		return Listing{}, notConnected("list")
	}
	entries, err := s.sftp.ReadDir(s.abs(dir))
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

func (s *SFTP) Size(ctx context.Context, target string) (int64, error) {
	if s.sftp == nil {
		return 0, notConnected("size")
	}
	info, err := s.sftp.Stat(s.abs(target))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return sizeUnder(ctx, target, s.ListFiles)
}

func (s *SFTP) Capacity(ctx context.Context) (free, total uint64, err error) {
	if s.sftp == nil {
		return 0, 0, notConnected("capacity")
	}
	vfs, err := s.sftp.StatVFS(s.ep.Path)
	if err != nil {
		// Not every server implements the statvfs extension.
		return 0, 0, nil
	}
	return vfs.FreeSpace(), vfs.TotalSpace(), nil
}

func (s *SFTP) Location() string {
	return "sftp://" + s.ep.addr() + s.ep.Path
}

var (
	_ Client           = (*SFTP)(nil)
	_ CapacityReporter = (*SFTP)(nil)
)
