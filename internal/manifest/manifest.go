package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileName is the manifest's name inside a backup generation directory.
const FileName = "manifest.json"

// Archive kinds.
const (
	KindAPK  = "apk"
	KindData = "data"
)

// Archive describes one stored archive of a generation.
type Archive struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"` // SHA-256 of the archive file
}

// Manifest describes one backup generation of one application: which archives
// it consists of and how to verify them.
type Manifest struct {
	ID          string    `json:"id"`
	Package     string    `json:"package"`
	Label       string    `json:"label,omitempty"`
	VersionName string    `json:"version_name,omitempty"`
	VersionCode int64     `json:"version_code,omitempty"`
	UserID      int       `json:"user_id"`
	PreserveID  int64     `json:"preserve_id"`
	Compression string    `json:"compression,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Archives    []Archive `json:"archives,omitempty"`
}

func New(pkg string, userID int, preserveID int64) *Manifest {
	return &Manifest{
		ID:         uuid.NewString(),
		Package:    pkg,
		UserID:     userID,
		PreserveID: preserveID,
		CreatedAt:  time.Now(),
	}
}

func (m *Manifest) Serialize() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Deserialize(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddArchive records an archive file, computing its size and checksum.
func (m *Manifest) AddArchive(kind, path string) error {
	sum, size, err := ChecksumFile(path)
	if err != nil {
		return err
	}
	m.Archives = append(m.Archives, Archive{
		Name:     filepath.Base(path),
		Kind:     kind,
		Size:     size,
		Checksum: sum,
	})
	return nil
}

// Archive returns the recorded archive of one kind, or nil.
func (m *Manifest) Archive(kind string) *Archive {
	for i := range m.Archives {
		if m.Archives[i].Kind == kind {
			return &m.Archives[i]
		}
	}
	return nil
}

// Verify recomputes the checksum of every recorded archive found in dir and
// fails on the first mismatch.
func (m *Manifest) Verify(dir string) error {
	for _, a := range m.Archives {
		if a.Checksum == "" {
			continue
		}
		sum, _, err := ChecksumFile(filepath.Join(dir, a.Name))
		if err != nil {
			return fmt.Errorf("cannot verify %s: %w", a.Name, err)
		}
		if sum != a.Checksum {
			return fmt.Errorf("checksum mismatch for %s: manifest %s, file %s", a.Name, a.Checksum, sum)
		}
	}
	return nil
}

// WriteFile persists the manifest into dir under its canonical name.
func (m *Manifest) WriteFile(dir string) (string, error) {
	data, err := m.Serialize()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadFile loads a manifest from a file path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

func CalculateChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFile returns the SHA-256 and byte size of a file.
func ChecksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	sum, err := CalculateChecksum(f)
	if err != nil {
		return "", 0, err
	}
	return sum, info.Size(), nil
}
