package applib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/manifest"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
)

// Library is the on-disk app library: one directory per package under APKRoot
// holding the APK payload, and per-user data directories under
// DataRoot/<user>/<package>.
type Library struct {
	APKRoot  string
	DataRoot string
}

// App is one scan result, local or from a backup target.
type App struct {
	Name        string
	Label       string
	VersionName string
	VersionCode int64
	UserID      int
	PreserveID  int64
	APKBytes    int64
	DataBytes   int64
	Compression string
}

// metaFile is an optional sidecar inside a package's APK directory.
type metaFile struct {
	Label       string `json:"label"`
	VersionName string `json:"version_name"`
	VersionCode int64  `json:"version_code"`
}

const metaFileName = "app.json"

func (l Library) APKDir(name string) string {
	return filepath.Join(l.APKRoot, name)
}

func (l Library) DataDir(userID int, name string) string {
	return filepath.Join(l.DataRoot, strconv.Itoa(userID), name)
}

// Users lists the user IDs present under the data root, ascending. A missing
// data root means the single default user.
func (l Library) Users() ([]int, error) {
	entries, err := os.ReadDir(l.DataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []int{0}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("cannot read data root %s", l.DataRoot), "Check library.data_root in the config.")
	}

	var users []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, err := strconv.Atoi(e.Name()); err == nil {
			users = append(users, id)
		}
	}
	if len(users) == 0 {
		users = []int{0}
	}
	sort.Ints(users)
	return users, nil
}

// Scan walks the APK root and returns one App per package for the given
// user, with APK and data sizes computed.
func (l Library) Scan(ctx context.Context, userID int) ([]App, error) {
	entries, err := os.ReadDir(l.APKRoot)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("cannot read APK root %s", l.APKRoot), "Check library.apk_root in the config.")
	}

	var apps []App
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}

		name := e.Name()
		app := App{
			Name:      name,
			Label:     name,
			UserID:    userID,
			APKBytes:  dirSize(l.APKDir(name)),
			DataBytes: dirSize(l.DataDir(userID, name)),
		}
		if meta := readMeta(l.APKDir(name)); meta != nil {
			if meta.Label != "" {
				app.Label = meta.Label
			}
			app.VersionName = meta.VersionName
			app.VersionCode = meta.VersionCode
		}
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

func readMeta(dir string) *metaFile {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil
	}
	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

// dirSize sums the regular files under root; a missing directory counts as
// zero.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// ScanTarget walks a connected backup target's apps/ tree and returns one App
// per stored generation, metadata and sizes taken from each generation's
// manifest. stagingDir receives the transient manifest downloads.
func ScanTarget(ctx context.Context, c remote.Client, stagingDir string) ([]App, error) {
	pkgs, err := c.ListFiles(ctx, "/apps")
	if err != nil {
		if apperrors.IsType(err, apperrors.TypeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var apps []App
	for _, pkg := range pkgs.Dirs {
		users, err := c.ListFiles(ctx, path.Join("/apps", pkg.Name))
		if err != nil {
			return nil, err
		}
		for _, user := range users.Dirs {
			userID, err := strconv.Atoi(user.Name)
			if err != nil {
				continue
			}
			gens, err := c.ListFiles(ctx, path.Join("/apps", pkg.Name, user.Name))
			if err != nil {
				return nil, err
			}
			for _, gen := range gens.Dirs {
				preserveID, err := strconv.ParseInt(gen.Name, 10, 64)
				if err != nil {
					continue
				}
				app, err := targetApp(ctx, c, stagingDir, pkg.Name, userID, preserveID, gen.Name)
				if err != nil {
					return nil, err
				}
				apps = append(apps, app)
			}
		}
	}
	return apps, nil
}

func targetApp(ctx context.Context, c remote.Client, stagingDir, pkg string, userID int, preserveID int64, gen string) (App, error) {
	remoteDir := path.Join("/apps", pkg, strconv.Itoa(userID), gen)
	if err := c.Download(ctx, path.Join(remoteDir, manifest.FileName), stagingDir); err != nil {
		return App{}, err
	}
	local := filepath.Join(stagingDir, manifest.FileName)
	defer os.Remove(local)

	m, err := manifest.ReadFile(local)
	if err != nil {
		return App{}, apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("corrupt manifest under %s", remoteDir), "")
	}

	app := App{
		Name:        pkg,
		Label:       m.Label,
		VersionName: m.VersionName,
		VersionCode: m.VersionCode,
		UserID:      userID,
		PreserveID:  preserveID,
		Compression: m.Compression,
	}
	if app.Label == "" {
		app.Label = pkg
	}
	if a := m.Archive(manifest.KindAPK); a != nil {
		app.APKBytes = a.Size
	}
	if a := m.Archive(manifest.KindData); a != nil {
		app.DataBytes = a.Size
	}
	return app, nil
}

// Item converts a scan result into a persistable record for one operation.
func (a App) Item(op record.OpType) *record.Item {
	return &record.Item{
		Name:        a.Name,
		OpType:      op,
		UserID:      a.UserID,
		PreserveID:  a.PreserveID,
		Label:       a.Label,
		VersionName: a.VersionName,
		VersionCode: a.VersionCode,
		ApkBytes:    a.APKBytes,
		DataBytes:   a.DataBytes,
		Compression: a.Compression,
		State:       record.StatePending,
	}
}
