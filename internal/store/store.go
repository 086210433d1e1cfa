package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/record"
)

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver string // sqlite (default), mysql, postgres
	DSN    string // file path for sqlite, connection string otherwise
}

// Store persists task and item records. It is safe for concurrent use; run
// serialization is the engine's job, not the store's.
type Store struct {
	db *gorm.DB
}

func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.TypeConfig, "cannot resolve home directory for the default store", "Set store.dsn explicitly.")
			}
			dir := filepath.Join(home, ".appvault")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperrors.Wrap(err, apperrors.TypePersistence, "cannot create the appvault data directory", "Check permissions on your home directory.")
			}
			dsn = filepath.Join(dir, "appvault.db")
		}
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, apperrors.New(apperrors.TypeConfig, fmt.Sprintf("unsupported store driver %q", driver), "Use sqlite, mysql or postgres.")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to open the record store", "Verify the store driver and DSN.")
	}

	if err := db.AutoMigrate(&record.Task{}, &record.Item{}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to migrate the record store", "")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertTask inserts the task when its ID is zero (assigning the ID in place)
// and updates it otherwise.
func (s *Store) UpsertTask(ctx context.Context, t *record.Task) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return apperrors.Wrap(err, apperrors.TypePersistence, "failed to persist task record", "")
	}
	return nil
}

// UpsertItem inserts or updates one item, matching on the
// (name, op_type, user_id, preserve_id) identity.
func (s *Store) UpsertItem(ctx context.Context, i *record.Item) error {
	if i.ID != 0 {
		if err := s.db.WithContext(ctx).Save(i).Error; err != nil {
			return apperrors.Wrap(err, apperrors.TypePersistence, "failed to persist item record", "")
		}
		return nil
	}

	var existing record.Item
	err := s.db.WithContext(ctx).
		Where("name = ? AND op_type = ? AND user_id = ? AND preserve_id = ?", i.Name, i.OpType, i.UserID, i.PreserveID).
		First(&existing).Error
	switch {
	case err == nil:
		i.ID = existing.ID
		i.CreatedAt = existing.CreatedAt
		err = s.db.WithContext(ctx).Save(i).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = s.db.WithContext(ctx).Create(i).Error
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypePersistence, "failed to persist item record", "")
	}
	return nil
}

// ActivatedItems returns the activated items for one operation in stable
// insertion order; this is the snapshot a run iterates over.
func (s *Store) ActivatedItems(ctx context.Context, op record.OpType) ([]*record.Item, error) {
	var items []*record.Item
	err := s.db.WithContext(ctx).
		Where("activated = ? AND op_type = ?", true, op).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to query activated items", "")
	}
	return items, nil
}

// SumActivatedBytes returns the total source bytes of the activated items for
// one operation, scoped to what the task kind will actually ship.
func (s *Store) SumActivatedBytes(ctx context.Context, op record.OpType, kind record.TaskKind) (float64, error) {
	expr := "COALESCE(SUM(apk_bytes), 0)"
	if kind == record.KindFull {
		expr = "COALESCE(SUM(apk_bytes + data_bytes), 0)"
	}

	var total float64
	err := s.db.WithContext(ctx).Model(&record.Item{}).
		Where("activated = ? AND op_type = ?", true, op).
		Select(expr).
		Scan(&total).Error
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypePersistence, "failed to sum activated bytes", "")
	}
	return total, nil
}

// ClearActivated drops the activation flag on every item, unconditionally.
func (s *Store) ClearActivated(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&record.Item{}).
		Where("activated = ?", true).
		Update("activated", false).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypePersistence, "failed to clear item activation", "")
	}
	return nil
}

// SetActivated flips the activation flag on the named items for one operation
// and user, returning how many rows changed. An empty name list selects every
// item for the operation.
func (s *Store) SetActivated(ctx context.Context, op record.OpType, userID int, names []string, activated bool) (int64, error) {
	q := s.db.WithContext(ctx).Model(&record.Item{}).
		Where("op_type = ? AND user_id = ?", op, userID)
	if len(names) > 0 {
		q = q.Where("name IN ?", names)
	}
	res := q.Update("activated", activated)
	if res.Error != nil {
		return 0, apperrors.Wrap(res.Error, apperrors.TypePersistence, "failed to update item activation", "")
	}
	return res.RowsAffected, nil
}

// Items lists every item for one operation, name-ordered.
func (s *Store) Items(ctx context.Context, op record.OpType) ([]*record.Item, error) {
	var items []*record.Item
	err := s.db.WithContext(ctx).
		Where("op_type = ?", op).
		Order("name ASC, user_id ASC, preserve_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to list items", "")
	}
	return items, nil
}

// Tasks lists past runs, newest first.
func (s *Store) Tasks(ctx context.Context, limit int) ([]*record.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var tasks []*record.Task
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to list tasks", "")
	}
	return tasks, nil
}

// DanglingTasks returns tasks still flagged as processing. Under the engine's
// single-run lock a live process owns at most one; anything older is the
// leftover of a crashed run.
func (s *Store) DanglingTasks(ctx context.Context) ([]*record.Task, error) {
	var tasks []*record.Task
	err := s.db.WithContext(ctx).
		Where("processing = ?", true).
		Order("started_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypePersistence, "failed to query processing tasks", "")
	}
	return tasks, nil
}

// ReconcileDangling closes out a crashed run's task record: stamps the end
// time and drops the processing flag, leaving the counters as the crash left
// them.
func (s *Store) ReconcileDangling(ctx context.Context, id uint) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&record.Task{}).
		Where("id = ? AND processing = ?", id, true).
		Updates(map[string]any{"processing": false, "ended_at": &now}).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypePersistence, "failed to reconcile task record", "")
	}
	return nil
}
