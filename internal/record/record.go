package record

import "time"

type OpType string

const (
	OpBackup  OpType = "backup"
	OpRestore OpType = "restore"
)

type TaskKind string

const (
	// KindPackage covers the package archive only.
	KindPackage TaskKind = "package"
	// KindFull covers the package archive plus the app's data directory.
	KindFull TaskKind = "full"
)

type ItemState string

const (
	StatePending   ItemState = "pending"
	StateSucceeded ItemState = "succeeded"
	StateFailed    ItemState = "failed"
)

// Task is the persisted summary of one orchestration run. It is created when
// the run enters preprocessing and finalized in post-processing; EndedAt stays
// nil and Processing stays true for the whole run, which is what recovery
// logic keys on after a crash.
type Task struct {
	ID     uint     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OpType OpType   `gorm:"column:op_type;size:16;not null;index" json:"op_type"`
	Kind   TaskKind `gorm:"column:kind;size:16;not null" json:"kind"`
	Target string   `gorm:"column:target;size:512" json:"target"` // scrubbed URI

	StartedAt time.Time  `gorm:"column:started_at" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at" json:"ended_at"`

	// Aggregate byte counters, computed once at the start of the processing
	// phase and never re-derived mid-run.
	RawBytes       float64 `gorm:"column:raw_bytes" json:"raw_bytes"`
	AvailableBytes float64 `gorm:"column:available_bytes" json:"available_bytes"`
	TotalBytes     float64 `gorm:"column:total_bytes" json:"total_bytes"`

	TotalCount   int `gorm:"column:total_count" json:"total_count"`
	SuccessCount int `gorm:"column:success_count" json:"success_count"`
	FailureCount int `gorm:"column:failure_count" json:"failure_count"`

	Processing bool `gorm:"column:processing;index" json:"processing"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

func (Task) TableName() string {
	return "tasks"
}

// NewTask returns an unsaved running task stamped with the current time.
func NewTask(op OpType, kind TaskKind, target string) *Task {
	return &Task{
		OpType:     op,
		Kind:       kind,
		Target:     target,
		StartedAt:  time.Now(),
		Processing: true,
	}
}

// Elapsed returns the run duration, using the current time while the run is
// still open.
func (t *Task) Elapsed() time.Duration {
	if t.EndedAt == nil {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// Finish closes the run: stamps the end time and drops the processing flag.
func (t *Task) Finish() {
	now := time.Now()
	t.EndedAt = &now
	t.Processing = false
}

// Item is one backup/restore candidate: a single application for one user
// profile and one retained generation. (Name, OpType, UserID, PreserveID)
// identifies it; PreserveID zero is the live generation, otherwise it is the
// millisecond timestamp of the retained copy.
type Item struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"column:name;size:255;not null;uniqueIndex:idx_item_key" json:"name"`
	OpType     OpType `gorm:"column:op_type;size:16;not null;uniqueIndex:idx_item_key" json:"op_type"`
	UserID     int    `gorm:"column:user_id;not null;default:0;uniqueIndex:idx_item_key" json:"user_id"`
	PreserveID int64  `gorm:"column:preserve_id;not null;default:0;uniqueIndex:idx_item_key" json:"preserve_id"`

	Label       string `gorm:"column:label;size:255" json:"label"`
	VersionName string `gorm:"column:version_name;size:128" json:"version_name"`
	VersionCode int64  `gorm:"column:version_code" json:"version_code"`

	// Activated marks the item as selected for the next run. The engine
	// clears it on every item at the end of every run.
	Activated bool `gorm:"column:activated;index" json:"activated"`

	ApkBytes    int64  `gorm:"column:apk_bytes" json:"apk_bytes"`
	DataBytes   int64  `gorm:"column:data_bytes" json:"data_bytes"`
	Compression string `gorm:"column:compression;size:16" json:"compression"`

	State   ItemState `gorm:"column:state;size:16;not null;default:'pending'" json:"state"`
	Message string    `gorm:"column:message;size:1024" json:"message"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

func (Item) TableName() string {
	return "items"
}

// SourceBytes is the item's contribution to a run's raw byte counter for the
// given task kind.
func (i *Item) SourceBytes(kind TaskKind) int64 {
	if kind == KindFull {
		return i.ApkBytes + i.DataBytes
	}
	return i.ApkBytes
}

// Succeed records a successful outcome on the item.
func (i *Item) Succeed() {
	i.State = StateSucceeded
	i.Message = ""
}

// Fail records a failed outcome with the reason.
func (i *Item) Fail(err error) {
	i.State = StateFailed
	if err != nil {
		i.Message = err.Error()
	}
}
