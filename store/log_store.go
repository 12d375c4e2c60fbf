package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/millbrook-digital/xmplsync/sync"
)

// DefaultLogsPerPage is the page size for the paginated log listing.
const DefaultLogsPerPage = 20

// SyncLogRecord is the persisted shape of one audit entry.
type SyncLogRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"index"`
	UserID       int64
	Action       string `gorm:"size:50;not null"`
	RequestData  string `gorm:"type:text"`
	ResponseData string `gorm:"type:text"`
	Status       string `gorm:"size:20;not null"`
	ErrorMessage string `gorm:"type:text"`
}

func (SyncLogRecord) TableName() string {
	return "xmpl_sync_logs"
}

// LogStore is the GORM-backed audit log store. It implements sync.LogStore.
type LogStore struct {
	db       *gorm.DB
	recorder *queryRecorder
	logger   *zap.Logger
}

func NewLogStore(db *gorm.DB, logger *zap.Logger) *LogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := newQueryRecorder(logger)
	return &LogStore{
		db:       db.Session(&gorm.Session{Logger: recorder}),
		recorder: recorder,
		logger:   logger,
	}
}

// Ensure creates the log table if it is missing. Safe to call repeatedly; it
// is invoked at install time and on demand.
func (s *LogStore) Ensure(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&SyncLogRecord{})
}

func (s *LogStore) Append(ctx context.Context, e sync.Entry) error {
	record := SyncLogRecord{
		Timestamp:    e.Timestamp,
		UserID:       e.UserID,
		Action:       string(e.Action),
		RequestData:  e.RequestData,
		ResponseData: e.ResponseData,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns one page of entries, newest first, plus the total count.
// page starts at 1; a perPage of 0 or less means DefaultLogsPerPage.
func (s *LogStore) List(ctx context.Context, page, perPage int) ([]sync.Entry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultLogsPerPage
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&SyncLogRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []SyncLogRecord
	err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]sync.Entry, len(records))
	for i, r := range records {
		entries[i] = r.entry()
	}
	return entries, total, nil
}

// Truncate removes all log entries.
func (s *LogStore) Truncate(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&SyncLogRecord{}).Error
}

// Diagnostics reports the most recent storage error and query, for the
// self-test report.
func (s *LogStore) Diagnostics() Diagnostics {
	lastQuery, lastError := s.recorder.snapshot()
	return Diagnostics{
		LastError: lastError,
		LastQuery: lastQuery,
		Dialect:   s.db.Name(),
		TableName: SyncLogRecord{}.TableName(),
	}
}

func (r SyncLogRecord) entry() sync.Entry {
	return sync.Entry{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		UserID:       r.UserID,
		Action:       sync.Action(r.Action),
		RequestData:  r.RequestData,
		ResponseData: r.ResponseData,
		Status:       sync.Status(r.Status),
		ErrorMessage: r.ErrorMessage,
	}
}
