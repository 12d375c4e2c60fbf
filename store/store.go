// Package store provides the GORM-backed collaborators of the sync core:
// the append-only audit log store and the user-account store.
package store

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Diagnostics is the metadata attached to self-test reports: the most recent
// storage error and query observed on the connection.
type Diagnostics struct {
	LastError string `json:"last_error"`
	LastQuery string `json:"last_query"`
	Dialect   string `json:"dialect"`
	TableName string `json:"table_name"`
}

// queryRecorder is a gorm logger that remembers the last query and error so
// they can be reported by the log-system self test, and forwards errors to
// the process diagnostic log.
type queryRecorder struct {
	logger *zap.Logger

	mu        stdsync.Mutex
	lastQuery string
	lastError string
}

func newQueryRecorder(logger *zap.Logger) *queryRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryRecorder{logger: logger}
}

func (r *queryRecorder) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return r
}

func (r *queryRecorder) Info(ctx context.Context, msg string, args ...interface{}) {
	r.logger.Sugar().Debugf(msg, args...)
}

func (r *queryRecorder) Warn(ctx context.Context, msg string, args ...interface{}) {
	r.logger.Sugar().Warnf(msg, args...)
}

func (r *queryRecorder) Error(ctx context.Context, msg string, args ...interface{}) {
	r.logger.Sugar().Errorf(msg, args...)
}

func (r *queryRecorder) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// empty lookups are routine, not storage failures
		err = nil
	}
	r.mu.Lock()
	r.lastQuery = sql
	if err != nil {
		r.lastError = err.Error()
	}
	r.mu.Unlock()
	if err != nil {
		r.logger.Debug("query failed", zap.String("sql", sql), zap.Error(err))
	}
}

func (r *queryRecorder) snapshot() (lastQuery, lastError string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastQuery, r.lastError
}
