package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
)

// Action tags every audit entry with the orchestration step it records.
type Action string

const (
	ActionSyncStart          Action = "SYNC_START"
	ActionSyncSkipped        Action = "SYNC_SKIPPED"
	ActionSyncError          Action = "SYNC_ERROR"
	ActionConfigCheck        Action = "CONFIG_CHECK"
	ActionAPIRequest         Action = "API_REQUEST"
	ActionRawResponse        Action = "RAW_RESPONSE"
	ActionAPIResponseDetails Action = "API_RESPONSE_DETAILS"
	ActionSyncSuccess        Action = "SYNC_SUCCESS"
	ActionAPIError           Action = "API_ERROR"
	ActionTestStart          Action = "TEST_START"
	ActionTestRequest        Action = "TEST_REQUEST"
	ActionTestResponse       Action = "TEST_RESPONSE_DETAILS"
	ActionTestSuccess        Action = "TEST_SUCCESS"
	ActionTestError          Action = "TEST_ERROR"
	ActionRegistrationDebug  Action = "REGISTRATION_DEBUG"
	ActionLogSystemTest      Action = "LOG_SYSTEM_TEST"
)

// Status classifies an audit entry.
type Status string

const (
	StatusInfo    Status = "INFO"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
	StatusTest    Status = "TEST"
)

// Entry is one append-only audit record. UserID 0 marks entries that are not
// user-specific, such as connection tests.
type Entry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       int64     `json:"user_id"`
	Action       Action    `json:"action"`
	RequestData  string    `json:"request_data"`
	ResponseData string    `json:"response_data"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// LogStore is the persistence collaborator for audit entries: append-only
// inserts, a paginated newest-first read, idempotent schema-ensure and a
// truncate-all.
type LogStore interface {
	Append(ctx context.Context, e Entry) error
	// List returns one page of entries ordered by timestamp descending,
	// plus the total entry count.
	List(ctx context.Context, page, perPage int) ([]Entry, int64, error)
	Ensure(ctx context.Context) error
	Truncate(ctx context.Context) error
}

// FallbackBufferSize bounds the in-memory buffer of entries whose store
// write failed.
const FallbackBufferSize = 100

// Recorder writes audit entries best-effort: a failing store never fails the
// caller. Failed entries go to the process diagnostic log and a bounded
// in-memory fallback buffer instead.
type Recorder struct {
	Store  LogStore
	Logger *zap.Logger

	mu       stdsync.Mutex
	fallback []Entry
}

func NewRecorder(store LogStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{Store: store, Logger: logger}
}

// Record appends one audit entry. requestData and responseData may be nil,
// already-serialized strings, raw bytes or arbitrary structured values; all
// are stored as text. Failures are swallowed by design.
func (r *Recorder) Record(ctx context.Context, userID int64, action Action, requestData, responseData interface{}, status Status, errorMessage string) {
	e := Entry{
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       action,
		RequestData:  serializeSnapshot(requestData),
		ResponseData: serializeSnapshot(responseData),
		Status:       status,
		ErrorMessage: errorMessage,
	}
	if err := r.Store.Append(ctx, e); err != nil {
		r.Logger.Warn("audit log write failed",
			zap.String("action", string(action)),
			zap.Int64("user_id", userID),
			zap.Error(err))
		r.mu.Lock()
		if len(r.fallback) < FallbackBufferSize {
			r.fallback = append(r.fallback, e)
		}
		r.mu.Unlock()
	}
}

// Fallback returns a copy of the entries that could not be persisted.
func (r *Recorder) Fallback() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Entry, len(r.fallback))
	copy(result, r.fallback)
	return result
}

// serializeSnapshot renders a request or response snapshot as text,
// tolerating already-serialized strings and structured values uniformly.
func serializeSnapshot(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
