package sync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a sync attempt failed. Every kind is terminal for
// the attempt; nothing is retried by the core.
type ErrorKind int64

const (
	// ConfigurationIncomplete means endpoint, token or mappings were
	// missing, so no remote call was attempted.
	ConfigurationIncomplete ErrorKind = iota
	// TransportFailure covers DNS, connect and timeout errors.
	TransportFailure
	// ApiError means the API answered with a non-2xx status, an unparsable
	// body, or a body missing the recipientID field.
	ApiError
	// UserNotFound means the registration event referenced a user the
	// store could not resolve.
	UserNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationIncomplete:
		return "configuration-incomplete"
	case TransportFailure:
		return "transport-failure"
	case ApiError:
		return "api-error"
	case UserNotFound:
		return "user-not-found"
	}
	return fmt.Sprintf("unknown(%d)", int64(k))
}

// SyncError is the single error type crossing the boundary of a sync
// attempt. StatusCode and Body are only set for ApiError.
type SyncError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Body       string
	cause      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

// AsSyncError unwraps err into a *SyncError if there is one in its chain.
func AsSyncError(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}
