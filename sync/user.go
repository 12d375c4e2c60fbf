package sync

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// RecipientIDMetaKey is the per-user metadata key holding the remote
// recipient identifier once a user has been synchronized.
const RecipientIDMetaKey = "xmpl_recipient_id"

// RegisteredTimestampFormat is how registration timestamps are rendered when
// mapped into ador values, matching the host application's datetime format.
const RegisteredTimestampFormat = "2006-01-02 15:04:05"

// ErrNoSuchUser is returned by UserStore implementations when the requested
// user does not exist.
var ErrNoSuchUser = errors.New("no such user")

// UserRecord is a read-only snapshot of a local user account. The core only
// ever reads attributes off it through Value.
type UserRecord struct {
	ID          int64
	Email       string
	Username    string
	FirstName   string
	LastName    string
	DisplayName string
	Website     string
	Registered  time.Time
}

// Value returns the attribute addressed by source, coerced to a string the
// remote API accepts. SourceGeneratedGUID has no stored value (it is
// synthesized at send time by the payload builder) so it, like any source
// outside the closed set, reports false.
func (u UserRecord) Value(source FieldSource) (string, bool) {
	switch source {
	case SourceEmail:
		return u.Email, true
	case SourceUsername:
		return u.Username, true
	case SourceFirstName:
		return u.FirstName, true
	case SourceLastName:
		return u.LastName, true
	case SourceDisplayName:
		return u.DisplayName, true
	case SourceWebsite:
		return u.Website, true
	case SourceRegistered:
		return u.Registered.UTC().Format(RegisteredTimestampFormat), true
	case SourceUserID:
		return strconv.FormatInt(u.ID, 10), true
	}
	return "", false
}

// UserStore is the user-account collaborator. The core reads users and their
// persisted sync state through it and writes exactly one value: the remote
// recipient identifier after a successful sync.
type UserStore interface {
	// User loads a user record, returning ErrNoSuchUser if absent.
	User(ctx context.Context, id int64) (UserRecord, error)
	// RecipientID returns the persisted remote identifier for the user,
	// or "" if the user has never been synchronized.
	RecipientID(ctx context.Context, id int64) (string, error)
	// SetRecipientID persists the remote identifier. Implementations must
	// keep an existing value rather than overwrite it.
	SetRecipientID(ctx context.Context, id int64, recipientID string) error
}
