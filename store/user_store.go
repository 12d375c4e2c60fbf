package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/millbrook-digital/xmplsync/sync"
)

// UserAccount mirrors the host application's user table. The sync core only
// ever reads it.
type UserAccount struct {
	ID          int64     `gorm:"primaryKey"`
	Login       string    `gorm:"column:user_login;size:60"`
	Email       string    `gorm:"column:user_email;size:100"`
	URL         string    `gorm:"column:user_url;size:100"`
	FirstName   string    `gorm:"size:250"`
	LastName    string    `gorm:"size:250"`
	DisplayName string    `gorm:"size:250"`
	Registered  time.Time `gorm:"column:user_registered"`
}

func (UserAccount) TableName() string {
	return "users"
}

// UserMetaRecord is one arbitrary per-user key-value pair. The sync core
// uses a single key, sync.RecipientIDMetaKey.
type UserMetaRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"uniqueIndex:idx_user_meta_user_key"`
	MetaKey   string `gorm:"size:255;uniqueIndex:idx_user_meta_user_key"`
	MetaValue string `gorm:"type:text"`
}

func (UserMetaRecord) TableName() string {
	return "user_meta"
}

// UserStore is the GORM-backed user-account collaborator. It implements
// sync.UserStore.
type UserStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUserStore(db *gorm.DB, logger *zap.Logger) *UserStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserStore{db: db, logger: logger}
}

// Ensure creates the user tables if missing. Intended for installations
// where this module owns the schema; against a host-owned database it is a
// no-op because the tables already exist.
func (s *UserStore) Ensure(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&UserAccount{}, &UserMetaRecord{})
}

func (s *UserStore) User(ctx context.Context, id int64) (sync.UserRecord, error) {
	var account UserAccount
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sync.UserRecord{}, sync.ErrNoSuchUser
	}
	if err != nil {
		return sync.UserRecord{}, err
	}
	return sync.UserRecord{
		ID:          account.ID,
		Email:       account.Email,
		Username:    account.Login,
		FirstName:   account.FirstName,
		LastName:    account.LastName,
		DisplayName: account.DisplayName,
		Website:     account.URL,
		Registered:  account.Registered,
	}, nil
}

func (s *UserStore) RecipientID(ctx context.Context, id int64) (string, error) {
	value, err := s.Meta(ctx, id, sync.RecipientIDMetaKey)
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetRecipientID persists the remote identifier for a user. An existing
// value is never overwritten, keeping the at-most-once invariant.
func (s *UserStore) SetRecipientID(ctx context.Context, id int64, recipientID string) error {
	var existing UserMetaRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND meta_key = ?", id, sync.RecipientIDMetaKey).
		First(&existing).Error
	if err == nil {
		if existing.MetaValue != "" {
			s.logger.Warn("refusing to overwrite recipient id",
				zap.Int64("user_id", id),
				zap.String("existing", existing.MetaValue))
			return nil
		}
		existing.MetaValue = recipientID
		return s.db.WithContext(ctx).Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.WithContext(ctx).Create(&UserMetaRecord{
		UserID:    id,
		MetaKey:   sync.RecipientIDMetaKey,
		MetaValue: recipientID,
	}).Error
}

// Meta returns an arbitrary metadata value for a user, or "" if unset.
func (s *UserStore) Meta(ctx context.Context, id int64, key string) (string, error) {
	var record UserMetaRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND meta_key = ?", id, key).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.MetaValue, nil
}

// CreateUser inserts a user account, mainly for seeding and tests.
func (s *UserStore) CreateUser(ctx context.Context, account UserAccount) (int64, error) {
	err := s.db.WithContext(ctx).Create(&account).Error
	return account.ID, err
}
