package userdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"

	"github.com/edsphinx/log-o/pkg/pwdhash"
	"github.com/edsphinx/log-o/server/audit"
)

// HistoryLimit bounds the number of prior password hashes kept per user.
const HistoryLimit = 10

// BootstrapEmail and BootstrapPassword are the first-run administrator credentials.
// The account is created with ForcePasswordChange, so the default password only
// survives until the first login.
const BootstrapEmail = "admin"
const BootstrapPassword = "admin"

var (
	// ErrNotFound means the entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is the single opaque outward signal for all authentication
	// failures (unknown user, inactive user, bad password). The audit trail keeps
	// the distinction; the caller must not.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSession means the presented token does not map to an active user.
	ErrInvalidSession = errors.New("invalid session")
	// ErrForbidden means the session is valid but lacks the required permission.
	ErrForbidden = errors.New("forbidden")
)

// UserDB is the credential store: operator accounts, their password history, and
// their live session tokens.
type UserDB struct {
	Log   logs.Log
	DB    *gorm.DB
	Audit audit.Recorder
}

func NewUserDB(logger logs.Log, auditor audit.Recorder, cfg dbh.DBConfig) (*UserDB, error) {
	db, err := dbh.OpenDB(logger, cfg, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open user database: %w", err)
	}
	u := &UserDB{
		Log:   logger,
		DB:    db,
		Audit: auditor,
	}
	if err := u.Bootstrap(); err != nil {
		return nil, err
	}
	return u, nil
}

// Bootstrap creates the first-run administrator if and only if no users exist.
func (u *UserDB) Bootstrap() error {
	n := int64(0)
	if err := u.DB.Model(&User{}).Count(&n).Error; err != nil {
		return err
	}
	if n != 0 {
		return nil
	}
	hash, err := pwdhash.HashPassword(BootstrapPassword)
	if err != nil {
		return err
	}
	admin := User{
		Email:               BootstrapEmail,
		Password:            hash,
		Active:              true,
		ForcePasswordChange: true,
		Permissions:         dbh.MakeJSONField(AllPermissions()),
		CreatedAt:           dbh.MakeIntTime(time.Now()),
	}
	if err := u.DB.Create(&admin).Error; err != nil {
		return err
	}
	u.Log.Infof("Created bootstrap admin user %v", BootstrapEmail)
	u.Audit.Record("User Add: " + BootstrapEmail)
	return nil
}

func (u *UserDB) UserByEmail(email string) (*User, error) {
	user := User{}
	if err := u.DB.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (u *UserDB) AllUsers() ([]User, error) {
	var users []User
	return users, u.DB.Order("email").Find(&users).Error
}

func (u *UserDB) CreateUser(user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = dbh.MakeIntTime(time.Now())
	}
	return u.DB.Create(user).Error
}

// SaveUser persists changes to an existing user. A user with a pre-existing identity
// (matching email) is updated, never duplicated.
func (u *UserDB) SaveUser(user *User) error {
	if user.ID == 0 {
		existing, err := u.UserByEmail(user.Email)
		if err != nil {
			return err
		}
		user.ID = existing.ID
	}
	return u.DB.Save(user).Error
}

// PasswordHistory returns the active hash followed by prior hashes, most recent first.
func (u *UserDB) PasswordHistory(userID int64) ([][]byte, error) {
	user := User{}
	if err := u.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var prior []PriorPassword
	if err := u.DB.Where("user_id = ?", userID).Order("id DESC").Limit(HistoryLimit).Find(&prior).Error; err != nil {
		return nil, err
	}
	history := [][]byte{}
	if len(user.Password) != 0 {
		history = append(history, user.Password)
	}
	for _, p := range prior {
		history = append(history, p.Password)
	}
	return history, nil
}

// SetPassword replaces the user's password hash, pushing the old hash into the
// bounded history, in a single transaction.
func (u *UserDB) SetPassword(userID int64, hash []byte, forceChange bool) error {
	return u.DB.Transaction(func(tx *gorm.DB) error {
		user := User{}
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(user.Password) != 0 {
			old := PriorPassword{
				UserID:    userID,
				Password:  user.Password,
				CreatedAt: dbh.MakeIntTime(time.Now()),
			}
			if err := tx.Create(&old).Error; err != nil {
				return err
			}
		}
		// Trim history to the bound. HistoryLimit-1 prior entries, because the
		// active hash counts as part of the history.
		if err := tx.Exec(
			`DELETE FROM prior_password WHERE user_id = ? AND id NOT IN
			 (SELECT id FROM prior_password WHERE user_id = ? ORDER BY id DESC LIMIT ?)`,
			userID, userID, HistoryLimit-1).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).Where("id = ?", userID).
			Updates(map[string]any{"password": hash, "force_password_change": forceChange}).Error
	})
}
