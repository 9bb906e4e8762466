package userdb

import (
	"encoding/base64"
	"errors"

	"gorm.io/gorm"

	"github.com/edsphinx/log-o/pkg/pwdhash"
	"github.com/edsphinx/log-o/pkg/rando"
)

// Session tokens are 32 bytes from crypto/rand (256 bits), base64 encoded, bound 1:1
// to a user. We store only the sha256 of the token; the plaintext exists exactly once,
// in the response to a successful login.
const tokenBytes = 32

// IssueToken generates a fresh session token for the user, stores its hash, and
// returns the plaintext. The store is a single UPDATE, so two concurrent logins
// can never both end up holding a live token: the last write wins and the loser's
// token hash is overwritten.
// Issuing a token implicitly invalidates any prior token for the same user.
func (u *UserDB) IssueToken(userID int64) (string, error) {
	token := base64.StdEncoding.EncodeToString(rando.StrongRandomBytes(tokenBytes))
	res := u.DB.Model(&User{}).Where("id = ?", userID).Update("token", pwdhash.HashSessionToken(token))
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return token, nil
}

// InvalidateToken closes the user's session by rotating the token to a fresh random
// value that is never surfaced. This differs from IssueToken only in that the result
// is discarded, so logout cannot hand the caller a usable credential.
func (u *UserDB) InvalidateToken(userID int64) error {
	_, err := u.IssueToken(userID)
	return err
}

// UserByToken returns the user whose stored token hash matches the presented token.
// An empty token must never validate, regardless of what the store contains.
func (u *UserDB) UserByToken(token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	user := User{}
	if err := u.DB.First(&user, "token = ?", pwdhash.HashSessionToken(token)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
