package userdb

import (
	"errors"

	"github.com/edsphinx/log-o/pkg/pwdhash"
)

// Authorize maps a presented session token plus a required permission to a user.
// Pass perm == "" for operations that only need a valid session.
// Denials are audited with the internal reason; the caller surfaces all of them as
// the same opaque 401.
func (u *UserDB) Authorize(token string, perm Permission, origin string) (*User, error) {
	user, err := u.UserByToken(token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			u.Log.Errorf("Token lookup failed: %v", err)
		}
		u.Audit.Record("Request Denied (Invalid Session) IP: " + origin)
		return nil, ErrInvalidSession
	}
	if !user.Active {
		u.Audit.Record("Request Denied (User Not Active): " + user.Email + " IP: " + origin)
		return nil, ErrInvalidSession
	}
	if perm != "" && !user.HasPermission(perm) {
		u.Audit.Record("Request Denied (Forbidden " + string(perm) + "): " + user.Email + " IP: " + origin)
		return nil, ErrForbidden
	}
	return user, nil
}

// Authenticate verifies the email/password pair and, on success, rotates the user's
// session token and returns the fresh plaintext token.
// Unknown user, inactive user and bad password are distinguishable in the audit trail
// but all surface as ErrUnauthorized, to avoid user enumeration.
// Every branch emits exactly one audit record.
func (u *UserDB) Authenticate(email, password, origin string) (*User, string, error) {
	user, err := u.UserByEmail(email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			u.Log.Errorf("User lookup failed for %v: %v", email, err)
		}
		u.Audit.Record("Auth Failed (User Not Found): " + email + " IP: " + origin)
		return nil, "", ErrUnauthorized
	}
	if !user.Active {
		u.Audit.Record("Auth Failed (User Not Active): " + user.Email + " IP: " + origin)
		return nil, "", ErrUnauthorized
	}
	if !pwdhash.Verify(password, user.Password) {
		u.Audit.Record("Auth Failed (Invalid Password): " + email + " IP: " + origin)
		return nil, "", ErrUnauthorized
	}
	token, err := u.IssueToken(user.ID)
	if err != nil {
		u.Log.Errorf("Failed to issue token for %v: %v", user.Email, err)
		u.Audit.Record("Auth Failed (Could Not Save User): " + user.Email + " IP: " + origin)
		return nil, "", ErrUnauthorized
	}
	if user.ForcePasswordChange {
		u.Audit.Record("Auth (Force Password Change): " + user.Email + " IP: " + origin)
	} else {
		u.Audit.Record("Auth: " + user.Email + " IP: " + origin)
	}
	return user, token, nil
}
