package server

import (
	"net/http"

	"github.com/edsphinx/log-o/pkg/pwdhash"
	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type loginRequestJSON struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponseJSON struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// httpAuth handles POST /api/auth.
// On success the session token is returned both as a cookie and in the body,
// and any previously issued token for the user is dead.
func (s *Server) httpAuth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := loginRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	user, token, err := s.UserDB.Authenticate(req.Email, req.Password, remoteIP(r))
	if err != nil {
		sendReason(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
	message := "success"
	if user.ForcePasswordChange {
		message = "force_password_change"
	}
	www.SendJSON(w, &loginResponseJSON{
		Message: message,
		Token:   token,
	})
}

// httpLogout handles POST /api/logout.
// Logging out rotates the user's token to a fresh value that is never disclosed,
// so the old token is dead and no live token exists until the next login.
func (s *Server) httpLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	if err := s.UserDB.InvalidateToken(user.ID); err != nil {
		s.Log.Errorf("Logout of %v failed: %v", user.Email, err)
		s.Audit.Record("Logout Failed (Could Not Save User): " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_logout")
		return
	}
	s.Audit.Record("Logout: " + user.Email + " IP: " + remoteIP(r))
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	sendReason(w, http.StatusOK, "success")
}

type changePasswordRequestJSON struct {
	NewPassword string `json:"newPassword"`
}

// httpUserChangePassword handles POST /api/user/password.
// Any authenticated user may change their own password. The new password must not
// match any of the user's recent passwords, including the current one.
func (s *Server) httpUserChangePassword(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := changePasswordRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	if req.NewPassword == "" {
		s.Audit.Record("User Change Password Failed (Password Required): " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "password_required")
		return
	}

	history, err := s.UserDB.PasswordHistory(user.ID)
	if err != nil {
		s.Log.Errorf("Error reading password history of %v: %v", user.Email, err)
		sendReason(w, http.StatusInternalServerError, "could_not_change_password")
		return
	}
	if pwdhash.IsReused(req.NewPassword, history) {
		s.Audit.Record("User Change Password Failed (Password Matches Historical): " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "password_matches_historical")
		return
	}

	hash, err := pwdhash.HashPassword(req.NewPassword)
	if err != nil {
		s.Audit.Record("User Change Password Failed (Invalid Password): " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "invalid_password")
		return
	}
	if err := s.UserDB.SetPassword(user.ID, hash, false); err != nil {
		s.Log.Errorf("Error saving new password of %v: %v", user.Email, err)
		s.Audit.Record("User Change Password Failed (Could Not Save User): " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_change_password")
		return
	}
	s.Audit.Record("User Change Password: " + user.Email + " IP: " + remoteIP(r))
	sendReason(w, http.StatusOK, "success")
}
