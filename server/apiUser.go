package server

import (
	"errors"
	"net/http"

	"github.com/edsphinx/log-o/pkg/pwdhash"
	"github.com/edsphinx/log-o/pkg/rando"
	"github.com/edsphinx/log-o/server/mailer"
	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// generatedPasswordLen is the length of the random passwords we mail out for
// new and reset accounts. The recipient is forced to change it on first login.
const generatedPasswordLen = 14

type addUserRequestJSON struct {
	Email string `json:"email"`
}

// httpUserAdd handles POST /api/user/add.
// New users start with the SEARCH permission only, and a random password that is
// mailed to them and must be changed on first login.
func (s *Server) httpUserAdd(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := addUserRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	if !mailer.IsValidEmail(req.Email) {
		s.Audit.Record("User Add Failed (Invalid Email): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "invalid_email")
		return
	}
	if _, err := s.UserDB.UserByEmail(req.Email); err == nil {
		s.Audit.Record("User Add Failed (Duplicate Email): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "invalid_email")
		return
	}

	clearPassword := rando.StrongRandomAlphaNumChars(generatedPasswordLen)
	hash, err := pwdhash.HashPassword(clearPassword)
	www.Check(err)

	newUser := userdb.User{
		Email:               req.Email,
		Password:            hash,
		Active:              true,
		ForcePasswordChange: true,
		Permissions:         dbh.MakeJSONField([]userdb.Permission{userdb.PermSearch}),
	}
	if err := s.UserDB.CreateUser(&newUser); err != nil {
		s.Log.Errorf("Error creating user %v: %v", req.Email, err)
		s.Audit.Record("User Add Failed (Could Not Save User): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_save_user")
		return
	}
	s.Audit.Record("User Add: " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
	s.Mailer.SendWelcome(newUser.Email, clearPassword)
	sendReason(w, http.StatusOK, "success")
}

// httpUserList handles GET /api/user/list.
// Password and token hashes never leave the database layer.
func (s *Server) httpUserList(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	users, err := s.UserDB.AllUsers()
	www.Check(err)
	s.Audit.Record("User List: " + user.Email + " IP: " + remoteIP(r))
	www.SendJSON(w, users)
}

type editUserRequestJSON struct {
	Email               string               `json:"email"`
	Active              *bool                `json:"active"`
	ForcePasswordChange *bool                `json:"forcePasswordChange"`
	Permissions         *[]userdb.Permission `json:"permissions"`
}

// httpUserEdit handles POST /api/user/edit.
// Only the fields present in the request are changed.
func (s *Server) httpUserEdit(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := editUserRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	target, err := s.UserDB.UserByEmail(req.Email)
	if errors.Is(err, userdb.ErrNotFound) {
		s.Audit.Record("User Edit Failed (User Not Found): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusNotFound, "user_does_not_exist")
		return
	}
	www.Check(err)

	if req.Permissions != nil {
		for _, perm := range *req.Permissions {
			if !userdb.IsValidPermission(perm) {
				s.Audit.Record("User Edit Failed (Invalid Permission " + string(perm) + "): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
				sendReason(w, http.StatusBadRequest, "invalid_permission")
				return
			}
		}
		target.Permissions = dbh.MakeJSONField(*req.Permissions)
	}
	if req.Active != nil {
		target.Active = *req.Active
	}
	if req.ForcePasswordChange != nil {
		target.ForcePasswordChange = *req.ForcePasswordChange
	}

	if err := s.UserDB.SaveUser(target); err != nil {
		s.Log.Errorf("Error saving user %v: %v", req.Email, err)
		s.Audit.Record("User Edit Failed (Could Not Save User): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_save_user")
		return
	}
	s.Audit.Record("User Edit: " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
	sendReason(w, http.StatusOK, "success")
}

type resetUserRequestJSON struct {
	Email string `json:"email"`
}

// httpUserReset handles POST /api/user/reset.
// The target gets a fresh random password by mail and must change it on next login.
func (s *Server) httpUserReset(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := resetUserRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	target, err := s.UserDB.UserByEmail(req.Email)
	if errors.Is(err, userdb.ErrNotFound) {
		s.Audit.Record("User Reset Failed (User Not Found): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusNotFound, "user_not_found")
		return
	}
	www.Check(err)

	clearPassword := rando.StrongRandomAlphaNumChars(generatedPasswordLen)
	hash, err := pwdhash.HashPassword(clearPassword)
	www.Check(err)

	if err := s.UserDB.SetPassword(target.ID, hash, true); err != nil {
		s.Log.Errorf("Error resetting password of %v: %v", req.Email, err)
		s.Audit.Record("User Reset Failed (Could Not Save User): " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_save_user")
		return
	}
	s.Audit.Record("User Reset: " + req.Email + " by: " + user.Email + " IP: " + remoteIP(r))
	s.Mailer.SendReset(target.Email, user.Email, clearPassword)
	sendReason(w, http.StatusOK, "success")
}
