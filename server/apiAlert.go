package server

import (
	"errors"
	"net/http"

	"github.com/edsphinx/log-o/server/logdb"
	"github.com/edsphinx/log-o/server/mailer"
	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type alertRequestJSON struct {
	Name   string        `json:"name"`
	Email  string        `json:"email"`
	Enable *bool         `json:"enable"`
	Filter *logdb.Filter `json:"filter"`
}

// httpAlertAdd handles POST /api/alert/add.
// An alert pairs a message filter with a notification email address.
func (s *Server) httpAlertAdd(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := alertRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	if req.Name == "" || !mailer.IsValidEmail(req.Email) {
		s.Audit.Record("Alert Add Failed (Invalid Alert): " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusBadRequest, "invalid_alert")
		return
	}

	alert := logdb.Alert{
		Name:   req.Name,
		Email:  req.Email,
		Enable: true,
	}
	if req.Enable != nil {
		alert.Enable = *req.Enable
	}
	if req.Filter != nil {
		alert.SetFilter(*req.Filter)
	}
	if err := s.LogDB.SaveAlert(&alert); err != nil {
		s.Log.Errorf("Error saving alert %v: %v", req.Name, err)
		s.Audit.Record("Alert Add Failed (Could Not Save Alert): " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_save_alert")
		return
	}
	s.Audit.Record("Alert Add: " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
	sendReason(w, http.StatusOK, "success")
}

// httpAlertList handles GET /api/alert/list.
func (s *Server) httpAlertList(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	alerts, err := s.LogDB.Alerts()
	www.Check(err)
	s.Audit.Record("Alert List: " + user.Email + " IP: " + remoteIP(r))
	www.SendJSON(w, alerts)
}

// httpAlertEdit handles POST /api/alert/edit.
// Alerts are addressed by name. Only the fields present in the request change.
func (s *Server) httpAlertEdit(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	req := alertRequestJSON{}
	www.ReadJSON(w, r, &req, 1024*1024)

	alert, err := s.LogDB.AlertByName(req.Name)
	if errors.Is(err, logdb.ErrAlertNotFound) {
		s.Audit.Record("Alert Edit Failed (Alert Not Found): " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusNotFound, "alert_does_not_exist")
		return
	}
	www.Check(err)

	if req.Email != "" {
		if !mailer.IsValidEmail(req.Email) {
			s.Audit.Record("Alert Edit Failed (Invalid Alert): " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
			sendReason(w, http.StatusBadRequest, "invalid_alert")
			return
		}
		alert.Email = req.Email
	}
	if req.Enable != nil {
		alert.Enable = *req.Enable
	}
	if req.Filter != nil {
		alert.SetFilter(*req.Filter)
	}

	if err := s.LogDB.SaveAlert(alert); err != nil {
		s.Log.Errorf("Error saving alert %v: %v", req.Name, err)
		s.Audit.Record("Alert Edit Failed (Could Not Save Alert): " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
		sendReason(w, http.StatusInternalServerError, "could_not_save_alert")
		return
	}
	s.Audit.Record("Alert Edit: " + req.Name + " by: " + user.Email + " IP: " + remoteIP(r))
	sendReason(w, http.StatusOK, "success")
}
