package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// SessionCookie is the name of the cookie that carries the session token.
// Clients that can't use cookies send the same token as "Authorization: Bearer <token>".
const SessionCookie = "session"

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// protected creates an HTTP handler that is accessible only with a valid session
	// holding the given permission. An empty permission means any valid session will do.
	protected := func(method, route string, perm userdb.Permission, handle authenticatedHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			user, err := s.UserDB.Authorize(sessionToken(r), perm, remoteIP(r))
			if err != nil {
				sendReason(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			handle(w, r, params, user)
		})
	}

	// unprotected creates an HTTP handler that is accessible without authentication
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// ratelimited creates an unprotected handler with a per-IP rate limit
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/api/ping", s.httpPing)

	ratelimited("POST", "/api/auth", s.httpAuth, 20, time.Minute)
	protected("POST", "/api/logout", "", s.httpLogout)
	protected("POST", "/api/user/password", "", s.httpUserChangePassword)

	protected("POST", "/api/user/add", userdb.PermUserAdd, s.httpUserAdd)
	protected("GET", "/api/user/list", userdb.PermUserList, s.httpUserList)
	protected("POST", "/api/user/edit", userdb.PermUserEdit, s.httpUserEdit)
	protected("POST", "/api/user/reset", userdb.PermUserReset, s.httpUserReset)

	protected("GET", "/api/search", userdb.PermSearch, s.httpSearch)
	protected("GET", "/api/message/last", userdb.PermSearch, s.httpLastMessage)
	protected("GET", "/api/tail", userdb.PermTail, s.httpTail)

	protected("POST", "/api/alert/add", userdb.PermAlertAdd, s.httpAlertAdd)
	protected("GET", "/api/alert/list", userdb.PermAlertList, s.httpAlertList)
	protected("POST", "/api/alert/edit", userdb.PermAlertEdit, s.httpAlertEdit)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, &pingJSON{
		Time: time.Now().Unix(),
	})
}

type pingJSON struct {
	Time int64 `json:"time"`
}

// sessionToken extracts the session token from the request, or returns "" if there is none.
func sessionToken(r *http.Request) string {
	if cookie, _ := r.Cookie(SessionCookie); cookie != nil && cookie.Value != "" {
		return cookie.Value
	}
	authorization := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return token
	}
	return ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type reasonJSON struct {
	Message string `json:"message"`
}

// sendReason sends one of our wire-contract reason strings, wrapped in JSON.
// Clients switch on the message value, so these strings never change.
func sendReason(w http.ResponseWriter, statusCode int, reason string) {
	raw, _ := json.Marshal(&reasonJSON{Message: reason})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(raw)
}
