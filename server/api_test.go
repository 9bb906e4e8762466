package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/edsphinx/log-o/pkg/pwdhash"
	"github.com/edsphinx/log-o/server/audit"
	"github.com/edsphinx/log-o/server/logdb"
	"github.com/edsphinx/log-o/server/mailer"
	"github.com/edsphinx/log-o/server/userdb"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server, *audit.MemRecorder, *mailer.MemMailer) {
	t.Helper()
	logger := logs.NewTestingLog(t)
	auditor := &audit.MemRecorder{}
	mail := &mailer.MemMailer{}
	users, err := userdb.NewUserDB(logger, auditor, dbh.MakeSqliteConfig(filepath.Join(t.TempDir(), "users.sqlite")))
	require.NoError(t, err)
	messages, err := logdb.NewLogDB(logger, dbh.MakeSqliteConfig(filepath.Join(t.TempDir(), "messages.sqlite")))
	require.NoError(t, err)
	s := &Server{
		Log:    logger,
		UserDB: users,
		LogDB:  messages,
		Audit:  auditor,
		Mailer: mail,
	}
	s.setupHttpRoutes()
	ts := httptest.NewServer(s.httpRouter)
	t.Cleanup(ts.Close)
	auditor.Clear()
	return ts, s, auditor, mail
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, map[string]any, []byte) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw := bytes.Buffer{}
	_, err = raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	obj := map[string]any{}
	json.Unmarshal(raw.Bytes(), &obj)
	return resp.StatusCode, obj, raw.Bytes()
}

func login(t *testing.T, ts *httptest.Server, email, password string) (int, string, string) {
	t.Helper()
	status, obj, _ := doRequest(t, ts, "POST", "/api/auth", "", map[string]string{"email": email, "password": password})
	message, _ := obj["message"].(string)
	token, _ := obj["token"].(string)
	return status, message, token
}

// loginAdmin completes the bootstrap flow: first login forces a password change.
func loginAdmin(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, message, token := login(t, ts, userdb.BootstrapEmail, userdb.BootstrapPassword)
	require.Equal(t, 200, status)
	require.Equal(t, "force_password_change", message)
	status, obj, _ := doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": "admin-changed"})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])
	return token
}

// createLimitedUser adds a user directly to the store, bypassing the welcome mail
// so the test knows the password.
func createLimitedUser(t *testing.T, s *Server, email, password string, perms ...userdb.Permission) {
	t.Helper()
	hash, err := pwdhash.HashPassword(password)
	require.NoError(t, err)
	user := &userdb.User{
		Email:       email,
		Password:    hash,
		Active:      true,
		Permissions: dbh.MakeJSONField(perms),
	}
	require.NoError(t, s.UserDB.CreateUser(user))
}

func TestPing(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	status, obj, _ := doRequest(t, ts, "GET", "/api/ping", "", nil)
	require.Equal(t, 200, status)
	require.Contains(t, obj, "time")
}

func TestAuthOpaqueFailures(t *testing.T) {
	ts, _, auditor, _ := newTestServer(t)

	// Unknown user and wrong password must be indistinguishable on the wire
	status, message, _ := login(t, ts, "nobody@x.com", "whatever")
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", message)

	status, message, _ = login(t, ts, userdb.BootstrapEmail, "wrong")
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", message)

	// The distinction lives only in the audit trail
	lines := auditor.Messages()
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "Auth Failed (User Not Found): nobody@x.com")
	require.Contains(t, lines[1], "Auth Failed (Invalid Password): "+userdb.BootstrapEmail)
}

func TestBootstrapLoginForcesPasswordChange(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	status, message, token := login(t, ts, userdb.BootstrapEmail, userdb.BootstrapPassword)
	require.Equal(t, 200, status)
	require.Equal(t, "force_password_change", message)
	require.NotEmpty(t, token)

	// After the forced change, login reports plain success
	status, obj, _ := doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": "fresh-password"})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	status, message, _ = login(t, ts, userdb.BootstrapEmail, "fresh-password")
	require.Equal(t, 200, status)
	require.Equal(t, "success", message)

	// The bootstrap password is dead
	status, message, _ = login(t, ts, userdb.BootstrapEmail, userdb.BootstrapPassword)
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", message)
}

func TestChangePasswordContract(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	_, _, token := login(t, ts, userdb.BootstrapEmail, userdb.BootstrapPassword)

	status, obj, _ := doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": ""})
	require.Equal(t, 400, status)
	require.Equal(t, "password_required", obj["message"])

	// Reusing the current password is rejected
	status, obj, _ = doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": userdb.BootstrapPassword})
	require.Equal(t, 400, status)
	require.Equal(t, "password_matches_historical", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": "brand-new"})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	// Reusing a historical password is rejected too
	status, obj, _ = doRequest(t, ts, "POST", "/api/user/password", token, map[string]string{"newPassword": userdb.BootstrapPassword})
	require.Equal(t, 400, status)
	require.Equal(t, "password_matches_historical", obj["message"])
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{"POST", "/api/logout"},
		{"GET", "/api/user/list"},
		{"GET", "/api/search"},
		{"GET", "/api/message/last"},
		{"GET", "/api/alert/list"},
	} {
		status, obj, _ := doRequest(t, ts, route.method, route.path, "", nil)
		require.Equal(t, 401, status, "route %v %v", route.method, route.path)
		require.Equal(t, "unauthorized", obj["message"])

		status, obj, _ = doRequest(t, ts, route.method, route.path, "bogus-token", nil)
		require.Equal(t, 401, status)
		require.Equal(t, "unauthorized", obj["message"])
	}
}

func TestSessionCookieAccepted(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)

	req, err := http.NewRequest("GET", ts.URL+"/api/user/list", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestLoginRotatesToken(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	first := loginAdmin(t, ts)

	status, _, second := login(t, ts, userdb.BootstrapEmail, "admin-changed")
	require.Equal(t, 200, status)
	require.NotEqual(t, first, second)

	// Only the most recent token is live
	status, obj, _ := doRequest(t, ts, "GET", "/api/user/list", first, nil)
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", obj["message"])

	status, _, _ = doRequest(t, ts, "GET", "/api/user/list", second, nil)
	require.Equal(t, 200, status)
}

func TestLogout(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)

	status, obj, _ := doRequest(t, ts, "POST", "/api/logout", token, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	// The token is dead, and no live token exists until the next login
	status, obj, _ = doRequest(t, ts, "GET", "/api/user/list", token, nil)
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", obj["message"])
}

func TestUserAdd(t *testing.T) {
	ts, _, auditor, mail := newTestServer(t)
	token := loginAdmin(t, ts)
	auditor.Clear()

	status, obj, _ := doRequest(t, ts, "POST", "/api/user/add", token, map[string]string{"email": "bob@x.com"})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])
	require.Contains(t, mail.All(), "welcome:bob@x.com")
	require.Contains(t, auditor.Messages()[0], "User Add: bob@x.com by: "+userdb.BootstrapEmail)

	// Duplicate and malformed addresses are both invalid_email
	status, obj, _ = doRequest(t, ts, "POST", "/api/user/add", token, map[string]string{"email": "bob@x.com"})
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_email", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/user/add", token, map[string]string{"email": "not-an-address"})
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_email", obj["message"])
}

func TestUserListNeverLeaksSecrets(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)

	status, _, raw := doRequest(t, ts, "GET", "/api/user/list", token, nil)
	require.Equal(t, 200, status)

	users := []map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &users))
	require.Len(t, users, 1)
	require.Equal(t, userdb.BootstrapEmail, users[0]["email"])
	require.NotContains(t, users[0], "password")
	require.NotContains(t, users[0], "token")
}

func TestUserEdit(t *testing.T) {
	ts, s, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)
	createLimitedUser(t, s, "bob@x.com", "bobpw", userdb.PermSearch)

	status, obj, _ := doRequest(t, ts, "POST", "/api/user/edit", token, map[string]any{"email": "ghost@x.com"})
	require.Equal(t, 404, status)
	require.Equal(t, "user_does_not_exist", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/user/edit", token, map[string]any{
		"email":       "bob@x.com",
		"permissions": []string{"NOT_A_PERMISSION"},
	})
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_permission", obj["message"])

	// Deactivation takes effect on the next authorization check
	active := false
	status, obj, _ = doRequest(t, ts, "POST", "/api/user/edit", token, map[string]any{
		"email":  "bob@x.com",
		"active": &active,
	})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	status, message, _ := login(t, ts, "bob@x.com", "bobpw")
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", message)
}

func TestUserReset(t *testing.T) {
	ts, s, _, mail := newTestServer(t)
	token := loginAdmin(t, ts)
	createLimitedUser(t, s, "bob@x.com", "bobpw", userdb.PermSearch)

	status, obj, _ := doRequest(t, ts, "POST", "/api/user/reset", token, map[string]string{"email": "ghost@x.com"})
	require.Equal(t, 404, status)
	require.Equal(t, "user_not_found", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/user/reset", token, map[string]string{"email": "bob@x.com"})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])
	require.Contains(t, mail.All(), "reset:bob@x.com:"+userdb.BootstrapEmail)

	// The old password is dead after a reset
	status, message, _ := login(t, ts, "bob@x.com", "bobpw")
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", message)
}

func TestPermissionGate(t *testing.T) {
	ts, s, auditor, _ := newTestServer(t)
	createLimitedUser(t, s, "limited@x.com", "pw", userdb.PermSearch)

	status, _, token := login(t, ts, "limited@x.com", "pw")
	require.Equal(t, 200, status)

	status, _, _ = doRequest(t, ts, "GET", "/api/search", token, nil)
	require.Equal(t, 200, status)

	// Missing permission gets the same opaque reply as a missing session
	auditor.Clear()
	status, obj, _ := doRequest(t, ts, "GET", "/api/user/list", token, nil)
	require.Equal(t, 401, status)
	require.Equal(t, "unauthorized", obj["message"])
	require.Contains(t, auditor.Messages()[0], "Request Denied (Forbidden USER_LIST): limited@x.com")
}

func addMessages(t *testing.T, s *Server, host string, times ...int64) {
	t.Helper()
	for i, tm := range times {
		require.NoError(t, s.LogDB.AddMessage(&logdb.Message{
			Time:      dbh.MakeIntTime(time.Unix(tm, 0)),
			Timestamp: int64(i),
			Host:      host,
			Facility:  "daemon",
			Severity:  "info",
			Message:   fmt.Sprintf("msg at %v", tm),
		}))
	}
}

func TestSearchAPI(t *testing.T) {
	ts, s, auditor, _ := newTestServer(t)
	token := loginAdmin(t, ts)
	addMessages(t, s, "db1", 8, 10, 7, 9)
	auditor.Clear()

	// Newest two, output ascending
	status, _, raw := doRequest(t, ts, "GET", `/api/search?q={"host":"db1"}&limit=2`, token, nil)
	require.Equal(t, 200, status)
	results := []logdb.Message{}
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 2)
	require.Equal(t, int64(9), results[0].Time.Get().Unix())
	require.Equal(t, int64(10), results[1].Time.Get().Unix())

	// The audit trail records the literal query
	require.Contains(t, auditor.Messages()[0], `viewed the logs with: {"host":"db1"}`)

	// An unparsable filter matches everything
	status, _, raw = doRequest(t, ts, "GET", `/api/search?q=not-json`, token, nil)
	require.Equal(t, 200, status)
	results = []logdb.Message{}
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 4)
}

func TestLastMessageAPI(t *testing.T) {
	ts, s, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)

	status, _, _ := doRequest(t, ts, "GET", "/api/message/last", token, nil)
	require.Equal(t, 404, status)

	addMessages(t, s, "web1", 5)
	status, obj, _ := doRequest(t, ts, "GET", "/api/message/last", token, nil)
	require.Equal(t, 200, status)
	require.Equal(t, "msg at 5", obj["message"])
}

func TestAlertAPI(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	token := loginAdmin(t, ts)

	status, obj, _ := doRequest(t, ts, "POST", "/api/alert/add", token, map[string]any{
		"name":   "disk-full",
		"email":  "ops@x.com",
		"filter": map[string]string{"severity": "err"},
	})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/alert/add", token, map[string]any{"name": "bad", "email": "nope"})
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_alert", obj["message"])

	status, obj, _ = doRequest(t, ts, "POST", "/api/alert/edit", token, map[string]any{"name": "ghost"})
	require.Equal(t, 404, status)
	require.Equal(t, "alert_does_not_exist", obj["message"])

	enable := false
	status, obj, _ = doRequest(t, ts, "POST", "/api/alert/edit", token, map[string]any{"name": "disk-full", "enable": &enable})
	require.Equal(t, 200, status)
	require.Equal(t, "success", obj["message"])

	status, _, raw := doRequest(t, ts, "GET", "/api/alert/list", token, nil)
	require.Equal(t, 200, status)
	alerts := []logdb.Alert{}
	require.NoError(t, json.Unmarshal(raw, &alerts))
	require.Len(t, alerts, 1)
	require.Equal(t, "disk-full", alerts[0].Name)
	require.False(t, alerts[0].Enable)
	require.Equal(t, "err", alerts[0].GetFilter().Severity)
}

func TestAlertWatcher(t *testing.T) {
	ts, s, _, mail := newTestServer(t)
	token := loginAdmin(t, ts)
	s.startAlertWatcher()
	defer s.LogDB.UnsubscribeTail(s.alertTail)

	status, _, _ := doRequest(t, ts, "POST", "/api/alert/add", token, map[string]any{
		"name":   "db1-errors",
		"email":  "ops@x.com",
		"filter": map[string]string{"host": "db1", "severity": "err"},
	})
	require.Equal(t, 200, status)

	// A non-matching message stays quiet, a matching one mails the alert owner
	require.NoError(t, s.LogDB.AddMessage(&logdb.Message{Host: "web1", Severity: "err", Message: "boom"}))
	require.NoError(t, s.LogDB.AddMessage(&logdb.Message{Host: "db1", Severity: "err", Message: "disk failure"}))

	require.Eventually(t, func() bool {
		sent := mail.All()
		return len(sent) == 1 && sent[0] == "alert:ops@x.com:db1-errors"
	}, 2*time.Second, 10*time.Millisecond)
}
