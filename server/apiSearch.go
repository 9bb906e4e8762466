package server

import (
	"net/http"

	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// httpSearch handles GET /api/search?q=<filter>&skip=<n>&limit=<n>.
// Results are chronologically ascending: with skip=0 the final element is the
// newest matching message. The raw q value goes into the audit trail whether or
// not it parses, so the trail shows what the user actually asked for.
func (s *Server) httpSearch(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	q := www.QueryValue(r, "q")
	skip := www.QueryInt(r, "skip")
	limit := www.QueryInt(r, "limit")
	s.Audit.Record(user.Email + " viewed the logs with: " + q + " IP: " + remoteIP(r))

	messages, err := s.LogDB.Search(q, skip, limit)
	if err != nil {
		s.Log.Errorf("Search failed for %v: %v", user.Email, err)
		sendReason(w, http.StatusBadRequest, "bad_request")
		return
	}
	www.SendJSON(w, messages)
}

// httpLastMessage handles GET /api/message/last: the most recently stored
// message by insertion order, regardless of its timestamps.
func (s *Server) httpLastMessage(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	last, err := s.LogDB.LastMessage()
	www.Check(err)
	if last == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, last)
}

var tailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// httpTail handles GET /api/tail, upgrading to a websocket that streams each
// newly stored message as a JSON object. A slow client loses messages rather
// than blocking ingestion.
func (s *Server) httpTail(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	conn, err := tailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Infof("Tail websocket upgrade failed: %v", err)
		return
	}
	s.Audit.Record(user.Email + " tailed the logs IP: " + remoteIP(r))

	closed := make(chan bool)
	go func() {
		// Drain the read side so we notice when the client goes away
		for {
			if _, _, err := conn.NextReader(); err != nil {
				break
			}
		}
		close(closed)
	}()

	ch := s.LogDB.SubscribeTail(64)
	defer s.LogDB.UnsubscribeTail(ch)
	defer conn.Close()

	for {
		select {
		case msg := <-ch:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
