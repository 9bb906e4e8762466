package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edsphinx/log-o/server/audit"
	"github.com/edsphinx/log-o/server/logdb"
	"github.com/edsphinx/log-o/server/mailer"
	"github.com/edsphinx/log-o/server/userdb"

	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log    logs.Log
	UserDB *userdb.UserDB
	LogDB  *logdb.LogDB
	Audit  audit.Recorder
	Mailer mailer.Mailer

	signalIn    chan os.Signal
	httpServer  *http.Server
	httpRouter  *httprouter.Router
	auditSyslog *audit.SyslogRecorder // nil when no audit collector is configured
	alertTail   chan *logdb.Message
}

func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}

	var auditor audit.Recorder = &audit.NopRecorder{}
	var auditSyslog *audit.SyslogRecorder
	if cfg.Audit != nil {
		auditSyslog, err = audit.NewSyslogRecorder(logger, cfg.Audit.Network, cfg.Audit.Address, cfg.Audit.Tag)
		if err != nil {
			return nil, err
		}
		auditor = auditSyslog
	} else {
		logger.Warnf("No audit collector configured. Audit messages will be discarded")
	}

	var mail mailer.Mailer = &mailer.NopMailer{}
	if cfg.SMTP != nil {
		mail = mailer.NewSMTPMailer(logger, cfg.SMTP.Addr, cfg.SMTP.From)
	} else {
		logger.Warnf("No SMTP relay configured. Welcome/reset mail will not be sent")
	}

	users, err := userdb.NewUserDB(logger, auditor, cfg.UserDB)
	if err != nil {
		return nil, err
	}
	messages, err := logdb.NewLogDB(logger, cfg.LogDB)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:         logger,
		UserDB:      users,
		LogDB:       messages,
		Audit:       auditor,
		Mailer:      mail,
		auditSyslog: auditSyslog,
	}
	s.setupHttpRoutes()
	s.startAlertWatcher()
	return s, nil
}

// startAlertWatcher subscribes to the live message stream and mails the owner of
// every enabled alert whose filter matches a freshly ingested message.
func (s *Server) startAlertWatcher() {
	s.alertTail = s.LogDB.SubscribeTail(256)
	go func() {
		for msg := range s.alertTail {
			alerts, err := s.LogDB.ActiveAlerts()
			if err != nil {
				s.Log.Errorf("Alert watcher failed to read alerts: %v", err)
				continue
			}
			for _, alert := range alerts {
				filter := alert.GetFilter()
				if filter.Matches(msg) {
					s.Mailer.SendAlert(alert.Email, alert.Name, msg.Message)
				}
			}
		}
	}()
}

// port example: ":8575"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	signal.Stop(s.signalIn)
	close(s.signalIn)
	s.Log.Infof("Closing HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err := s.httpServer.Shutdown(ctx)
	defer cancel()
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.LogDB.UnsubscribeTail(s.alertTail)
	if s.auditSyslog != nil {
		s.auditSyslog.Close()
	}
	s.Log.Close()
}
