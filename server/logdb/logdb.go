package logdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// LogDB stores the log message stream and the alert watch rules.
type LogDB struct {
	Log logs.Log
	DB  *gorm.DB

	tailLock sync.Mutex
	tails    map[chan *Message]bool
}

func NewLogDB(logger logs.Log, cfg dbh.DBConfig) (*LogDB, error) {
	db, err := dbh.OpenDB(logger, cfg, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open log database: %w", err)
	}
	return &LogDB{
		Log:   logger,
		DB:    db,
		tails: map[chan *Message]bool{},
	}, nil
}

// AddMessage appends a message to the stream. This is the ingestion side; the query
// engine never mutates messages. Live tail subscribers are notified without blocking.
func (l *LogDB) AddMessage(msg *Message) error {
	if msg.Time.IsZero() {
		msg.Time = dbh.MakeIntTime(time.Now())
	}
	if err := l.DB.Create(msg).Error; err != nil {
		return err
	}
	l.publishTail(msg)
	return nil
}

// LastMessage returns the most recently inserted message, by insertion order rather
// than by the timestamp fields, so it is a usable liveness signal even when the log
// sources have skewed clocks. Returns nil when the stream is empty.
func (l *LogDB) LastMessage() (*Message, error) {
	var messages []Message
	if err := l.DB.Order("id DESC").Limit(1).Find(&messages).Error; err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}
