package logdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Message is one log record. Messages are immutable once written; ingestion appends,
// the query engine only reads.
// Time is the primary timestamp. Timestamp is the ingestion-side tie-break counter,
// so ordering by (time, timestamp) is fully deterministic even when the source clock
// only has second resolution.
type Message struct {
	BaseModel
	Time      dbh.IntTime              `json:"time"`
	Timestamp int64                    `json:"timestamp"`
	Host      string                   `json:"host"`
	Facility  string                   `json:"facility"`
	Severity  string                   `json:"severity"`
	Message   string                   `json:"message"`
	Keywords  *dbh.JSONField[[]string] `json:"keywords,omitempty"`
}

func (m *Message) KeywordList() []string {
	if m.Keywords == nil {
		return nil
	}
	return m.Keywords.Data
}

// Alert is a named watch rule owned by an operator.
type Alert struct {
	BaseModel
	Name   string                 `json:"name"`
	Email  string                 `json:"email"`
	Enable bool                   `json:"enable"`
	Filter *dbh.JSONField[Filter] `json:"filter,omitempty"`
}

func (a *Alert) SetFilter(f Filter) {
	a.Filter = dbh.MakeJSONField(f)
}

// GetFilter returns the alert's filter, or a match-all filter if none was set.
func (a *Alert) GetFilter() Filter {
	if a.Filter == nil {
		return Filter{}
	}
	return a.Filter.Data
}
