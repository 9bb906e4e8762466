package logdb

import (
	"encoding/json"
	"slices"
	"strings"

	"gorm.io/gorm"
)

// DefaultLimit caps a search when the client omits the limit. This default is
// load-bearing: a missing limit means 100, never "unbounded", because the window is
// fully materialized in memory before it is reversed.
const DefaultLimit = 100

// MaxLimit is the hard ceiling on a single search window.
const MaxLimit = 1000

// Filter is the structured predicate a search client supplies as JSON.
// After/Before are unix milliseconds on the primary timestamp.
type Filter struct {
	Host     string `json:"host,omitempty"`
	Facility string `json:"facility,omitempty"`
	Severity string `json:"severity,omitempty"`
	Keyword  string `json:"keyword,omitempty"`
	Text     string `json:"text,omitempty"`
	After    int64  `json:"after,omitempty"`
	Before   int64  `json:"before,omitempty"`
}

func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// ParseFilter turns raw client JSON into a Filter. Anything unparsable becomes the
// empty match-all filter. That permissiveness is deliberate (and old behavior that
// clients rely on); the HTTP layer audits the literal input, so the substitution is
// observable there.
func ParseFilter(raw string) Filter {
	f := Filter{}
	if raw == "" {
		return f
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Filter{}
	}
	return f
}

func (f *Filter) apply(q *gorm.DB) *gorm.DB {
	if f.Host != "" {
		q = q.Where("host = ?", f.Host)
	}
	if f.Facility != "" {
		q = q.Where("facility = ?", f.Facility)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Keyword != "" {
		// Keywords are stored as a JSON string array, so an exact keyword match is a
		// quoted substring match.
		q = q.Where("keywords LIKE ?", `%"`+f.Keyword+`"%`)
	}
	if f.Text != "" {
		q = q.Where("message LIKE ?", "%"+f.Text+"%")
	}
	if f.After != 0 {
		q = q.Where("time >= ?", f.After)
	}
	if f.Before != 0 {
		q = q.Where("time < ?", f.Before)
	}
	return q
}

// Matches reports whether a single message satisfies the filter. This is the
// in-memory twin of apply, used by the alert watcher on freshly ingested messages.
func (f *Filter) Matches(msg *Message) bool {
	if f.Host != "" && msg.Host != f.Host {
		return false
	}
	if f.Facility != "" && msg.Facility != f.Facility {
		return false
	}
	if f.Severity != "" && msg.Severity != f.Severity {
		return false
	}
	if f.Keyword != "" && !slices.Contains(msg.KeywordList(), f.Keyword) {
		return false
	}
	if f.Text != "" && !strings.Contains(msg.Message, f.Text) {
		return false
	}
	t := msg.Time.Get().UnixMilli()
	if f.After != 0 && t < f.After {
		return false
	}
	if f.Before != 0 && t >= f.Before {
		return false
	}
	return true
}

// Search runs a bounded, deterministic query over the message stream.
// The window is selected newest-first (ORDER BY (time, timestamp) descending, then
// skip/limit) because that is the only ordering the store can page efficiently.
// The materialized window is then reversed, so the caller reads the result
// chronologically, oldest-first. All-or-nothing: a storage error returns no messages.
func (l *LogDB) Search(rawFilter string, skip, limit int) ([]Message, error) {
	filter := ParseFilter(rawFilter)
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var messages []Message
	q := filter.apply(l.DB.Model(&Message{}))
	if err := q.Order("time DESC, timestamp DESC").Offset(skip).Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
