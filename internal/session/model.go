package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	idLayout           = "20060102_150405"
	defaultTitleLayout = "Session 2006-01-02 15:04"
	// EntryTimeLayout formats TranscriptEntry.Timestamp
	EntryTimeLayout = "15:04:05"
)

// Timestamp is a time serialized as ISO-8601 with microsecond precision
type Timestamp struct {
	time.Time
}

const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// zone-less forms written by older builds; read as local time
var localTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// NewTimestamp truncates t to the precision that survives serialization
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Microsecond)}
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 forms
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t), nil
	}
	for _, layout := range localTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) String() string {
	return t.Format(timestampLayout)
}

// Equal reports whether both timestamps are the same instant
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Time.Equal(o.Time)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TranscriptEntry is one transcribed utterance
type TranscriptEntry struct {
	Timestamp      string `json:"timestamp"` // local wall clock, EntryTimeLayout
	SourceLang     string `json:"source_lang"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
}

// Session is one recording and its ordered transcript
type Session struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	CreatedAt    Timestamp         `json:"created_at"`
	UpdatedAt    Timestamp         `json:"updated_at"`
	LanguageMode LanguageMode      `json:"language_mode"`
	Entries      []TranscriptEntry `json:"entries"`
}

// New creates an empty session stamped with now. An empty title gets the
// default derived from the creation time.
func New(now time.Time, mode LanguageMode, title string) *Session {
	if strings.TrimSpace(title) == "" {
		title = now.Format(defaultTitleLayout)
	}
	ts := NewTimestamp(now)
	return &Session{
		ID:           now.Format(idLayout),
		Title:        title,
		CreatedAt:    ts,
		UpdatedAt:    ts,
		LanguageMode: mode,
		Entries:      []TranscriptEntry{},
	}
}

// Add appends an entry and bumps the update time
func (s *Session) Add(entry TranscriptEntry, now time.Time) {
	s.Entries = append(s.Entries, entry)
	s.UpdatedAt = NewTimestamp(now)
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	c := *s
	c.Entries = append([]TranscriptEntry(nil), s.Entries...)
	if c.Entries == nil {
		c.Entries = []TranscriptEntry{}
	}
	return &c
}

// Validate checks the fields every loadable session must have
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("missing id")
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("missing created_at")
	}
	return nil
}

// UnmarshalJSON fills defaults for documents written by older builds
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Entries == nil {
		p.Entries = []TranscriptEntry{}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	*s = Session(p)
	return nil
}
