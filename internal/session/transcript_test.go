package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Weekly sync", "Weekly_sync"},
		{"a/b\\c:d*e?f", "abcdef"},
		{"  lots   of\tspace ", "_lots_of_space_"},
		{"réunion-équipe_2", "réunion-équipe_2"},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SanitizeFilename(tt.input), "input %q", tt.input)
	}
}

func TestLanguageLabels(t *testing.T) {
	assert.Equal(t, "FR", LanguageLabel("fr"))
	assert.Equal(t, "EN", LanguageLabel("english"))
	assert.Equal(t, "??", LanguageLabel(""))
	assert.Equal(t, "EN", TargetLabel("FR"))
	assert.Equal(t, "FR", TargetLabel("EN"))
	assert.Equal(t, "FR", TargetLabel("DE"))
}

func TestRenderTranscript(t *testing.T) {
	created := time.Date(2024, 3, 9, 14, 30, 15, 0, time.UTC)
	s := New(created, ModeFrenchToEnglish, "Demo")
	s.Add(TranscriptEntry{Timestamp: "14:30:16", SourceLang: "fr", OriginalText: "bonjour", TranslatedText: "hello"}, created)
	s.Add(TranscriptEntry{Timestamp: "14:30:20", SourceLang: "en", OriginalText: "ok", TranslatedText: "ok"}, created)

	expected := strings.Join([]string{
		"Session: Demo",
		"Created: 2024-03-09T14:30:15Z",
		"Language Mode: fr_to_en",
		strings.Repeat("-", 50),
		"",
		"[14:30:16]",
		"[FR] bonjour",
		"[EN] hello",
		"",
		"[14:30:20]",
		"[EN] ok",
		"",
	}, "\n")

	assert.Equal(t, expected, RenderTranscript(s))
}

func TestRenderTranscriptPreservesOrder(t *testing.T) {
	s := New(time.Now(), ModeAuto, "")
	for _, text := range []string{"first", "second", "third"} {
		s.Add(TranscriptEntry{Timestamp: "00:00:00", SourceLang: "en", OriginalText: text, TranslatedText: text}, time.Now())
	}

	out := RenderTranscript(s)
	first := strings.Index(out, "first")
	second := strings.Index(out, "second")
	third := strings.Index(out, "third")
	assert.True(t, first < second && second < third, "entries out of order:\n%s", out)
}
