package session

import (
	"regexp"
	"strings"
)

const maxFolderTitleLength = 50

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespaceRuns      = regexp.MustCompile(`\s+`)
)

// SanitizeFilename keeps letters, digits, '_', '-' and whitespace, turns
// whitespace runs into '_' and truncates to 50 characters
func SanitizeFilename(name string) string {
	safe := unsafeFilenameChars.ReplaceAllString(name, "")
	safe = whitespaceRuns.ReplaceAllString(safe, "_")
	if runes := []rune(safe); len(runes) > maxFolderTitleLength {
		safe = string(runes[:maxFolderTitleLength])
	}
	return safe
}

// FolderName is the directory name a session materializes into
func FolderName(s *Session) string {
	return SanitizeFilename(s.Title) + "_" + s.ID
}

// LanguageLabel is the upper-cased two-letter tag shown in transcripts
func LanguageLabel(lang string) string {
	label := strings.ToUpper(strings.TrimSpace(lang))
	if label == "" {
		return "??"
	}
	if runes := []rune(label); len(runes) > 2 {
		label = string(runes[:2])
	}
	return label
}

// TargetLabel is the tag of the opposite language of the pair
func TargetLabel(sourceLabel string) string {
	if sourceLabel == "FR" {
		return "EN"
	}
	return "FR"
}

// RenderTranscript renders the human-readable transcript.txt contents
func RenderTranscript(s *Session) string {
	lines := []string{
		"Session: " + s.Title,
		"Created: " + s.CreatedAt.String(),
		"Language Mode: " + s.LanguageMode.String(),
		strings.Repeat("-", 50),
		"",
	}

	for _, e := range s.Entries {
		src := LanguageLabel(e.SourceLang)
		lines = append(lines, "["+e.Timestamp+"]", "["+src+"] "+e.OriginalText)
		if e.TranslatedText != e.OriginalText {
			lines = append(lines, "["+TargetLabel(src)+"] "+e.TranslatedText)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
