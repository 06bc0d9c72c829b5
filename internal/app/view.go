package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/ui"
)

// Speech RMS rarely exceeds this; the meter is full at it.
const levelFullScale = 0.2

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	bottom := []string{ui.DividerStyle.Render(strings.Repeat("─", m.width))}
	if m.prompt != PromptNone {
		bottom = append(bottom, m.renderPrompt())
	}
	if m.errorMessage != "" {
		bottom = append(bottom, m.renderErrorBar())
	}
	bottom = append(bottom, m.renderFooter())

	height := m.height - len(sections) - len(bottom)
	sections = append(sections, m.renderTranscript(height))
	sections = append(sections, bottom...)

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("LIVE TRANSLATOR")
	mode := ui.ModeStyle.Render("  " + m.mode.Label())
	var folder string
	if m.lastFolder != "" {
		folder = ui.DimStyle.Render("  last saved: " + m.lastFolder)
	}
	return title + mode + folder
}

func (m Model) renderStatusBar() string {
	var dot string
	switch {
	case m.running && m.opts.Record:
		dot = ui.RecordingDotStyle.Render("● REC")
	case m.running:
		dot = ui.ListeningDotStyle.Render("● LIVE")
	default:
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	var level string
	if m.running {
		level = "  " + renderLevelMeter(m.level)
	}
	return dot + level + "  " + ui.StatusStyle.Render(m.statusLine())
}

// statusLine is the status text, followed by the recording summary while a
// recorded session is running.
func (m Model) statusLine() string {
	if !m.running {
		return m.statusText
	}
	if m.opts.Record {
		return fmt.Sprintf("%s (Recording: %d entries, %s)", m.statusText, m.entryCount, formatClock(m.recordedSeconds))
	}
	return fmt.Sprintf("%s (%d entries)", m.statusText, m.entryCount)
}

func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func renderLevelMeter(level float64) string {
	const barLen = 10
	filled := int(level / levelFullScale * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar strings.Builder
	for i := 0; i < barLen; i++ {
		switch {
		case i >= filled:
			bar.WriteString(ui.LevelGrayStyle.Render("░"))
		case float64(i)/barLen > 0.7:
			bar.WriteString(ui.LevelYellowStyle.Render("█"))
		default:
			bar.WriteString(ui.LevelGreenStyle.Render("█"))
		}
	}
	return ui.DimStyle.Render("MIC ") + bar.String()
}

// renderTranscript renders the newest entries that fit in height lines.
func (m Model) renderTranscript(height int) string {
	if height < 1 {
		height = 1
	}
	if len(m.entries) == 0 {
		lines := []string{ui.DimStyle.Render("Press space to start listening.")}
		return strings.Join(padLines(lines, height), "\n")
	}

	width := m.width - 6
	var lines []string
	for _, e := range m.entries {
		lines = append(lines, ui.TimestampStyle.Render("["+e.Timestamp+"]"))
		src := session.LanguageLabel(e.SourceLang)
		lines = append(lines, labeled(ui.SourceLabelStyle, src, e.OriginalText, width)...)
		if e.TranslatedText != e.OriginalText {
			lines = append(lines, labeled(ui.TargetLabelStyle, session.TargetLabel(src), e.TranslatedText, width)...)
		}
		lines = append(lines, "")
	}

	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(padLines(lines, height), "\n")
}

func labeled(style lipgloss.Style, label, text string, width int) []string {
	wrapped := wrapText(text, width)
	out := make([]string, len(wrapped))
	prefix := style.Render("[" + label + "]")
	indent := strings.Repeat(" ", lipgloss.Width(prefix))
	for i, line := range wrapped {
		if i == 0 {
			out[i] = prefix + " " + line
		} else {
			out[i] = indent + " " + line
		}
	}
	return out
}

func (m Model) renderPrompt() string {
	switch m.prompt {
	case PromptDestination:
		return ui.PromptStyle.Render("Save to directory (empty to discard): ") + ui.InputStyle.Render(m.input+" ")
	case PromptTitle:
		return ui.PromptStyle.Render("Session title: ") + ui.InputStyle.Render(m.input+" ")
	case PromptDiscard:
		return ui.PromptStyle.Render("Discard recording? (y/n)")
	case PromptSaving:
		msg := m.saveMessage
		if msg == "" {
			msg = m.statusText
		}
		return ui.SuccessStyle.Render(fmt.Sprintf("%3d%% ", m.saveProgress)) + ui.DimStyle.Render(msg)
	}
	return ""
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	key := func(k, desc string) string {
		return ui.FooterKeyStyle.Render(k) + ui.FooterDescStyle.Render(" "+desc)
	}

	var parts []string
	switch m.prompt {
	case PromptDestination, PromptTitle:
		parts = append(parts, key("Enter", "Confirm"), key("Esc", "Skip"))
	case PromptDiscard:
		parts = append(parts, key("y", "Discard"), key("n", "Back"))
	case PromptSaving:
	default:
		if m.running {
			parts = append(parts, key("Space", "Stop"))
		} else {
			parts = append(parts, key("Space", "Start"), key("m", "Mode"))
		}
		parts = append(parts, key("q", "Quit"))
	}
	return strings.Join(parts, "  ")
}

// Helpers

func padLines(lines []string, height int) []string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	return lines
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	var current string
	for _, word := range strings.Fields(text) {
		switch {
		case current == "":
			current = word
		case len([]rune(current))+1+len([]rune(word)) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" || len(lines) == 0 {
		lines = append(lines, current)
	}
	return lines
}
