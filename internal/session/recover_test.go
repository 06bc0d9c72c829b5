package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trvslhlt/live-audio-translator/internal/audio"
)

// writeUnfinalized leaves a recording whose header still claims zero bytes,
// as a process killed mid-session would
func writeUnfinalized(t *testing.T, dir, name string, n int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, audio.WriteWAVHeader(f, 16000, 0))
	_, err = f.Write(audio.AppendPCMBytes(nil, samplesOf(n, 0.1)))
	require.NoError(t, err)
	return path
}

func TestRecoverJournaledSession(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	audioPath := writeUnfinalized(t, tempDir, "recording_a.wav", 16000)
	s := New(fixedNow, ModeFrenchToEnglish, "Interrupted")
	s.Add(TranscriptEntry{Timestamp: "14:30:16", SourceLang: "fr", OriginalText: "merci", TranslatedText: "thanks"}, fixedNow)
	require.NoError(t, NewJournal(audioPath, 16000).Write(s, 16000))

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	r := recovered[0]
	assert.True(t, r.FromJournal)
	assert.Equal(t, s.ID, r.SessionID)
	assert.Equal(t, 1, r.Entries)
	assert.InDelta(t, 1.0, r.AudioSeconds, 0.001)
	assert.Empty(t, dirEntries(t, tempDir))

	loaded, err := m.LoadSessionFolder(r.Folder)
	require.NoError(t, err)
	assert.Equal(t, "Interrupted", loaded.Session.Title)
	assert.Equal(t, "thanks", loaded.Session.Entries[0].TranslatedText)
	assert.True(t, loaded.HasAudio)
	assert.Equal(t, time.Second, loaded.AudioDuration)
}

func TestRecoverOrphanRecording(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	audioPath := writeUnfinalized(t, tempDir, "recording_b.wav", 8000)
	modTime := time.Date(2024, 3, 9, 14, 30, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(audioPath, modTime, modTime))

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	r := recovered[0]
	assert.False(t, r.FromJournal)
	assert.Equal(t, "20240309_143000", r.SessionID)
	assert.Equal(t, filepath.Join(parent, "Recovered_2024-03-09_1430_20240309_143000"), r.Folder)
	assert.InDelta(t, 0.5, r.AudioSeconds, 0.001)
}

func TestRecoverRemovesEmptyRecordings(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	writeUnfinalized(t, tempDir, "recording_c.wav", 0)
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "unrelated.txt"), []byte("x"), 0o644))

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	assert.Empty(t, recovered)
	assert.Equal(t, []string{"unrelated.txt"}, dirEntries(t, tempDir))
	assert.Empty(t, dirEntries(t, parent))
}

func TestRecoverSkipsRecordingInUse(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	w := NewStreamingAudioWriter(tempDir, 16000, testLogger())
	require.NoError(t, w.Start())
	s := New(fixedNow, ModeAuto, "Live")
	journal := NewJournal(w.Path(), 16000)
	require.NoError(t, journal.Write(s, 0))
	require.NoError(t, w.AppendUtterance(samplesOf(1600, 0.2)))

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	assert.Empty(t, recovered)
	assert.Empty(t, dirEntries(t, parent))

	path, err := w.Close()
	require.NoError(t, err)
	require.FileExists(t, path)

	// closed but unsaved recordings stay owned
	recovered, err = m.Recover(tempDir, parent)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	folder, err := m.Materialize(s, path, parent, nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(folder, AudioFile))
	require.NoError(t, journal.Remove())
	require.NoError(t, w.Release())
	assert.Empty(t, dirEntries(t, tempDir))
}

func TestRecoverTakesStaleLock(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	audioPath := writeUnfinalized(t, tempDir, "recording_d.wav", 1600)
	require.NoError(t, os.WriteFile(audioPath+LockExt, []byte("4242\n"), 0o644))

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Empty(t, dirEntries(t, tempDir))
}

func TestRecoverKeepsOrphansFromTheSameSecond(t *testing.T) {
	m := newTestManager(t)
	tempDir := t.TempDir()
	parent := t.TempDir()

	modTime := time.Date(2024, 3, 9, 14, 30, 0, 0, time.Local)
	for _, name := range []string{"recording_e.wav", "recording_f.wav"} {
		path := writeUnfinalized(t, tempDir, name, 1600)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	recovered, err := m.Recover(tempDir, parent)
	require.NoError(t, err)
	require.Len(t, recovered, 2)
	assert.NotEqual(t, recovered[0].Folder, recovered[1].Folder)
	for _, r := range recovered {
		assert.FileExists(t, filepath.Join(r.Folder, AudioFile))
	}
	assert.ElementsMatch(t, []string{
		"Recovered_2024-03-09_1430_20240309_143000",
		"Recovered_2024-03-09_1430_20240309_143000_2",
	}, dirEntries(t, parent))
}

func TestRecoverMissingTempDir(t *testing.T) {
	m := newTestManager(t)
	recovered, err := m.Recover(filepath.Join(t.TempDir(), "missing"), "")
	assert.NoError(t, err)
	assert.Empty(t, recovered)
}

func TestProbeAudio(t *testing.T) {
	path := recordAudio(t, t.TempDir(), 24000)
	d, err := ProbeAudio(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, err = ProbeAudio(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
