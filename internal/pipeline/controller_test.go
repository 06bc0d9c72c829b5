package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
)

type controllerFixture struct {
	ctrl    *Controller
	source  *fakeSource
	tempDir string
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	src := &fakeSource{}
	tr := &fakeTranscriber{fn: func(req *transcription.Request) (*transcription.Result, error) {
		return &transcription.Result{Text: "bonjour " + req.UtteranceID, Language: "fr"}, nil
	}}
	tempDir := t.TempDir()
	sessions := session.NewManager(t.TempDir(), nil, testLogger(), nil)

	ctrl, err := NewController(src, tr, nil, sessions, ControllerConfig{
		TempDir:     tempDir,
		SampleRate:  16000,
		PollTimeout: time.Millisecond,
		EventBuffer: 512,
	}, testLogger(), nil)
	require.NoError(t, err)
	return &controllerFixture{ctrl: ctrl, source: src, tempDir: tempDir}
}

func (f *controllerFixture) listenAndStop(t *testing.T, opts StartOptions, us ...int) *PendingSave {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background(), opts))
	for i, n := range us {
		f.source.push(utterance(uint64(i+1), n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)
	return pending
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestControllerSaveFlow(t *testing.T) {
	f := newControllerFixture(t)
	pending := f.listenAndStop(t, StartOptions{Device: capture.DefaultDevice, Mode: session.ModeFrenchToEnglish, Record: true, Title: "Cours"}, 16000, 8000)
	require.NotNil(t, pending)

	assert.Equal(t, SaveAwaiting, pending.State())
	assert.InDelta(t, 1.5, pending.AudioSeconds(), 1e-9)
	assert.Len(t, pending.Session().Entries, 2)
	assert.FileExists(t, pending.AudioPath())
	assert.FileExists(t, session.JournalPath(pending.AudioPath()))
	assert.False(t, f.ctrl.Running())

	_, err := pending.Save("  ", "", nil)
	assert.ErrorIs(t, err, ErrSaveCancelled)
	assert.Equal(t, SaveAwaiting, pending.State())
	assert.FileExists(t, pending.AudioPath())

	parent := t.TempDir()
	var stages []int
	folder, err := pending.Save(parent, "Renamed", func(percent int, _ string) {
		stages = append(stages, percent)
	})
	require.NoError(t, err)

	assert.Equal(t, SaveSaved, pending.State())
	assert.Equal(t, folder, pending.Folder())
	assert.Equal(t, []int{0, 10, 20, 30, 50, 90, 100}, stages)
	assert.ElementsMatch(t, []string{session.MetadataFile, session.TranscriptFile, session.AudioFile}, listDir(t, folder))
	assert.Empty(t, listDir(t, f.tempDir), "recording and journal moved or removed")

	loaded, err := f.ctrl.Sessions().LoadSessionFolder(folder)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Session.Title)
	assert.Equal(t, 1500*time.Millisecond, loaded.AudioDuration)

	_, err = pending.Save(parent, "", nil)
	assert.ErrorIs(t, err, ErrSaveResolved)
	assert.Nil(t, f.ctrl.Pending())

	var progress int
	for _, ev := range collect(f.ctrl.events) {
		if _, ok := ev.(SaveProgressEvent); ok {
			progress++
		}
	}
	assert.Equal(t, 7, progress)
}

func TestControllerStopWithoutEntriesDiscards(t *testing.T) {
	f := newControllerFixture(t)
	pending := f.listenAndStop(t, StartOptions{Device: capture.DefaultDevice, Record: true})

	assert.Nil(t, pending)
	assert.Empty(t, listDir(t, f.tempDir))
	assert.Nil(t, f.ctrl.Pending())
}

func TestControllerWithoutRecording(t *testing.T) {
	f := newControllerFixture(t)
	pending := f.listenAndStop(t, StartOptions{Device: capture.DefaultDevice, Record: false}, 1600)

	assert.Nil(t, pending)
	assert.Empty(t, listDir(t, f.tempDir))
	assert.Equal(t, 1, f.ctrl.Sessions().EntryCount())
}

func TestControllerRefusesStartWhileSavePending(t *testing.T) {
	f := newControllerFixture(t)
	pending := f.listenAndStop(t, StartOptions{Device: capture.DefaultDevice, Record: true}, 1600)
	require.NotNil(t, pending)
	require.NotNil(t, f.ctrl.Pending())

	err := f.ctrl.Start(context.Background(), StartOptions{Record: true})
	assert.ErrorIs(t, err, ErrSavePending)

	require.NoError(t, pending.Discard())
	assert.Equal(t, SaveDiscarded, pending.State())
	assert.Empty(t, listDir(t, f.tempDir))
	assert.ErrorIs(t, pending.Discard(), ErrSaveResolved)

	require.NoError(t, f.ctrl.Start(context.Background(), StartOptions{Record: true}))
	_, err = f.ctrl.Stop(context.Background())
	require.NoError(t, err)
}

func TestControllerStartFailureCleansUp(t *testing.T) {
	f := newControllerFixture(t)
	f.source.startErr = errors.New("no such device")

	err := f.ctrl.Start(context.Background(), StartOptions{Device: 7, Record: true})
	var devErr *capture.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.False(t, f.ctrl.Running())
	assert.Empty(t, listDir(t, f.tempDir))

	_, err = f.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestControllerRejectsDoubleStart(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.ctrl.Start(context.Background(), StartOptions{}))
	assert.ErrorIs(t, f.ctrl.Start(context.Background(), StartOptions{}), ErrRunning)
	assert.Equal(t, 1, f.source.starts)

	_, err := f.ctrl.Stop(context.Background())
	require.NoError(t, err)
}

func TestControllerRequiresTranslatorForEnglishToFrench(t *testing.T) {
	f := newControllerFixture(t)
	err := f.ctrl.Start(context.Background(), StartOptions{Mode: session.ModeEnglishToFrench})
	assert.Error(t, err)
	assert.Equal(t, 0, f.source.starts)
}

func TestControllerStatus(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.ctrl.Start(context.Background(), StartOptions{Mode: session.ModeFrenchToEnglish, Record: true, Title: "Status"}))
	f.source.push(utterance(1, 16000))

	require.Eventually(t, func() bool {
		st := f.ctrl.Status()
		return st.Entries == 1 && st.RecordedSeconds > 0
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Recording)
	assert.Equal(t, "fr_to_en", st.Mode)
	assert.Equal(t, "Status", st.Title)
	assert.InDelta(t, 1.0, st.RecordedSeconds, 1e-9)

	pending, err := f.ctrl.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pending)

	st = f.ctrl.Status()
	assert.False(t, st.Running)
	assert.True(t, st.PendingSave)
	require.NoError(t, pending.Discard())
}

func TestPendingSaveFailureKeepsRecording(t *testing.T) {
	f := newControllerFixture(t)
	pending := f.listenAndStop(t, StartOptions{Record: true}, 1600)
	require.NotNil(t, pending)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := pending.Save(blocker, "", nil)
	var perr *session.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, SaveAwaiting, pending.State())
	assert.FileExists(t, pending.AudioPath())

	folder, err := pending.Save(t.TempDir(), "", nil)
	require.NoError(t, err)
	assert.DirExists(t, folder)
}
