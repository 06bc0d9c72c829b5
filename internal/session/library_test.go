package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := OpenLibrary(filepath.Join(t.TempDir(), "index", "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestLibraryRecordAndList(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()

	older := LibraryRecord{
		ID:           "20240101_090000",
		Folder:       "/sessions/a",
		Title:        "A",
		CreatedAt:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC),
		LanguageMode: ModeFrenchToEnglish,
		EntryCount:   3,
		SavedAt:      time.Date(2024, 1, 1, 9, 6, 0, 0, time.UTC),
	}
	newer := older
	newer.ID = "20240102_090000"
	newer.Folder = "/sessions/b"
	newer.Title = "B"
	newer.CreatedAt = newer.CreatedAt.Add(24 * time.Hour)
	newer.HasAudio = true
	newer.AudioSeconds = 12.5

	require.NoError(t, lib.Record(ctx, older))
	require.NoError(t, lib.Record(ctx, newer))

	records, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "B", records[0].Title)
	assert.Equal(t, "A", records[1].Title)
	assert.True(t, records[0].HasAudio)
	assert.Equal(t, 12.5, records[0].AudioSeconds)
	assert.Equal(t, ModeFrenchToEnglish, records[1].LanguageMode)
	assert.True(t, records[1].CreatedAt.Equal(older.CreatedAt))
}

func TestLibraryUpsertAndForget(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()

	rec := LibraryRecord{
		ID:        "20240101_090000",
		Folder:    "/sessions/a",
		Title:     "Draft",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		SavedAt:   time.Now(),
	}
	require.NoError(t, lib.Record(ctx, rec))
	rec.Title = "Final"
	require.NoError(t, lib.Record(ctx, rec))

	got, err := lib.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)

	records, err := lib.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, lib.Forget(ctx, rec.Folder))
	_, err = lib.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, ErrNotInLibrary))
}

func TestLibraryPruneForgetsMissingFolders(t *testing.T) {
	lib := openTestLibrary(t)
	ctx := context.Background()

	m := NewManager(t.TempDir(), lib, testLogger(), nil)
	kept, err := m.Materialize(New(fixedNow, ModeAuto, "Kept"), "", "", nil)
	require.NoError(t, err)
	gone, err := m.Materialize(New(fixedNow, ModeAuto, "Gone"), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(gone))

	pruned, err := lib.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{gone}, pruned)

	records, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept, records[0].Folder)

	pruned, err = lib.Prune(ctx)
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func TestManagerIndexesSavedSessions(t *testing.T) {
	lib := openTestLibrary(t)
	m := NewManager(t.TempDir(), lib, testLogger(), nil)
	m.now = func() time.Time { return fixedNow }

	m.NewSession(ModeAuto, "Indexed")
	m.AddEntry("14:30:16", "fr", "salut", "hi")
	audioPath := recordAudio(t, t.TempDir(), 8000)

	folder, err := m.Materialize(m.Current(), audioPath, "", nil)
	require.NoError(t, err)

	got, err := lib.Get(context.Background(), m.Current().ID)
	require.NoError(t, err)
	assert.Equal(t, folder, got.Folder)
	assert.Equal(t, 1, got.EntryCount)
	assert.True(t, got.HasAudio)
	assert.InDelta(t, 0.5, got.AudioSeconds, 0.001)
}
