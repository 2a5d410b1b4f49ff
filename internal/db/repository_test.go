package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })
	return database
}

func TestUpsertFileLifecycle(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.UpsertFile("movies", "a.mkv", 100, 1000))

	file, err := database.NextPendingFile()
	require.NoError(t, err)
	assert.Equal(t, "movies", file.BackendName)
	assert.Equal(t, "a.mkv", file.Key)
	assert.True(t, file.PendingAutoMatch)
	assert.Equal(t, int64(100), file.SizeBytes)
	assert.Equal(t, int64(1000), file.ScannedAt)

	// re-sighting updates size and scan time without a new row
	require.NoError(t, database.UpsertFile("movies", "a.mkv", 200, 2000))
	again, err := database.GetFileByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), again.SizeBytes)
	assert.Equal(t, int64(2000), again.ScannedAt)

	// same key on another backend is a distinct file
	require.NoError(t, database.UpsertFile("tv", "a.mkv", 100, 1000))
	tvFiles, err := database.ListFilesByBackend("tv")
	require.NoError(t, err)
	require.Len(t, tvFiles, 1)
	assert.NotEqual(t, file.ID, tvFiles[0].ID)
}

func TestUpsertFileDoesNotReflagMatched(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.UpsertFile("movies", "a.mkv", 100, 1000))
	file, err := database.NextPendingFile()
	require.NoError(t, err)
	require.NoError(t, database.ClearPendingAutoMatch(file.ID))

	require.NoError(t, database.UpsertFile("movies", "a.mkv", 100, 2000))

	_, err = database.NextPendingFile()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkMissingFilesUnavailable(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.UpsertFile("movies", "seen.mkv", 100, 2000))
	require.NoError(t, database.UpsertFile("movies", "gone.mkv", 100, 1000))
	require.NoError(t, database.UpsertFile("tv", "other.mkv", 100, 1000))

	marked, err := database.MarkMissingFilesUnavailable("movies", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	files, err := database.ListFilesByBackend("movies")
	require.NoError(t, err)
	for _, f := range files {
		switch f.Key {
		case "seen.mkv":
			assert.Nil(t, f.UnavailableSince)
		case "gone.mkv":
			require.NotNil(t, f.UnavailableSince)
			assert.Equal(t, int64(2000), *f.UnavailableSince)
		}
	}

	// other backends are untouched
	tvFiles, err := database.ListFilesByBackend("tv")
	require.NoError(t, err)
	assert.Nil(t, tvFiles[0].UnavailableSince)

	// a second pass that sights seen.mkv again does not re-mark gone.mkv
	require.NoError(t, database.UpsertFile("movies", "seen.mkv", 100, 3000))
	marked, err = database.MarkMissingFilesUnavailable("movies", 3000)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestUpsertMediaKeepsStableID(t *testing.T) {
	database := newTestDB(t)

	desc := "first"
	movie := Media{
		Name:         "The Matrix",
		Description:  &desc,
		MediaType:    MediaTypeMovie,
		TmdbParentID: 603,
		TmdbItemID:   603,
	}

	id1, err := database.UpsertMedia(&movie)
	require.NoError(t, err)

	updated := "second"
	movie.Description = &updated
	id2, err := database.UpsertMedia(&movie)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "natural-key conflict must keep the surrogate id")

	row, err := database.GetMediaByID(id1)
	require.NoError(t, err)
	require.NotNil(t, row.Description)
	assert.Equal(t, "second", *row.Description)
}

func TestLinkMediaFileIsIdempotent(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.UpsertFile("movies", "a.mkv", 100, 1000))
	file, err := database.NextPendingFile()
	require.NoError(t, err)

	mediaID, err := database.UpsertMedia(&Media{
		Name: "The Matrix", MediaType: MediaTypeMovie, TmdbParentID: 603, TmdbItemID: 603,
	})
	require.NoError(t, err)

	require.NoError(t, database.LinkMediaFile(mediaID, file.ID))
	require.NoError(t, database.LinkMediaFile(mediaID, file.ID))

	links, err := database.ListConnectionsByFile(file.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestNextPendingFileOrdersByID(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.UpsertFile("movies", "first.mkv", 100, 1000))
	require.NoError(t, database.UpsertFile("movies", "second.mkv", 100, 1000))

	file, err := database.NextPendingFile()
	require.NoError(t, err)
	assert.Equal(t, "first.mkv", file.Key)
}

func TestListSeasonNumbers(t *testing.T) {
	database := newTestDB(t)

	showID, err := database.UpsertMedia(&Media{
		Name: "Arcane", MediaType: MediaTypeShow, TmdbParentID: 94605, TmdbItemID: 94605,
	})
	require.NoError(t, err)

	for i, se := range []struct{ season, episode int64 }{{1, 1}, {1, 2}, {2, 1}} {
		season, episode := se.season, se.episode
		_, err := database.UpsertMedia(&Media{
			Name:          "Episode",
			MediaType:     MediaTypeEpisode,
			ParentID:      &showID,
			TmdbParentID:  94605,
			TmdbItemID:    int64(1000 + i),
			SeasonNumber:  &season,
			EpisodeNumber: &episode,
		})
		require.NoError(t, err)
	}

	seasons, err := database.ListSeasonNumbers(showID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seasons)
}
