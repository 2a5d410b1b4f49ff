package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stephencjuliano/streambox/internal/config"
	"github.com/stephencjuliano/streambox/internal/db"
	"github.com/stephencjuliano/streambox/pkg/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *db.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		Backends: []config.Backend{{Name: "movies", RootDir: t.TempDir()}},
	}
	sessions := ffmpeg.NewSessionManager("ffmpeg", t.TempDir())
	t.Cleanup(sessions.StopAll)

	return NewRouter(database, cfg, sessions), database
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStreamRoutesCoexist(t *testing.T) {
	// the master playlist route shares its prefix with the variant and
	// segment routes; registration alone proves the tree accepts it,
	// this pins the dispatch
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, get(router, "/stream/1/index.m3u8").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/stream/1/video/0/copy/index.m3u8").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/stream/1/video/0/copy/0.ts").Code)
}

func TestUnknownFileReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	w := get(router, "/stream/999/index.m3u8")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "File not found")
}

func TestInvalidFileIDReturns400(t *testing.T) {
	router, _ := newTestRouter(t)
	assert.Equal(t, http.StatusBadRequest, get(router, "/stream/notanid/index.m3u8").Code)
}

func TestUnavailableFileReturns404(t *testing.T) {
	router, database := newTestRouter(t)

	require.NoError(t, database.UpsertFile("movies", "gone.mkv", 100, 1000))
	_, err := database.MarkMissingFilesUnavailable("movies", 2000)
	require.NoError(t, err)

	file, err := database.NextPendingFile()
	require.NoError(t, err)

	w := get(router, "/stream/"+itoa(file.ID)+"/index.m3u8")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
}

func TestUnknownKindAndProfileReturn404(t *testing.T) {
	router, database := newTestRouter(t)

	require.NoError(t, database.UpsertFile("movies", "a.mkv", 100, 1000))
	file, err := database.NextPendingFile()
	require.NoError(t, err)
	id := itoa(file.ID)

	// kind and profile checks run before the file is probed
	assert.Equal(t, http.StatusNotFound, get(router, "/stream/"+id+"/data/0/copy/index.m3u8").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/stream/"+id+"/video/0/h265/index.m3u8").Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
