package handlers

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stephencjuliano/streambox/internal/config"
	"github.com/stephencjuliano/streambox/internal/db"
	"github.com/stephencjuliano/streambox/pkg/ffmpeg"
)

// probeCacheSize bounds the per-file probe cache; probing shells out,
// so segment requests must not repeat it
const probeCacheSize = 128

// StreamHandler serves HLS playlists and segments
type StreamHandler struct {
	db         *db.DB
	cfg        *config.Config
	ffprobe    *ffmpeg.FFprobe
	sessions   *ffmpeg.SessionManager
	probeCache *lru.Cache[string, *ffmpeg.ProbeResult]
}

// NewStreamHandler creates a new stream handler sharing the given
// session manager
func NewStreamHandler(database *db.DB, cfg *config.Config, sessions *ffmpeg.SessionManager) *StreamHandler {
	cache, _ := lru.New[string, *ffmpeg.ProbeResult](probeCacheSize)
	return &StreamHandler{
		db:         database,
		cfg:        cfg,
		ffprobe:    ffmpeg.NewFFprobe(cfg.FFprobePath()),
		sessions:   sessions,
		probeCache: cache,
	}
}

// resolveFile looks up a file row and maps it onto its backend path.
// Writes the error response itself when the file can't be served.
func (h *StreamHandler) resolveFile(c *gin.Context) (string, bool) {
	fileID, err := strconv.ParseInt(c.Param("file_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file ID"})
		return "", false
	}

	file, err := h.db.GetFileByID(fileID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return "", false
	}
	if err != nil {
		log.Printf("Error finding file %d: %v", fileID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch file"})
		return "", false
	}

	if file.UnavailableSince != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File is unavailable"})
		return "", false
	}

	backend := h.cfg.GetBackendByName(file.BackendName)
	if backend == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backend not found"})
		return "", false
	}

	return filepath.Join(backend.RootDir, file.Key), true
}

func (h *StreamHandler) probe(c *gin.Context, path string) (*ffmpeg.ProbeResult, bool) {
	if cached, ok := h.probeCache.Get(path); ok {
		return cached, true
	}

	probe, err := h.ffprobe.Probe(path)
	if err != nil {
		log.Printf("Error probing %s: %v", path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error probing file"})
		return nil, false
	}

	h.probeCache.Add(path, probe)
	return probe, true
}

// GetMasterPlaylist returns the master playlist for a file
func (h *StreamHandler) GetMasterPlaylist(c *gin.Context) {
	path, ok := h.resolveFile(c)
	if !ok {
		return
	}

	probe, ok := h.probe(c, path)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.String(http.StatusOK, ffmpeg.MasterPlaylist(probe))
}

// resolveProfile validates the kind/idx/profile path segments. Cheap
// checks that need no probe.
func (h *StreamHandler) resolveProfile(c *gin.Context) (int, ffmpeg.Profile, bool) {
	kind, ok := ffmpeg.ParseStreamKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown stream kind"})
		return 0, ffmpeg.Profile{}, false
	}

	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stream index"})
		return 0, ffmpeg.Profile{}, false
	}

	profile, ok := ffmpeg.ProfileByName(kind, c.Param("profile"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown profile"})
		return 0, ffmpeg.Profile{}, false
	}

	return idx, profile, true
}

// lookupStream checks the requested stream exists and the profile can
// service it
func (h *StreamHandler) lookupStream(c *gin.Context, probe *ffmpeg.ProbeResult, idx int, profile ffmpeg.Profile) (*ffmpeg.Stream, bool) {
	stream := probe.StreamByIndex(idx)
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return nil, false
	}

	if !profile.AppliesTo(stream) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not applicable to stream"})
		return nil, false
	}

	return stream, true
}

// GetVariantPlaylist returns the VOD playlist for one stream under one
// profile
func (h *StreamHandler) GetVariantPlaylist(c *gin.Context) {
	idx, profile, ok := h.resolveProfile(c)
	if !ok {
		return
	}

	path, ok := h.resolveFile(c)
	if !ok {
		return
	}

	probe, ok := h.probe(c, path)
	if !ok {
		return
	}

	stream, ok := h.lookupStream(c, probe, idx, profile)
	if !ok {
		return
	}

	playlist, err := ffmpeg.VariantPlaylist(stream, probe.Format, profile)
	if err != nil {
		log.Printf("Error building playlist for %s: %v", path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error building playlist"})
		return
	}

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.String(http.StatusOK, playlist)
}

// GetSegment returns one transcoded segment, transcoding on demand
func (h *StreamHandler) GetSegment(c *gin.Context) {
	idx, profile, ok := h.resolveProfile(c)
	if !ok {
		return
	}

	path, ok := h.resolveFile(c)
	if !ok {
		return
	}

	probe, ok := h.probe(c, path)
	if !ok {
		return
	}

	stream, ok := h.lookupStream(c, probe, idx, profile)
	if !ok {
		return
	}

	segmentName := c.Param("segment")
	numStr, ok := strings.CutSuffix(segmentName, "."+profile.Ext)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown segment format"})
		return
	}
	segment, err := strconv.Atoi(numStr)
	if err != nil || segment < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment number"})
		return
	}

	if duration, err := ffmpeg.StreamDuration(stream, probe.Format); err == nil {
		if segment >= ffmpeg.SegmentCount(duration) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Segment past end of stream"})
			return
		}
	}

	fileID, _ := strconv.ParseInt(c.Param("file_id"), 10, 64)
	key := ffmpeg.SessionKey{
		FileID:      fileID,
		Kind:        stream.Kind,
		StreamIndex: stream.Index,
		Profile:     profile.Name,
	}

	data, err := h.sessions.GetSegment(key, path, segment)
	switch {
	case errors.Is(err, ffmpeg.ErrSegmentTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timed out waiting for segment"})
		return
	case err != nil:
		log.Printf("Error getting segment %d for %s: %v", segment, key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error getting segment"})
		return
	}

	contentType := "video/mp2t"
	if profile.Ext == "vtt" {
		contentType = "text/vtt"
	}
	c.Header("Cache-Control", "max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}
