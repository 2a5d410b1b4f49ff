package ffmpeg

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// JumpSize is the maximum number of segments the producer may lag
	// behind a request before the converter is restarted at the new
	// position
	JumpSize = 5

	// BufferSize is the maximum number of segments the producer may run
	// ahead of the last request before it is suspended
	BufferSize = 3

	segmentWaitTimeout = 10 * time.Second
)

var (
	// ErrSegmentTimeout means the converter did not produce the
	// requested segment within the per-request wait cap. The session
	// stays alive; the player is expected to retry.
	ErrSegmentTimeout = errors.New("timed out waiting for segment")

	// ErrConverterFailed means the converter exited before producing
	// the requested segment. The next request restarts the session.
	ErrConverterFailed = errors.New("converter exited before producing segment")
)

// SessionKey identifies one transcode session
type SessionKey struct {
	FileID      int64
	Kind        StreamKind
	StreamIndex int
	Profile     string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%d", k.FileID, k.Kind, k.Profile, k.StreamIndex)
}

// SessionManager owns the map of active transcode sessions. Each
// session owns at most one live converter process and one output
// directory under the transcode cache root.
type SessionManager struct {
	ffmpegPath string
	cacheRoot  string
	mu         sync.Mutex
	sessions   map[SessionKey]*Session
}

// NewSessionManager creates a new session manager
func NewSessionManager(ffmpegPath, cacheRoot string) *SessionManager {
	return &SessionManager{
		ffmpegPath: ffmpegPath,
		cacheRoot:  cacheRoot,
		sessions:   make(map[SessionKey]*Session),
	}
}

// SegmentDir returns the output directory owned by the session with the
// given key
func (sm *SessionManager) SegmentDir(key SessionKey) string {
	return filepath.Join(
		sm.cacheRoot,
		strconv.FormatInt(key.FileID, 10),
		string(key.Kind),
		key.Profile,
		strconv.Itoa(key.StreamIndex),
	)
}

// GetSegment returns the content of the requested segment, blocking
// until the session's converter produces it or the wait cap elapses.
// The session is created lazily on first request.
func (sm *SessionManager) GetSegment(key SessionKey, inputPath string, segment int) ([]byte, error) {
	profile, ok := ProfileByName(key.Kind, key.Profile)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q for %s streams", key.Profile, key.Kind)
	}

	dir := sm.SegmentDir(key)
	segPath := filepath.Join(dir, profile.SegmentFileName(segment))

	// Already materialized: serve straight from disk
	if data, err := os.ReadFile(segPath); err == nil {
		return data, nil
	}

	sm.mu.Lock()
	session, ok := sm.sessions[key]
	if !ok {
		session = newSession(sm.ffmpegPath, dir, profile, inputPath, key)
		sm.sessions[key] = session
	}
	sm.mu.Unlock()

	return session.getSegment(segment)
}

// Stop tears down one session, killing its converter
func (sm *SessionManager) Stop(key SessionKey) {
	sm.mu.Lock()
	session, ok := sm.sessions[key]
	if ok {
		delete(sm.sessions, key)
	}
	sm.mu.Unlock()

	if session != nil {
		session.stop()
	}
}

// StopAll tears down every active session
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[SessionKey]*Session)
	sm.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

// Session pairs a session key with one live converter process and its
// output directory
type Session struct {
	ffmpegPath string
	dir        string
	profile    Profile
	inputPath  string
	key        SessionKey

	// buildArgs produces the converter argv for one start position;
	// defaults to the profile's argv and is swapped out by tests
	buildArgs func(ProfileContext) []string

	mu   sync.Mutex // guards proc replacement decisions
	proc *converter
}

func newSession(ffmpegPath, dir string, profile Profile, inputPath string, key SessionKey) *Session {
	return &Session{
		ffmpegPath: ffmpegPath,
		dir:        dir,
		profile:    profile,
		inputPath:  inputPath,
		key:        key,
		buildArgs:  profile.Args,
	}
}

// getSegment implements the reuse-or-restart decision under the session
// mutex, then waits for the segment outside it so concurrent callers
// share the converter's progress events.
func (s *Session) getSegment(segment int) ([]byte, error) {
	segPath := filepath.Join(s.dir, s.profile.SegmentFileName(segment))

	s.mu.Lock()
	proc := s.proc
	switch {
	case proc == nil || proc.exited():
		if proc != nil {
			log.Printf("session %s: converter is gone, restarting at segment %d", s.key, segment)
			proc.stop()
		}
		var err error
		proc, err = s.startConverter(segment)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.proc = proc

	default:
		// reuse only while the producer is short of the request by at
		// most JumpSize segments; anything else repositions it
		current := proc.currentSegment.Load()
		if int64(segment) <= current || int64(segment)-current > JumpSize {
			log.Printf("session %s: moving converter from segment %d to %d", s.key, current, segment)
			proc.stop()
			var err error
			proc, err = s.startConverter(segment)
			if err != nil {
				s.mu.Unlock()
				return nil, err
			}
			s.proc = proc
		}
	}

	proc.wantedSegment.Store(int64(segment))
	proc.resume()
	s.mu.Unlock()

	return proc.waitForSegment(segPath)
}

// startConverter spawns a converter positioned at the given segment.
// Caller holds s.mu.
func (s *Session) startConverter(segment int) (*converter, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	args := s.buildArgs(ProfileContext{
		InputPath:       s.inputPath,
		StreamIndex:     s.key.StreamIndex,
		OutputDir:       s.dir,
		SegmentIndex:    segment,
		SegmentDuration: TargetDuration,
		StartTimeOffset: float64(segment) * TargetDuration,
	})

	return spawnConverter(s.ffmpegPath, args, s.dir, s.profile.Ext, segment)
}

// stop kills the live converter, if any
func (s *Session) stop() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc != nil {
		proc.stop()
	}
}

// converter wraps one running ffmpeg child together with the watcher
// that tracks its segment output
type converter struct {
	cmd            *exec.Cmd
	currentSegment atomic.Int64 // last segment seen complete on disk
	wantedSegment  atomic.Int64 // last segment a caller asked for
	paused         atomic.Bool
	notifier       *notifier
	watcher        *fsnotify.Watcher
	waitDone       chan struct{}
}

// spawnConverter starts ffmpeg with the given args and a filesystem
// watcher over its output directory. The hls-muxer profiles publish
// segments by renaming a temp file, so a Create/Rename of seg-<N>.<ext>
// means segment N is complete on disk. The webvtt profile writes its
// segments in place, so for it a Create can mark a segment that is
// still being written.
func spawnConverter(ffmpegPath string, args []string, dir, ext string, startSegment int) (*converter, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create segment watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch segment directory: %w", err)
	}

	log.Printf("starting converter: %s %s", ffmpegPath, strings.Join(args, " "))

	cmd := exec.Command(ffmpegPath, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to spawn converter: %w", err)
	}

	c := &converter{
		cmd:      cmd,
		notifier: newNotifier(),
		watcher:  watcher,
		waitDone: make(chan struct{}),
	}
	c.currentSegment.Store(int64(startSegment) - 1)
	c.wantedSegment.Store(int64(startSegment))

	go func() {
		if err := cmd.Wait(); err != nil && !strings.Contains(err.Error(), "killed") {
			log.Printf("converter exited: %v", err)
		}
		close(c.waitDone)
		c.notifier.broadcast()
	}()

	go c.watchSegments(ext)

	return c, nil
}

// watchSegments consumes filesystem events for the output directory,
// tracking segment completion and applying back-pressure when the
// producer runs too far ahead of the last request.
func (c *converter) watchSegments(ext string) {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			// temp_file mode publishes a segment by renaming it to its
			// final name; that lands as Create (or Rename) here
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}

			segment, ok := parseSegmentName(filepath.Base(event.Name), ext)
			if !ok {
				continue
			}

			c.currentSegment.Store(int64(segment))
			c.notifier.broadcast()

			wanted := c.wantedSegment.Load()
			if int64(segment) > wanted+BufferSize {
				log.Printf("pausing converter: segment %d is past wanted segment %d", segment, wanted)
				c.pause()
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("segment watcher error: %v", err)
		}
	}
}

// waitForSegment blocks until the segment file appears, the converter
// exits, or the wait cap elapses
func (c *converter) waitForSegment(segPath string) ([]byte, error) {
	timeout := time.NewTimer(segmentWaitTimeout)
	defer timeout.Stop()

	for {
		wake := c.notifier.wait()

		if data, err := os.ReadFile(segPath); err == nil {
			return data, nil
		}
		if c.exited() {
			return nil, ErrConverterFailed
		}

		select {
		case <-wake:
		case <-timeout.C:
			return nil, ErrSegmentTimeout
		}
	}
}

// pause suspends the converter in place, preserving its decoder and
// demuxer state for cheap resumption
func (c *converter) pause() {
	if err := c.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		log.Printf("failed to pause converter: %v", err)
		return
	}
	c.paused.Store(true)
}

// resume lifts any previous pause
func (c *converter) resume() {
	if err := c.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return
	}
	c.paused.Store(false)
}

// exited reports whether the converter process has terminated
func (c *converter) exited() bool {
	select {
	case <-c.waitDone:
		return true
	default:
		return false
	}
}

// stop kills the converter and waits for it to be reaped before
// returning, then shuts down the watcher. A stopped process cannot be
// killed, so resume first.
func (c *converter) stop() {
	c.resume()
	c.cmd.Process.Kill()
	<-c.waitDone
	c.watcher.Close()
}

// parseSegmentName extracts the segment index from a "seg-<N>.<ext>"
// file name
func parseSegmentName(name, ext string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "seg-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "."+ext)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// notifier is a broadcast signal: every waiter blocked on wait() is
// released by the next broadcast()
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns a channel that is closed at the next broadcast
func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
