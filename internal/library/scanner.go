package library

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stephencjuliano/streambox/internal/config"
	"github.com/stephencjuliano/streambox/internal/db"
)

const (
	// MinFileSize filters out samples, trailers, and junk
	MinFileSize = 50 * 1024 * 1024

	scanInterval     = 4 * time.Hour
	progressInterval = 5 * time.Second
)

// Supported video extensions
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".mpg": true, ".mpeg": true, ".3gp": true, ".ts": true, ".m2ts": true,
}

// Scanner walks backend roots on a schedule and keeps the file table in
// sync with what is on disk
type Scanner struct {
	db      *db.DB
	cfg     *config.Config
	mu      sync.Mutex
	running bool
	rescan  chan string
	now     func() int64
}

// NewScanner creates a new library scanner
func NewScanner(database *db.DB, cfg *config.Config) *Scanner {
	return &Scanner{
		db:     database,
		cfg:    cfg,
		rescan: make(chan string, 1),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// IsRunning returns true if a scan pass is in progress
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RequestRescan schedules an out-of-band scan of one backend. Safe to
// call from any goroutine; requests collapse if one is already queued.
func (s *Scanner) RequestRescan(backendName string) {
	select {
	case s.rescan <- backendName:
	default:
	}
}

// Run scans all backends immediately, then every scanInterval, until
// the context is canceled. Watcher-triggered rescans of single backends
// run in between.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	if err := s.ScanAll(); err != nil {
		log.Printf("scan failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScanAll(); err != nil {
				log.Printf("scan failed: %v", err)
			}
		case name := <-s.rescan:
			backend := s.cfg.GetBackendByName(name)
			if backend == nil {
				continue
			}
			if err := s.scanWithLock(backend); err != nil {
				log.Printf("rescan of backend '%s' failed: %v", name, err)
			}
		}
	}
}

// ScanAll scans every configured backend. Passes are serialized; a call
// while one is running is a no-op.
func (s *Scanner) ScanAll() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Println("Starting file scan")
	for i := range s.cfg.Backends {
		if err := s.scanBackend(&s.cfg.Backends[i]); err != nil {
			log.Printf("Error scanning backend %s: %v", s.cfg.Backends[i].Name, err)
		}
	}

	return nil
}

func (s *Scanner) scanWithLock(backend *config.Backend) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.scanBackend(backend)
}

// scanProgress tracks transient per-pass counters
type scanProgress struct {
	filesImported   int64
	bytesImported   int64
	filesSeen       int64
	directoriesSeen int64
	lastLogTime     time.Time
}

func (p *scanProgress) logIfNeeded(backendName string) {
	if time.Since(p.lastLogTime) >= progressInterval {
		log.Printf(
			"Scan progress for backend '%s': %d files imported (%.2f GB), %d files seen, %d directories seen",
			backendName,
			p.filesImported,
			float64(p.bytesImported)/(1024*1024*1024),
			p.filesSeen,
			p.directoriesSeen,
		)
		p.lastLogTime = time.Now()
	}
}

// scanBackend walks one backend root, upserting every qualifying file,
// then marks everything that went unseen as unavailable
func (s *Scanner) scanBackend(backend *config.Backend) error {
	scanStart := s.now()
	progress := &scanProgress{lastLogTime: time.Now()}

	log.Printf("Scanning directory: %s for backend: %s", backend.RootDir, backend.Name)

	err := filepath.WalkDir(backend.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// an unreachable root aborts the pass before anything gets
			// marked unavailable; any other unreadable directory just
			// loses its subtree
			if path == backend.RootDir {
				return err
			}
			log.Printf("Error reading %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			progress.directoriesSeen++
			progress.logIfNeeded(backend.Name)
			return nil
		}

		progress.filesSeen++
		progress.logIfNeeded(backend.Name)

		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Printf("Error getting metadata for %s, ignoring: %v", path, err)
			return nil
		}

		if info.Size() < MinFileSize {
			return nil
		}

		key, err := filepath.Rel(backend.RootDir, path)
		if err != nil {
			key = path
		}

		if err := s.db.UpsertFile(backend.Name, key, info.Size(), scanStart); err != nil {
			return err
		}

		progress.filesImported++
		progress.bytesImported += info.Size()
		return nil
	})
	if err != nil {
		return err
	}

	marked, err := s.db.MarkMissingFilesUnavailable(backend.Name, scanStart)
	if err != nil {
		return err
	}
	if marked > 0 {
		log.Printf("Marked %d missing files unavailable for backend '%s'", marked, backend.Name)
	}

	progress.logIfNeeded(backend.Name)
	log.Printf("Scan completed for backend '%s'", backend.Name)

	return nil
}
