package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/stephencjuliano/streambox/internal/api"
	"github.com/stephencjuliano/streambox/internal/config"
	"github.com/stephencjuliano/streambox/internal/db"
	"github.com/stephencjuliano/streambox/internal/library"
	"github.com/stephencjuliano/streambox/pkg/ffmpeg"
	"github.com/stephencjuliano/streambox/pkg/tmdb"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.New(filepath.Join(cfg.DataDir, "streambox.db"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)

	sessions := ffmpeg.NewSessionManager(cfg.FFmpegPath(), cfg.GetTranscodeCacheDir())
	defer sessions.StopAll()

	router := api.NewRouter(database, cfg, sessions)

	tmdbClient := tmdb.NewClient(cfg.TMDbAPIKey)
	if tmdbClient.IsConfigured() {
		log.Println("TMDB metadata matching enabled")
	} else {
		log.Println("TMDB API key not configured - metadata matching disabled")
	}

	scanner := library.NewScanner(database, cfg)
	worker := library.NewWorker(database, tmdbClient)

	watcher, err := library.NewWatcher(cfg, scanner)
	if err != nil {
		log.Fatalf("Failed to create backend watcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		log.Fatalf("Failed to start backend watcher: %v", err)
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{Addr: addr, Handler: router}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return scanner.Run(ctx)
	})

	if tmdbClient.IsConfigured() {
		group.Go(func() error {
			return worker.Run(ctx)
		})
	}

	group.Go(func() error {
		log.Printf("Starting media server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("Server error: %v", err)
	}
}
