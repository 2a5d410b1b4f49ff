package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stephencjuliano/streambox/internal/db"
	"github.com/stephencjuliano/streambox/pkg/tmdb"
)

const (
	idleSleep  = 5 * time.Second
	errorSleep = 30 * time.Second
)

// Worker consumes files flagged for auto-matching, resolves them
// against TMDB, and writes the resulting catalog rows. Files are
// processed strictly one at a time, oldest first.
type Worker struct {
	db      *db.DB
	tmdb    *tmdb.Client
	matcher *Matcher
}

// NewWorker creates a new matcher worker
func NewWorker(database *db.DB, client *tmdb.Client) *Worker {
	return &Worker{
		db:      database,
		tmdb:    client,
		matcher: NewMatcher(client),
	}
}

// Run loops until the context is canceled
func (w *Worker) Run(ctx context.Context) error {
	log.Println("Starting matcher worker")

	for {
		file, err := w.db.NextPendingFile()
		if errors.Is(err, db.ErrNotFound) {
			if !sleepCtx(ctx, idleSleep) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch pending file: %w", err)
		}

		log.Printf("processing unmatched file '%s'", file.Key)
		if err := w.processFile(&file); err != nil {
			log.Printf("failed to process file '%s': %v", file.Key, err)
			if !sleepCtx(ctx, errorSleep) {
				return ctx.Err()
			}
			continue
		}

		if err := w.db.ClearPendingAutoMatch(file.ID); err != nil {
			return fmt.Errorf("failed to clear match flag: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// processFile resolves one file and writes its catalog rows. A nil
// return means the file is done with matching, successful or not.
func (w *Worker) processFile(file *db.File) error {
	result, err := w.matcher.MatchFile(file.Key)
	if errors.Is(err, ErrUnparsable) {
		// an unparsable name will never match on a retry; dropping the
		// flag here keeps the worker from spinning on it
		log.Printf("warning: %v, skipping permanently", err)
		return nil
	}
	if err != nil {
		return err
	}
	if result == nil {
		log.Printf("no match found for '%s'", file.Key)
		return nil
	}

	if result.Movie != nil {
		log.Printf("matched '%s' to movie '%s' (%d)", file.Key, result.Movie.Title, result.Movie.ID)
		return w.writeMovie(file.ID, result.Movie)
	}

	log.Printf("matched '%s' to series '%s' (%d)", file.Key, result.Show.Name, result.Show.ID)
	return w.writeShow(file.ID, result.Show, &result.Parsed)
}

func (w *Worker) writeMovie(fileID int64, movie *tmdb.MovieDetails) error {
	row := db.Media{
		Name:           movie.Title,
		Description:    movie.Overview,
		PosterURL:      imageURL(movie.PosterPath),
		BackgroundURL:  imageURL(movie.BackdropPath),
		MediaType:      db.MediaTypeMovie,
		TmdbParentID:   movie.ID,
		TmdbItemID:     movie.ID,
		ImdbParentID:   imdbID(movie.ExternalIDs),
		Rating:         movie.VoteAverage,
		StartDate:      tmdb.DateToEpoch(movie.ReleaseDate),
		RuntimeMinutes: movie.Runtime,
	}

	mediaID, err := w.db.UpsertMedia(&row)
	if err != nil {
		return fmt.Errorf("failed to write movie: %w", err)
	}

	return w.db.LinkMediaFile(mediaID, fileID)
}

// writeShow upserts the show row and every episode of the season the
// file names, then links the file to just its own episodes
func (w *Worker) writeShow(fileID int64, show *tmdb.TvShowDetails, parsed *ParsedName) error {
	row := db.Media{
		Name:          show.Name,
		Description:   show.Overview,
		PosterURL:     imageURL(show.PosterPath),
		BackgroundURL: imageURL(show.BackdropPath),
		MediaType:     db.MediaTypeShow,
		TmdbParentID:  show.ID,
		TmdbItemID:    show.ID,
		ImdbParentID:  imdbID(show.ExternalIDs),
		Rating:        show.VoteAverage,
		StartDate:     tmdb.DateToEpoch(show.FirstAirDate),
	}
	if !show.InProduction {
		row.EndDate = tmdb.DateToEpoch(show.LastAirDate)
	}

	showID, err := w.db.UpsertMedia(&row)
	if err != nil {
		return fmt.Errorf("failed to write show: %w", err)
	}

	season, err := w.tmdb.GetTvSeasonDetails(show.ID, int64(parsed.SeasonNumber))
	if err != nil {
		// TMDB's season numbering doesn't always agree with release
		// naming; treat the file as matched but leave it unconnected
		// rather than retrying forever
		log.Printf("failed to get season %d details for show %d: %v", parsed.SeasonNumber, show.ID, err)
		return nil
	}

	wanted := make(map[int64]bool, len(parsed.Episodes))
	for _, e := range parsed.Episodes {
		wanted[int64(e)] = true
	}

	// every episode of the season gets a row, not just the ones with
	// files on disk
	seasonNumber := int64(parsed.SeasonNumber)
	for _, ep := range season.Episodes {
		episodeNumber := ep.EpisodeNumber
		episodeRow := db.Media{
			Name:           ep.Name,
			Description:    ep.Overview,
			ThumbnailURL:   imageURL(ep.StillPath),
			ParentID:       &showID,
			MediaType:      db.MediaTypeEpisode,
			TmdbParentID:   show.ID,
			TmdbItemID:     ep.ID,
			Rating:         ep.VoteAverage,
			StartDate:      tmdb.DateToEpoch(ep.AirDate),
			RuntimeMinutes: ep.Runtime,
			SeasonNumber:   &seasonNumber,
			EpisodeNumber:  &episodeNumber,
		}

		episodeID, err := w.db.UpsertMedia(&episodeRow)
		if err != nil {
			return fmt.Errorf("failed to write episode %d: %w", ep.EpisodeNumber, err)
		}

		if wanted[ep.EpisodeNumber] {
			if err := w.db.LinkMediaFile(episodeID, fileID); err != nil {
				return fmt.Errorf("failed to link episode %d: %w", ep.EpisodeNumber, err)
			}
		}
	}

	return nil
}

func imageURL(path *string) *string {
	if path == nil || *path == "" {
		return nil
	}
	url := tmdb.ImageBaseURL + *path
	return &url
}

func imdbID(ids *tmdb.ExternalIDs) *string {
	if ids == nil || ids.ImdbID == "" {
		return nil
	}
	id := ids.ImdbID
	return &id
}

// sleepCtx sleeps for d, returning false if the context was canceled
// first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
