package db

import (
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// ============ Generic Helper Functions ============

// Generic helper for getting a single record
func getOne[T any](db *sql.DB, query string, scanner func(*sql.Row) (T, error), args ...any) (T, error) {
	row := db.QueryRow(query, args...)
	result, err := scanner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return result, ErrNotFound
	}
	return result, err
}

// Generic helper for scanning multiple rows
func scanRows[T any](rows *sql.Rows, scanner func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// ============ Scanner Helper Functions ============

func scanFileRow(row *sql.Row) (File, error) {
	var f File
	err := row.Scan(
		&f.ID, &f.BackendName, &f.Key, &f.PendingAutoMatch,
		&f.UnavailableSince, &f.EditionName, &f.SizeBytes, &f.ScannedAt,
	)
	return f, err
}

func scanMediaRow(row *sql.Row) (Media, error) {
	var m Media
	err := row.Scan(
		&m.ID, &m.Name, &m.Description, &m.PosterURL, &m.BackgroundURL,
		&m.ThumbnailURL, &m.ParentID, &m.MediaType, &m.TmdbParentID,
		&m.TmdbItemID, &m.ImdbParentID, &m.Rating, &m.StartDate,
		&m.EndDate, &m.RuntimeMinutes, &m.SeasonNumber, &m.EpisodeNumber,
	)
	return m, err
}

const fileColumns = `id, backend_name, key, pending_auto_match, unavailable_since, edition_name, size_bytes, scanned_at`
const mediaColumns = `id, name, description, poster_url, background_url, thumbnail_url, parent_id, media_type, tmdb_parent_id, tmdb_item_id, imdb_parent_id, rating, start_date, end_date, runtime_minutes, season_number, episode_number`

// ============ File Repository Methods ============

// GetFileByID returns the file row with the given id
func (db *DB) GetFileByID(id int64) (File, error) {
	return getOne(db.conn, `SELECT `+fileColumns+` FROM file WHERE id = ?`, scanFileRow, id)
}

// UpsertFile records a sighting of a file during a scan pass. New rows
// are flagged for auto-matching; existing rows have their size and scan
// time refreshed and any unavailability cleared.
func (db *DB) UpsertFile(backendName, key string, sizeBytes, scannedAt int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO file (backend_name, key, size_bytes, scanned_at, pending_auto_match)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (backend_name, key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			scanned_at = excluded.scanned_at,
			unavailable_since = NULL`,
		backendName, key, sizeBytes, scannedAt,
	)
	return err
}

// MarkMissingFilesUnavailable flags every file of a backend that was not
// seen during the pass that started at scanStart. Returns the number of
// rows newly marked.
func (db *DB) MarkMissingFilesUnavailable(backendName string, scanStart int64) (int64, error) {
	res, err := db.conn.Exec(`
		UPDATE file SET unavailable_since = ?
		WHERE backend_name = ? AND scanned_at < ? AND unavailable_since IS NULL`,
		scanStart, backendName, scanStart,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NextPendingFile returns the oldest file still awaiting an auto-match,
// or ErrNotFound if the queue is empty
func (db *DB) NextPendingFile() (File, error) {
	return getOne(db.conn,
		`SELECT `+fileColumns+` FROM file WHERE pending_auto_match = 1 ORDER BY id ASC LIMIT 1`,
		scanFileRow,
	)
}

// ClearPendingAutoMatch marks a file as no longer awaiting a match
func (db *DB) ClearPendingAutoMatch(fileID int64) error {
	_, err := db.conn.Exec(`UPDATE file SET pending_auto_match = 0 WHERE id = ?`, fileID)
	return err
}

// ListFilesByBackend returns all file rows of a backend
func (db *DB) ListFilesByBackend(backendName string) ([]File, error) {
	rows, err := db.conn.Query(`SELECT `+fileColumns+` FROM file WHERE backend_name = ? ORDER BY id`, backendName)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(rows *sql.Rows) (File, error) {
		var f File
		err := rows.Scan(
			&f.ID, &f.BackendName, &f.Key, &f.PendingAutoMatch,
			&f.UnavailableSince, &f.EditionName, &f.SizeBytes, &f.ScannedAt,
		)
		return f, err
	})
}

// ============ Media Repository Methods ============

// UpsertMedia writes a catalog entry keyed on its TMDB identity and
// returns the row id. On conflict the descriptive fields are refreshed;
// the surrogate id is stable.
func (db *DB) UpsertMedia(m *Media) (int64, error) {
	_, err := db.conn.Exec(`
		INSERT INTO media (
			name, description, poster_url, background_url, thumbnail_url,
			parent_id, media_type, tmdb_parent_id, tmdb_item_id, imdb_parent_id,
			rating, start_date, end_date, runtime_minutes, season_number, episode_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tmdb_parent_id, tmdb_item_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			poster_url = excluded.poster_url,
			background_url = excluded.background_url,
			thumbnail_url = excluded.thumbnail_url,
			imdb_parent_id = excluded.imdb_parent_id,
			rating = excluded.rating,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			runtime_minutes = excluded.runtime_minutes`,
		m.Name, m.Description, m.PosterURL, m.BackgroundURL, m.ThumbnailURL,
		m.ParentID, m.MediaType, m.TmdbParentID, m.TmdbItemID, m.ImdbParentID,
		m.Rating, m.StartDate, m.EndDate, m.RuntimeMinutes, m.SeasonNumber, m.EpisodeNumber,
	)
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.conn.QueryRow(
		`SELECT id FROM media WHERE tmdb_parent_id = ? AND tmdb_item_id = ?`,
		m.TmdbParentID, m.TmdbItemID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	m.ID = id
	return id, nil
}

// GetMediaByID returns the catalog entry with the given id
func (db *DB) GetMediaByID(id int64) (Media, error) {
	return getOne(db.conn, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, scanMediaRow, id)
}

// ListEpisodesByShow returns all episodes hanging off a show, ordered by
// season then episode number
func (db *DB) ListEpisodesByShow(showID int64) ([]Media, error) {
	rows, err := db.conn.Query(
		`SELECT `+mediaColumns+` FROM media WHERE parent_id = ? AND media_type = ? ORDER BY season_number, episode_number`,
		showID, MediaTypeEpisode,
	)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(rows *sql.Rows) (Media, error) {
		var m Media
		err := rows.Scan(
			&m.ID, &m.Name, &m.Description, &m.PosterURL, &m.BackgroundURL,
			&m.ThumbnailURL, &m.ParentID, &m.MediaType, &m.TmdbParentID,
			&m.TmdbItemID, &m.ImdbParentID, &m.Rating, &m.StartDate,
			&m.EndDate, &m.RuntimeMinutes, &m.SeasonNumber, &m.EpisodeNumber,
		)
		return m, err
	})
}

// ListSeasonNumbers returns the distinct season numbers present across a
// show's episodes, ascending
func (db *DB) ListSeasonNumbers(showID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT season_number FROM media
		 WHERE parent_id = ? AND media_type = ? AND season_number IS NOT NULL
		 ORDER BY season_number`,
		showID, MediaTypeEpisode,
	)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(rows *sql.Rows) (int64, error) {
		var n int64
		err := rows.Scan(&n)
		return n, err
	})
}

// ============ MediaConnection Repository Methods ============

// LinkMediaFile creates a media↔file link. Inserting the same link twice
// is a no-op.
func (db *DB) LinkMediaFile(mediaID, fileID int64) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO media_connection (media_id, file_id) VALUES (?, ?)`,
		mediaID, fileID,
	)
	return err
}

// ListConnectionsByFile returns all links for a file
func (db *DB) ListConnectionsByFile(fileID int64) ([]MediaConnection, error) {
	rows, err := db.conn.Query(
		`SELECT media_id, file_id FROM media_connection WHERE file_id = ?`, fileID,
	)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(rows *sql.Rows) (MediaConnection, error) {
		var c MediaConnection
		err := rows.Scan(&c.MediaID, &c.FileID)
		return c, err
	})
}
