// Package history persists downloaded subtitles in a sqlite database:
// which subtitle was saved for which video, by which provider, at what
// score, correlated by run id. The store backs the history command, the
// API surface and the re-run blacklist.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Entry is one downloaded subtitle.
type Entry struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"runId"`
	VideoPath    string    `json:"videoPath"`
	Provider     string    `json:"provider"`
	SubtitleID   string    `json:"subtitleId"`
	Language     string    `json:"language"`
	Score        int       `json:"score"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Store records and queries downloads. SQLite supports one writer, so
// the connection pool is pinned to a single connection.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates the history database at path and brings its
// schema up to date.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "history").Logger(),
	}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrating history database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one download and returns the stored entry with its id.
func (s *Store) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.DownloadedAt.IsZero() {
		e.DownloadedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (run_id, video_path, provider, subtitle_id, language, score, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.VideoPath, e.Provider, e.SubtitleID, e.Language, e.Score, e.DownloadedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("recording download: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("video", e.VideoPath).
		Str("provider", e.Provider).
		Str("language", e.Language).
		Int("score", e.Score).
		Msg("Download recorded")
	return &e, nil
}

const selectColumns = `id, run_id, video_path, provider, subtitle_id, language, score, downloaded_at`

// Recent returns the newest entries, newest first. A non-positive
// limit means 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM downloads
		ORDER BY downloaded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ForVideo returns every download recorded for the video path, newest
// first.
func (s *Store) ForVideo(ctx context.Context, videoPath string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM downloads
		WHERE video_path = ?
		ORDER BY downloaded_at DESC, id DESC`, videoPath)
	if err != nil {
		return nil, fmt.Errorf("listing downloads for video: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DownloadedIDs returns the provider:id keys of every subtitle already
// downloaded for the video, in the shape the selection blacklist takes.
func (s *Store) DownloadedIDs(ctx context.Context, videoPath string) (map[string]struct{}, error) {
	entries, err := s.ForVideo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		ids[e.Provider+":"+e.SubtitleID] = struct{}{}
	}
	return ids, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.VideoPath, &e.Provider, &e.SubtitleID, &e.Language, &e.Score, &e.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scanning download row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
