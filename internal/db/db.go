package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lvcoi/tubeform/internal/media"
)

// Download is a row in the downloads table.
type Download struct {
	media.HistoryEntry
	Category string `json:"category"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS downloads (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT NOT NULL DEFAULT '',
    channel     TEXT NOT NULL DEFAULT '',
    video_id    TEXT NOT NULL DEFAULT '',
    option      TEXT NOT NULL DEFAULT '',
    filename    TEXT NOT NULL DEFAULT '',
    size        INTEGER NOT NULL DEFAULT 0,
    kind        TEXT NOT NULL DEFAULT 'video',
    category    TEXT NOT NULL DEFAULT 'video',
    source_url  TEXT NOT NULL DEFAULT '',
    extractor   TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_downloads_video_id ON downloads(video_id);
CREATE INDEX IF NOT EXISTS idx_downloads_category ON downloads(category);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

// Default and maximum page sizes for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var errNotInitialized = errors.New("database not initialized")

// DB wraps an SQLite connection holding the download history.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// RecordDownload stores a finished download. It satisfies the downloader's
// history hook.
func (d *DB) RecordDownload(ctx context.Context, entry media.HistoryEntry) error {
	_, err := d.Insert(ctx, entry)
	return err
}

// Insert stores entry and returns its row ID.
func (d *DB) Insert(ctx context.Context, entry media.HistoryEntry) (int64, error) {
	if d == nil || d.db == nil {
		return 0, errNotInitialized
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	kind := entry.Kind
	if kind == "" {
		kind = media.KindVideo
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO downloads (
			title, channel, video_id, option, filename,
			size, kind, category, source_url, extractor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Title, entry.Channel, entry.VideoID, entry.Option, entry.Filename,
		entry.Size, string(kind), Classify(entry), entry.SourceURL, entry.Extractor, created.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting download: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	return id, nil
}

// List returns downloads newest first. A non-empty category filters rows.
func (d *DB) List(ctx context.Context, category string, limit, offset int) ([]Download, error) {
	if d == nil || d.db == nil {
		return nil, errNotInitialized
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, title, channel, video_id, option, filename,
			size, kind, category, source_url, extractor, created_at
		FROM downloads
		WHERE ? = '' OR category = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, category, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}
	defer rows.Close()

	records := []Download{}
	for rows.Next() {
		var r Download
		var kind string
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Channel, &r.VideoID, &r.Option, &r.Filename,
			&r.Size, &kind, &r.Category, &r.SourceURL, &r.Extractor, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning download row: %w", err)
		}
		r.Kind = media.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of downloads, optionally filtered by category.
func (d *DB) Count(ctx context.Context, category string) (int, error) {
	if d == nil || d.db == nil {
		return 0, errNotInitialized
	}

	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM downloads WHERE ? = '' OR category = ?", category, category,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting downloads: %w", err)
	}
	return count, nil
}
