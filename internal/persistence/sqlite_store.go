package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/notepress/notepress/internal/analysis"
	"github.com/notepress/notepress/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable backing for both the job queue and the
// analysis cache. Timestamps are stored in UTC; list fields are JSON-encoded
// at this boundary only, the in-memory model always holds typed slices.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

const jobColumns = `path, status, progress, title, description, tags_json, content_hash,
	 language, created_at, last_attempt_at, retry_after, retry_count, uploaded_at, note_url, error_message`

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		item, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, path string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE path = ?`,
		path,
	)
	item, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	tagsJSON, err := json.Marshal(emptyIfNil(job.Tags))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			path, status, progress, title, description, tags_json, content_hash,
			language, created_at, last_attempt_at, retry_after, retry_count, uploaded_at, note_url, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			status=excluded.status,
			progress=excluded.progress,
			title=excluded.title,
			description=excluded.description,
			tags_json=excluded.tags_json,
			content_hash=excluded.content_hash,
			language=excluded.language,
			last_attempt_at=excluded.last_attempt_at,
			retry_after=excluded.retry_after,
			retry_count=excluded.retry_count,
			uploaded_at=excluded.uploaded_at,
			note_url=excluded.note_url,
			error_message=excluded.error_message`,
		job.Path,
		string(job.Status),
		job.Progress,
		job.Title,
		job.Description,
		string(tagsJSON),
		job.ContentHash,
		job.Language,
		job.CreatedAt.UTC(),
		nullableTime(job.LastAttemptAt),
		nullableTime(job.RetryAfter),
		job.RetryCount,
		nullableTime(job.UploadedAt),
		job.NoteURL,
		job.ErrorMessage,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE path = ?`, path)
	return err
}

func (s *SQLiteStore) PutAnalysis(ctx context.Context, entry analysis.CacheEntry) error {
	tagsJSON, err := json.Marshal(emptyIfNil(entry.Tags))
	if err != nil {
		return err
	}
	analyzedAt := entry.AnalyzedAt.UTC()
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	expiresAt := entry.ExpiresAt.UTC()
	if expiresAt.IsZero() {
		expiresAt = analyzedAt.Add(analysis.DefaultCacheTTL)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO analysis_cache (
			source_id, content_hash, ai_title, ai_description, ai_tags_json, analyzed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, content_hash) DO UPDATE SET
			ai_title=excluded.ai_title,
			ai_description=excluded.ai_description,
			ai_tags_json=excluded.ai_tags_json,
			analyzed_at=excluded.analyzed_at,
			expires_at=excluded.expires_at`,
		entry.SourceID,
		entry.ContentHash,
		entry.Title,
		entry.Description,
		string(tagsJSON),
		analyzedAt,
		expiresAt,
	)
	return err
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, sourceID, contentHash string, now time.Time) (analysis.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT source_id, content_hash, ai_title, ai_description, ai_tags_json, analyzed_at, expires_at
		 FROM analysis_cache
		 WHERE source_id = ? AND content_hash = ? AND expires_at > ?`,
		sourceID,
		contentHash,
		now.UTC(),
	)

	var ret analysis.CacheEntry
	var tagsJSON string
	if err := row.Scan(
		&ret.SourceID,
		&ret.ContentHash,
		&ret.Title,
		&ret.Description,
		&tagsJSON,
		&ret.AnalyzedAt,
		&ret.ExpiresAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return analysis.CacheEntry{}, false, nil
		}
		return analysis.CacheEntry{}, false, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ret.Tags); err != nil {
		return analysis.CacheEntry{}, false, err
	}
	return ret, true, nil
}

func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE source_id = ?`, sourceID)
	return err
}

// DeleteExpiredAnalysis removes analysis_cache rows whose expires_at is at or before now.
func (s *SQLiteStore) DeleteExpiredAnalysis(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var item jobs.Job
	var status string
	var tagsJSON string
	var lastAttemptAt, retryAfter, uploadedAt sql.NullTime
	if err := row.Scan(
		&item.Path,
		&status,
		&item.Progress,
		&item.Title,
		&item.Description,
		&tagsJSON,
		&item.ContentHash,
		&item.Language,
		&item.CreatedAt,
		&lastAttemptAt,
		&retryAfter,
		&item.RetryCount,
		&uploadedAt,
		&item.NoteURL,
		&item.ErrorMessage,
	); err != nil {
		return nil, err
	}
	item.Status = jobs.Status(status)
	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return nil, err
	}
	item.LastAttemptAt = timePtr(lastAttemptAt)
	item.RetryAfter = timePtr(retryAfter)
	item.UploadedAt = timePtr(uploadedAt)
	return &item, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tmp := t.Time
	return &tmp
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
