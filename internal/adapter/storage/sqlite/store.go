package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "vidaudio.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `id, original_name, format, resolved_format, bitrate, state, error_code,
	error_message, staged_path, output_name, output_path, log_path, file_size, created_at, completed_at`

func (s *Store) Save(j *domain.Job) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_name = excluded.original_name,
			format = excluded.format,
			resolved_format = excluded.resolved_format,
			bitrate = excluded.bitrate,
			state = excluded.state,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			staged_path = excluded.staged_path,
			output_name = excluded.output_name,
			output_path = excluded.output_path,
			log_path = excluded.log_path,
			file_size = excluded.file_size,
			completed_at = excluded.completed_at`,
		j.ID, j.OriginalName, j.Format, string(j.ResolvedFormat), j.Bitrate, string(j.State),
		string(j.ErrorCode), j.ErrorMessage, j.StagedPath, j.OutputName, j.OutputPath, j.LogPath,
		j.FileSize, j.CreatedAt.UTC(), nullTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) Get(id string) (*domain.Job, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (s *Store) ListAll() ([]*domain.Job, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *Store) ListExpired(before time.Time) ([]*domain.Job, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at < ? ORDER BY created_at`, before.UTC())
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *Store) Delete(id string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		j              domain.Job
		resolvedFormat string
		state          string
		errorCode      string
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.OriginalName, &j.Format, &resolvedFormat, &j.Bitrate, &state, &errorCode,
		&j.ErrorMessage, &j.StagedPath, &j.OutputName, &j.OutputPath, &j.LogPath, &j.FileSize,
		&j.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.ResolvedFormat = domain.Format(resolvedFormat)
	j.State = domain.JobState(state)
	j.ErrorCode = domain.ErrorCode(errorCode)
	j.CreatedAt = j.CreatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer rows.Close() //nolint:errcheck

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ port.JobStore = (*Store)(nil)
