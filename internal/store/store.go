// Package store persists analysis runs and their sink calls in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("store: run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables of the store.
const Schema = `
CREATE TABLE IF NOT EXISTS doublex_runs (
    id UUID PRIMARY KEY,
    extension TEXT NOT NULL,
    content_script TEXT NOT NULL,
    background TEXT NOT NULL,
    war BOOLEAN NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    crashes TEXT[] NOT NULL,
    report JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS doublex_dangers (
    run_id UUID NOT NULL REFERENCES doublex_runs(id) ON DELETE CASCADE,
    component TEXT NOT NULL,
    kind TEXT NOT NULL,
    sink TEXT NOT NULL,
    value TEXT NOT NULL,
    line TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    file TEXT NOT NULL,
    params JSONB NOT NULL,
    dataflow BOOLEAN NOT NULL,
    sent_back BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS doublex_dangers_run_id ON doublex_dangers (run_id);
`

const sqlInsertRun = `
        INSERT INTO doublex_runs (id, extension, content_script, background, war, started_at, finished_at, crashes, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

const sqlGetRun = `
        SELECT id, extension, started_at, finished_at, crashes, report
        FROM doublex_runs
        WHERE id = $1;
    `

const sqlGetFindings = `
        SELECT component, kind, sink, value, line, start_line, end_line, file, params, dataflow, sent_back
        FROM doublex_dangers
        WHERE run_id = $1
        ORDER BY component, kind, start_line;
    `

// DangerColumns are the columns copied into doublex_dangers, in order.
var DangerColumns = []string{"run_id", "component", "kind", "sink", "value", "line", "start_line", "end_line", "file", "params", "dataflow", "sent_back"}

// Run is a persisted analysis run.
type Run struct {
	ID         uuid.UUID
	Extension  string
	StartedAt  time.Time
	FinishedAt *time.Time
	Crashes    []string
	// Report is the analysis.json document of the run.
	Report []byte
}

// Store provides a PostgreSQL implementation of the run repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the store tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistRun stores a finished run and its sink calls in one transaction.
func (s *Store) PersistRun(ctx context.Context, result *core.Result) error {
	report, err := reporting.Marshal(result, false)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var finished *time.Time
	if !result.FinishedAt.IsZero() {
		f := result.FinishedAt.UTC()
		finished = &f
	}
	crashes := result.Crashes
	if crashes == nil {
		crashes = []string{}
	}
	if _, err := tx.Exec(ctx, sqlInsertRun,
		result.RunID, result.Extension, result.ContentScript, result.Background, result.WAR,
		result.StartedAt.UTC(), finished, crashes, report,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", result.RunID, err)
	}

	if findings := result.Findings(); len(findings) > 0 {
		if err := s.persistFindings(ctx, tx, result.RunID, findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted run", zap.String("run_id", result.RunID.String()), zap.String("extension", result.Extension))
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, runID uuid.UUID, findings []core.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		params, err := json.Marshal(f.Params)
		if err != nil {
			return fmt.Errorf("failed to encode params of %s: %w", f.Sink, err)
		}
		rows[i] = []interface{}{
			runID, f.Component, f.Kind, f.Sink, f.Value, f.Line,
			f.StartLine, f.EndLine, f.File, params, f.Dataflow, f.SentBack,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"doublex_dangers"}, DangerColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy dangers: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied dangers count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var r Run
	err := s.pool.QueryRow(ctx, sqlGetRun, runID).Scan(&r.ID, &r.Extension, &r.StartedAt, &r.FinishedAt, &r.Crashes, &r.Report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &r, nil
}

// GetFindings loads the sink calls of a run.
func (s *Store) GetFindings(ctx context.Context, runID uuid.UUID) ([]core.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlGetFindings, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dangers: %w", err)
	}
	defer rows.Close()

	var findings []core.Finding
	for rows.Next() {
		var f core.Finding
		var params []byte
		if err := rows.Scan(&f.Component, &f.Kind, &f.Sink, &f.Value, &f.Line,
			&f.StartLine, &f.EndLine, &f.File, &params, &f.Dataflow, &f.SentBack); err != nil {
			return nil, fmt.Errorf("failed to scan danger row: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &f.Params); err != nil {
				return nil, fmt.Errorf("failed to decode params of %s: %w", f.Sink, err)
			}
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}

var _ core.RunStore = (*Store)(nil)
