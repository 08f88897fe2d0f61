package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound reports that no run matches the requested identifier.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousID reports that an identifier prefix matches several runs.
var ErrAmbiguousID = errors.New("run id prefix is ambiguous")

// Run is one ledger row.
type Run struct {
	ID              string
	Input           string
	InputKind       string
	Voice           string
	OutputPath      string
	WorkDir         string
	Status          Status
	FailedStage     string
	ErrorMessage    string
	TranscriptChars int
	OutputBytes     int64
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage is the recorded outcome of one pipeline stage.
type Stage struct {
	Name         string
	Status       Status
	StartedAt    time.Time
	Duration     time.Duration
	ErrorMessage string
}

// Outcome carries the fields written when a run ends.
type Outcome struct {
	Status          Status
	FailedStage     string
	ErrorMessage    string
	TranscriptChars int
	OutputBytes     int64
	FinishedAt      time.Time
}

// Begin inserts a run in the running state.
func (s *Store) Begin(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("history: run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO runs
		(id, input, input_kind, voice, output_path, work_dir, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.InputKind, run.Voice, run.OutputPath, run.WorkDir,
		string(StatusRunning), formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStage stores the outcome of a single stage.
func (s *Store) RecordStage(ctx context.Context, runID string, stage Stage) error {
	_, err := s.exec(ctx, `INSERT INTO run_stages
		(run_id, stage, status, started_at, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, stage) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			error_message = excluded.error_message`,
		runID, stage.Name, string(stage.Status), formatTime(stage.StartedAt),
		stage.Duration.Milliseconds(), stage.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", stage.Name, err)
	}
	return nil
}

// Finish records the final outcome of a run.
func (s *Store) Finish(ctx context.Context, runID string, outcome Outcome) error {
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now()
	}
	res, err := s.exec(ctx, `UPDATE runs SET
		status = ?, failed_stage = ?, error_message = ?,
		transcript_chars = ?, output_bytes = ?, finished_at = ?
		WHERE id = ?`,
		string(outcome.Status), outcome.FailedStage, outcome.ErrorMessage,
		outcome.TranscriptChars, outcome.OutputBytes, formatTime(outcome.FinishedAt), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// List returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns the run whose id equals or starts with idOrPrefix, plus its stages.
func (s *Store) Get(ctx context.Context, idOrPrefix string) (Run, []Stage, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return Run{}, nil, ErrRunNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`,
		idOrPrefix, escapeLike(idOrPrefix)+"%", idOrPrefix,
	)
	if err != nil {
		return Run{}, nil, fmt.Errorf("get run: %w", err)
	}
	var matches []Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			rows.Close()
			return Run{}, nil, scanErr
		}
		matches = append(matches, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Run{}, nil, err
	}

	switch {
	case len(matches) == 0:
		return Run{}, nil, fmt.Errorf("%s: %w", idOrPrefix, ErrRunNotFound)
	case len(matches) > 1 && matches[0].ID != idOrPrefix:
		return Run{}, nil, fmt.Errorf("%s: %w", idOrPrefix, ErrAmbiguousID)
	}
	run := matches[0]

	stages, err := s.stages(ctx, run.ID)
	if err != nil {
		return Run{}, nil, err
	}
	return run, stages, nil
}

// Prune deletes finished runs that started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM runs WHERE status != ? AND started_at < ?`,
		string(StatusRunning), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, status, started_at, duration_ms, error_message
		 FROM run_stages WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var (
			stage     Stage
			status    string
			startedAt string
			ms        int64
		)
		if err := rows.Scan(&stage.Name, &status, &startedAt, &ms, &stage.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stage.Status = Status(status)
		stage.StartedAt = parseTime(startedAt)
		stage.Duration = time.Duration(ms) * time.Millisecond
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

const runColumns = `id, input, input_kind, voice, output_path, work_dir, status,
	failed_stage, error_message, transcript_chars, output_bytes, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Input, &run.InputKind, &run.Voice, &run.OutputPath, &run.WorkDir,
		&status, &run.FailedStage, &run.ErrorMessage, &run.TranscriptChars, &run.OutputBytes,
		&startedAt, &finishedAt); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	return run, nil
}

// timeLayout has fixed-width fractions so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
