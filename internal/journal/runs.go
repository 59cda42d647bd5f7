package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/menta2k/street-inpaint/pkg/batch"
)

// ErrNoRuns is returned by LatestRun on an empty journal.
var ErrNoRuns = errors.New("journal has no runs")

// Run states.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	InputDir  string
	OutputDir string
	Prompts   []string
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	InputDir   string
	OutputDir  string
	Prompts    []string
	Status     string
	Processed  int
	Masked     int
	Skipped    int
	Copied     int
	Failed     int
	Error      string
}

// ItemRow is a stored per-file outcome.
type ItemRow struct {
	Location    string
	Name        string
	Kind        string
	Status      string
	Masked      bool
	FailedSteps int
	Error       string
	Duration    time.Duration
}

// Run is an open run. It implements batch.Recorder.
type Run struct {
	store *Store
	id    string
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// BeginRun inserts a running run.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (*Run, error) {
	id := ksuid.New().String()
	err := s.exec(ctx,
		`INSERT INTO runs (id, started_at, input_dir, output_dir, prompts, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, timestamp(time.Now()), info.InputDir, info.OutputDir, strings.Join(info.Prompts, "\n"), RunRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{store: s, id: id}, nil
}

// RecordItem stores one file outcome.
func (r *Run) RecordItem(ctx context.Context, rec batch.ItemRecord) error {
	var errText sql.NullString
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}
	err := r.store.exec(ctx,
		`INSERT INTO items (run_id, location, name, kind, status, masked, failed_steps, error, duration_ms, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, rec.Location, rec.Name, rec.Kind.String(), string(rec.Status),
		rec.Masked, rec.FailedSteps, errText, rec.Duration.Milliseconds(), timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Finish stores the final counts. A nil summary leaves the counts at zero.
func (r *Run) Finish(ctx context.Context, summary *batch.Summary, runErr error) error {
	status := RunCompleted
	var errText sql.NullString
	if runErr != nil {
		status = RunFailed
		if errors.Is(runErr, context.Canceled) {
			status = RunCancelled
		}
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if summary == nil {
		summary = &batch.Summary{}
	}
	err := r.store.exec(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, processed = ?, masked = ?, skipped = ?, copied = ?, failed = ?, error = ?
         WHERE id = ?`,
		timestamp(time.Now()), status, summary.Processed, summary.Masked, summary.Skipped, summary.Copied, summary.Failed, errText, r.id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, input_dir, output_dir, prompts, status,
                processed, masked, skipped, copied, failed, error
         FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished sql.NullString
			prompts           string
			errText           sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.InputDir, &r.OutputDir, &prompts, &r.Status,
			&r.Processed, &r.Masked, &r.Skipped, &r.Copied, &r.Failed, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTimestamp(started)
		r.FinishedAt = parseTimestamp(finished)
		if prompts != "" {
			r.Prompts = strings.Split(prompts, "\n")
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}

// Items returns the outcomes of a run in recording order. An empty status
// returns every item.
func (s *Store) Items(ctx context.Context, runID, status string) ([]ItemRow, error) {
	query := `SELECT location, name, kind, status, masked, failed_steps, error, duration_ms
              FROM items WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var (
			it      ItemRow
			errText sql.NullString
			ms      int64
		)
		if err := rows.Scan(&it.Location, &it.Name, &it.Kind, &it.Status, &it.Masked, &it.FailedSteps, &errText, &ms); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Error = errText.String
		it.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, it)
	}
	return out, rows.Err()
}
