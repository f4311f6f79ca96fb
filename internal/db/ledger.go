// Package db persists the cross-workflow usage ledger.
//
// One SQLite database lives under the knowledge root and accumulates a
// row per phase per workflow, so token and cost history survives state
// cleanup.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/randalmurphal/waypoints/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS phase_usage (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    TEXT NOT NULL,
	workflow_id   TEXT NOT NULL,
	phase         INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	turns         INTEGER NOT NULL DEFAULT 0,
	recorded_at   TEXT NOT NULL,
	UNIQUE(project_id, workflow_id, phase)
);
`

// Ledger is the usage history database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Path returns the ledger location under a knowledge root.
func Path(knowledgeRoot string) string {
	return filepath.Join(knowledgeRoot, "usage.db")
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Ledger{db: db, path: path}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record upserts the usage row for one phase of one workflow. Repeated
// records for the same phase overwrite, so the final workflow totals
// win.
func (l *Ledger) Record(projectID, workflowID string, phase int, u state.PhaseUsage) error {
	if !state.ValidPhase(phase) {
		return fmt.Errorf("invalid phase %d", phase)
	}
	_, err := l.db.Exec(`
		INSERT INTO phase_usage
			(project_id, workflow_id, phase, input_tokens, output_tokens, cost_usd, duration_ms, turns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, workflow_id, phase) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd,
			duration_ms = excluded.duration_ms,
			turns = excluded.turns,
			recorded_at = excluded.recorded_at`,
		projectID, workflowID, phase,
		u.InputTokens, u.OutputTokens, u.CostUSD, u.DurationMS, u.Turns,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordWorkflow writes every phase's usage for a workflow.
func (l *Ledger) RecordWorkflow(projectID, workflowID string, usage map[string]state.PhaseUsage) error {
	for phase := 1; phase <= 4; phase++ {
		u, ok := usage[fmt.Sprintf("phase%d", phase)]
		if !ok || u == (state.PhaseUsage{}) {
			continue
		}
		if err := l.Record(projectID, workflowID, phase, u); err != nil {
			return err
		}
	}
	return nil
}

// Entry is one ledger row.
type Entry struct {
	ProjectID  string
	WorkflowID string
	Phase      int
	Usage      state.PhaseUsage
	RecordedAt time.Time
}

// History returns a project's rows, newest workflow first, phases in
// order within a workflow. Limit <= 0 means no limit.
func (l *Ledger) History(projectID string, limit int) ([]Entry, error) {
	query := `
		SELECT project_id, workflow_id, phase, input_tokens, output_tokens, cost_usd, duration_ms, turns, recorded_at
		FROM phase_usage
		WHERE project_id = ?
		ORDER BY workflow_id DESC, phase ASC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt string
		if err := rows.Scan(&e.ProjectID, &e.WorkflowID, &e.Phase,
			&e.Usage.InputTokens, &e.Usage.OutputTokens, &e.Usage.CostUSD,
			&e.Usage.DurationMS, &e.Usage.Turns, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ProjectTotal sums all recorded usage for a project.
func (l *Ledger) ProjectTotal(projectID string) (state.PhaseUsage, error) {
	var total state.PhaseUsage
	err := l.db.QueryRow(`
		SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0),
		       COALESCE(SUM(cost_usd),0), COALESCE(SUM(duration_ms),0), COALESCE(SUM(turns),0)
		FROM phase_usage WHERE project_id = ?`, projectID).
		Scan(&total.InputTokens, &total.OutputTokens, &total.CostUSD, &total.DurationMS, &total.Turns)
	if err != nil {
		return state.PhaseUsage{}, fmt.Errorf("sum project usage: %w", err)
	}
	return total, nil
}
