package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Command outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)

// TransitionEntry is one row of actuator_history.
type TransitionEntry struct {
	ID        int64     `json:"id"`
	Loop      string    `json:"loop"`
	State     string    `json:"state"`
	Source    string    `json:"source"`
	Reading   *float64  `json:"reading,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandEntry is one row of command_log.
type CommandEntry struct {
	ID        int64           `json:"id"`
	RequestID string          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository stores history rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordTransition inserts an actuator transition. reading is nil for
// transitions not caused by a reading.
func (r *Repository) RecordTransition(ctx context.Context, loop, state, source string, reading *float64, at time.Time) error {
	if loop == "" {
		return fmt.Errorf("loop is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO actuator_history (loop, state, source, reading, created_at) VALUES (?, ?, ?, ?, ?)",
		loop,
		state,
		source,
		reading,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting actuator history: %w", err)
	}
	return nil
}

// RecordCommand inserts a command log entry. Empty params are stored as {}.
func (r *Repository) RecordCommand(ctx context.Context, entry CommandEntry) error {
	params := entry.Params
	if len(params) == 0 || !json.Valid(params) {
		params = json.RawMessage("{}")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (request_id, method, params, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.Method,
		string(params),
		entry.Outcome,
		errText,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// Transitions returns the most recent transitions of a loop, newest first.
// An empty loop returns every loop. limit defaults to 50 and is capped at 200.
func (r *Repository) Transitions(ctx context.Context, loop string, limit int) ([]TransitionEntry, error) {
	limit = clampLimit(limit)

	query := `SELECT id, loop, state, source, reading, created_at
		 FROM actuator_history`
	args := []any{}
	if loop != "" {
		query += " WHERE loop = ?"
		args = append(args, loop)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuator history: %w", err)
	}
	defer rows.Close()

	entries := make([]TransitionEntry, 0, limit)
	for rows.Next() {
		var e TransitionEntry
		var reading sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Loop, &e.State, &e.Source, &reading, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning actuator history: %w", err)
		}
		if reading.Valid {
			v := reading.Float64
			e.Reading = &v
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator history: %w", err)
	}
	return entries, nil
}

// Commands returns the most recent commands, newest first.
func (r *Repository) Commands(ctx context.Context, limit int) ([]CommandEntry, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, request_id, method, params, outcome, error, created_at
		 FROM command_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandEntry, 0, limit)
	for rows.Next() {
		var e CommandEntry
		var params, createdAt string
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &params, &e.Outcome, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		e.Params = json.RawMessage(params)
		e.Error = errText.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// Prune deletes transitions and commands older than olderThan and returns
// how many rows went.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	var total int64
	for _, table := range []string{"actuator_history", "command_log"} {
		// #nosec G202 -- table names are constants
		result, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
