package autoscan

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Autoscan is the per-engagement running-state record. Its presence means
// the scheduler loop for the engagement is (or should be) running; removing
// it is the stop signal.
type Autoscan struct {
	Pentest   string    `json:"pentest"`
	Autoqueue bool      `json:"autoqueue"`
	Whitelist []string  `json:"whitelist"` // authorized command ids
	StartedAt time.Time `json:"started_at"`
}

// AutoscanStore persists autoscan records.
type AutoscanStore struct {
	db *sql.DB
}

// NewAutoscanStore creates the store over a shared database handle.
func NewAutoscanStore(db *sql.DB) *AutoscanStore {
	return &AutoscanStore{db: db}
}

// StartAutoscan creates the record. Returns false when an autoscan is
// already running for the engagement.
func (s *AutoscanStore) StartAutoscan(ctx context.Context, a *Autoscan) (bool, error) {
	whitelist, _ := json.Marshal(a.Whitelist)
	if a.Whitelist == nil {
		whitelist = []byte("[]")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO autoscans (pentest, autoqueue, whitelist, started_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(pentest) DO NOTHING`,
		a.Pentest, a.Autoqueue, string(whitelist), a.StartedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAutoscan returns the record, or nil when no autoscan is running.
func (s *AutoscanStore) GetAutoscan(ctx context.Context, pentest string) (*Autoscan, error) {
	var a Autoscan
	var whitelist string
	err := s.db.QueryRowContext(ctx,
		"SELECT pentest, autoqueue, whitelist, started_at FROM autoscans WHERE pentest = ?",
		pentest,
	).Scan(&a.Pentest, &a.Autoqueue, &whitelist, &a.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(whitelist), &a.Whitelist)
	return &a, nil
}

// ListRunning returns the engagements that have an autoscan record.
func (s *AutoscanStore) ListRunning(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT pentest FROM autoscans ORDER BY pentest")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pentest string
		if err := rows.Scan(&pentest); err != nil {
			return nil, err
		}
		out = append(out, pentest)
	}
	return out, rows.Err()
}

// SaveQueueEntry persists one queue entry, so the queue survives a server
// restart.
func (s *AutoscanStore) SaveQueueEntry(ctx context.Context, pentest, toolID string, priority int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO autoscan_queue (pentest, tool_iid, priority) VALUES (?, ?, ?)
		ON CONFLICT(pentest, tool_iid) DO UPDATE SET priority = excluded.priority`,
		pentest, toolID, priority,
	)
	return err
}

// DeleteQueueEntry removes one persisted queue entry.
func (s *AutoscanStore) DeleteQueueEntry(ctx context.Context, pentest, toolID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM autoscan_queue WHERE pentest = ? AND tool_iid = ?",
		pentest, toolID,
	)
	return err
}

// ListQueue returns the persisted queue entries of an engagement in launch
// order.
func (s *AutoscanStore) ListQueue(ctx context.Context, pentest string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tool_iid, priority FROM autoscan_queue WHERE pentest = ? ORDER BY priority, tool_iid",
		pentest,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ToolID, &e.Priority); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearQueue removes every persisted queue entry of an engagement.
func (s *AutoscanStore) ClearQueue(ctx context.Context, pentest string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM autoscan_queue WHERE pentest = ?", pentest)
	return err
}

// StopAutoscan removes the record. Returns false when none was running.
func (s *AutoscanStore) StopAutoscan(ctx context.Context, pentest string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM autoscans WHERE pentest = ?", pentest)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
