package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// FleetStore persists the worker registry.
type FleetStore struct {
	db *sql.DB
}

// NewFleetStore creates a FleetStore backed by the given database.
func NewFleetStore(db *sql.DB) *FleetStore {
	return &FleetStore{db: db}
}

// UpsertWorker registers a worker or refreshes an existing registration.
func (s *FleetStore) UpsertWorker(ctx context.Context, w *models.Worker) error {
	plugins, _ := json.Marshal(w.SupportedPlugins)
	running, _ := json.Marshal(w.RunningTools)
	if w.SupportedPlugins == nil {
		plugins = []byte("[]")
	}
	if w.RunningTools == nil {
		running = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (name, supported_plugins, pentest, last_heartbeat, running_tools)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			supported_plugins = excluded.supported_plugins,
			pentest = excluded.pentest,
			last_heartbeat = excluded.last_heartbeat,
			running_tools = excluded.running_tools`,
		w.Name, string(plugins), w.Pentest, w.LastHeartbeat, string(running),
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func scanWorker(row interface{ Scan(...any) error }) (*models.Worker, error) {
	var w models.Worker
	var plugins, running string
	if err := row.Scan(&w.Name, &plugins, &w.Pentest, &w.LastHeartbeat, &running); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(plugins), &w.SupportedPlugins)
	_ = json.Unmarshal([]byte(running), &w.RunningTools)
	return &w, nil
}

// GetWorker returns a worker by name. Returns nil, nil if not registered.
func (s *FleetStore) GetWorker(ctx context.Context, name string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, `
		SELECT name, supported_plugins, pentest, last_heartbeat, running_tools
		FROM workers WHERE name = ?`, name,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns every registered worker.
func (s *FleetStore) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, supported_plugins, pentest, last_heartbeat, running_tools
		FROM workers ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var result []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// ListStaleWorkers returns workers whose last heartbeat predates the cutoff.
func (s *FleetStore) ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, supported_plugins, pentest, last_heartbeat, running_tools
		FROM workers WHERE last_heartbeat < ?`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}
	defer rows.Close()

	var result []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// Heartbeat refreshes a worker's heartbeat timestamp. Returns false when the
// worker is not registered.
func (s *FleetStore) Heartbeat(ctx context.Context, name string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workers SET last_heartbeat = ? WHERE name = ?", at, name,
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetPentest binds or unbinds a worker's engagement.
func (s *FleetStore) SetPentest(ctx context.Context, name, pentest string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workers SET pentest = ? WHERE name = ?", pentest, name,
	)
	if err != nil {
		return fmt.Errorf("set worker pentest: %w", err)
	}
	return nil
}

// SetRunningTools replaces a worker's running-tool list.
func (s *FleetStore) SetRunningTools(ctx context.Context, name string, tools []models.RunningTool) error {
	if tools == nil {
		tools = []models.RunningTool{}
	}
	raw, _ := json.Marshal(tools)
	_, err := s.db.ExecContext(ctx,
		"UPDATE workers SET running_tools = ? WHERE name = ?", string(raw), name,
	)
	if err != nil {
		return fmt.Errorf("set running tools: %w", err)
	}
	return nil
}

// DeleteWorker removes a worker registration.
func (s *FleetStore) DeleteWorker(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM workers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	return nil
}
