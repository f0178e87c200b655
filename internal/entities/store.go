package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// Store provides database access for the entity layer. One Store serves all
// engagements; per-engagement collections are partitioned by the pentest
// column.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for modules that join on entity tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// jsonList encodes a string slice for storage; nil encodes as [].
func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// jsonMap encodes a string map for storage; nil encodes as {}.
func jsonMap(v map[string]string) string {
	if v == nil {
		v = map[string]string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(raw string) []string {
	var v []string
	_ = json.Unmarshal([]byte(raw), &v)
	return v
}

func decodeMap(raw string) map[string]string {
	var v map[string]string
	_ = json.Unmarshal([]byte(raw), &v)
	return v
}

// -- Engagements --

// InsertEngagement creates an engagement. Returns (false, existing id) when
// the name is already taken.
func (s *Store) InsertEngagement(ctx context.Context, e *models.Engagement) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM engagements WHERE name = ?", e.Name,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check engagement name: %w", err)
	}

	settings, _ := json.Marshal(e.Settings)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engagements (id, name, start_date, end_date, settings, pentesters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.StartDate, e.EndDate, string(settings), jsonList(e.Pentesters), e.CreatedAt,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert engagement: %w", err)
	}
	return true, e.ID, nil
}

// GetEngagement returns an engagement by name. Returns nil, nil if not found.
func (s *Store) GetEngagement(ctx context.Context, name string) (*models.Engagement, error) {
	var e models.Engagement
	var settings, pentesters string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, start_date, end_date, settings, pentesters, created_at
		FROM engagements WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.StartDate, &e.EndDate, &settings, &pentesters, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get engagement: %w", err)
	}
	_ = json.Unmarshal([]byte(settings), &e.Settings)
	e.Pentesters = decodeList(pentesters)
	return &e, nil
}

// ListEngagements returns all engagements ordered by creation time.
func (s *Store) ListEngagements(ctx context.Context) ([]models.Engagement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_date, end_date, settings, pentesters, created_at
		FROM engagements ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list engagements: %w", err)
	}
	defer rows.Close()

	var result []models.Engagement
	for rows.Next() {
		var e models.Engagement
		var settings, pentesters string
		if err := rows.Scan(&e.ID, &e.Name, &e.StartDate, &e.EndDate, &settings, &pentesters, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan engagement row: %w", err)
		}
		_ = json.Unmarshal([]byte(settings), &e.Settings)
		e.Pentesters = decodeList(pentesters)
		result = append(result, e)
	}
	return result, rows.Err()
}

// UpdateSettings replaces the settings of an engagement.
func (s *Store) UpdateSettings(ctx context.Context, name string, settings models.Settings) error {
	raw, _ := json.Marshal(settings)
	_, err := s.db.ExecContext(ctx,
		"UPDATE engagements SET settings = ? WHERE name = ?", string(raw), name,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// GetSettings returns the settings of an engagement, or defaults when the
// engagement stores none.
func (s *Store) GetSettings(ctx context.Context, name string) (models.Settings, error) {
	e, err := s.GetEngagement(ctx, name)
	if err != nil {
		return models.Settings{}, err
	}
	if e == nil {
		return models.DefaultSettings(), nil
	}
	settings := e.Settings
	if settings.AutoscanThreads <= 0 {
		settings.AutoscanThreads = 4
	}
	return settings, nil
}

// DeleteEngagement removes an engagement and all its per-engagement records.
func (s *Store) DeleteEngagement(ctx context.Context, name string) error {
	tables := []string{
		"waves", "intervals", "scopes", "ips", "ports", "tags",
		"tag_removals", "checkinstances", "tools", "defects", "computers",
		"users", "shares", "notifications",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete engagement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE pentest = ?", table), name,
		); err != nil {
			return fmt.Errorf("delete %s for engagement %q: %w", table, name, err)
		}
	}
	// Per-engagement command copies go with the engagement.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM commands WHERE pentest = ?", name,
	); err != nil {
		return fmt.Errorf("delete commands for engagement %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM engagements WHERE name = ?", name,
	); err != nil {
		return fmt.Errorf("delete engagement %q: %w", name, err)
	}
	return tx.Commit()
}

// -- Notifications --

// InsertNotification records an entity-change notification.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, pentest, collection, iid, action, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Pentest, n.Collection, n.IID, n.Action, n.Time,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications for an engagement newer than since.
func (s *Store) ListNotifications(ctx context.Context, pentest string, since time.Time) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pentest, collection, iid, action, time
		FROM notifications WHERE pentest = ? AND time > ? ORDER BY time`,
		pentest, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Pentest, &n.Collection, &n.IID, &n.Action, &n.Time); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
