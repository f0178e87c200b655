package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// InsertTag creates a tag. Returns (false, existing id) when the item
// already carries a tag with this name.
func (s *Store) InsertTag(ctx context.Context, t *models.Tag) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM tags
		WHERE pentest = ? AND item_id = ? AND item_type = ? AND name = ?`,
		t.Pentest, t.ItemID, t.ItemType, t.Name,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check tag: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tags (id, pentest, item_id, item_type, name, level, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Pentest, t.ItemID, t.ItemType, t.Name, t.Level, t.Notes,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert tag: %w", err)
	}
	return true, t.ID, nil
}

func scanTag(row interface{ Scan(...any) error }) (*models.Tag, error) {
	var t models.Tag
	err := row.Scan(&t.ID, &t.Pentest, &t.ItemID, &t.ItemType, &t.Name, &t.Level, &t.Notes)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTag returns a tag by id. Returns nil, nil if not found.
func (s *Store) GetTag(ctx context.Context, pentest, id string) (*models.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, item_id, item_type, name, level, notes
		FROM tags WHERE pentest = ? AND id = ?`, pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// ListTags returns the tags of an engagement, optionally narrowed to one
// item.
func (s *Store) ListTags(ctx context.Context, pentest, itemID, itemType string) ([]models.Tag, error) {
	query := "SELECT id, pentest, item_id, item_type, name, level, notes FROM tags WHERE pentest = ?"
	args := []any{pentest}
	if itemID != "" {
		query += " AND item_id = ?"
		args = append(args, itemID)
	}
	if itemType != "" {
		query += " AND item_type = ?"
		args = append(args, itemType)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY name", args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// DeleteTag removes a tag row.
func (s *Store) DeleteTag(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM tags WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// RecordTagRemoval remembers that a tag was removed from an item, so
// tag:onRemove check items saved later can be applied retroactively.
func (s *Store) RecordTagRemoval(ctx context.Context, t *models.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tag_removals (pentest, item_id, item_type, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pentest, item_id, item_type, name) DO UPDATE SET removed_at = CURRENT_TIMESTAMP`,
		t.Pentest, t.ItemID, t.ItemType, t.Name,
	)
	if err != nil {
		return fmt.Errorf("record tag removal: %w", err)
	}
	return nil
}

// ClearTagRemoval forgets a removal after the tag is applied again.
func (s *Store) ClearTagRemoval(ctx context.Context, t *models.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tag_removals
		WHERE pentest = ? AND item_id = ? AND item_type = ? AND name = ?`,
		t.Pentest, t.ItemID, t.ItemType, t.Name,
	)
	if err != nil {
		return fmt.Errorf("clear tag removal: %w", err)
	}
	return nil
}

// ListTagRemovals returns the recorded removals of one tag name as Tag
// values (id empty).
func (s *Store) ListTagRemovals(ctx context.Context, pentest, name string) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pentest, item_id, item_type, name FROM tag_removals
		WHERE pentest = ? AND name = ? ORDER BY item_id`, pentest, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list tag removals: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.Pentest, &t.ItemID, &t.ItemType, &t.Name); err != nil {
			return nil, fmt.Errorf("scan tag removal row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
