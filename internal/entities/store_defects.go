package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

const defectColumns = "id, pentest, title, severity, idx, target_id, target_type, language, proofs, notes"

func scanDefect(row interface{ Scan(...any) error }) (*models.Defect, error) {
	var d models.Defect
	var proofs string
	err := row.Scan(
		&d.ID, &d.Pentest, &d.Title, &d.Severity, &d.Index, &d.TargetID,
		&d.TargetType, &d.Language, &proofs, &d.Notes,
	)
	if err != nil {
		return nil, err
	}
	d.Proofs = decodeList(proofs)
	return &d, nil
}

// InsertDefect creates a defect row.
func (s *Store) InsertDefect(ctx context.Context, d *models.Defect) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defects (`+defectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Pentest, d.Title, d.Severity, d.Index, d.TargetID,
		d.TargetType, d.Language, jsonList(d.Proofs), d.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert defect: %w", err)
	}
	return nil
}

// GetDefect returns a defect by id. Returns nil, nil if not found.
func (s *Store) GetDefect(ctx context.Context, pentest, id string) (*models.Defect, error) {
	d, err := scanDefect(s.db.QueryRowContext(ctx,
		"SELECT "+defectColumns+" FROM defects WHERE pentest = ? AND id = ?",
		pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get defect: %w", err)
	}
	return d, nil
}

// ListUnassignedDefects returns the globally ordered defect list, sorted by
// stored index.
func (s *Store) ListUnassignedDefects(ctx context.Context, pentest string) ([]models.Defect, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+defectColumns+" FROM defects WHERE pentest = ? AND target_id = '' ORDER BY idx",
		pentest,
	)
	if err != nil {
		return nil, fmt.Errorf("list unassigned defects: %w", err)
	}
	defer rows.Close()
	return collectDefects(rows)
}

// ListDefectsByTarget returns the defects attached to one target.
func (s *Store) ListDefectsByTarget(ctx context.Context, pentest, targetID, targetType string) ([]models.Defect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+defectColumns+` FROM defects
		WHERE pentest = ? AND target_id = ? AND target_type = ?`,
		pentest, targetID, targetType,
	)
	if err != nil {
		return nil, fmt.Errorf("list defects by target: %w", err)
	}
	defer rows.Close()
	return collectDefects(rows)
}

// ListDefects returns all defects of an engagement.
func (s *Store) ListDefects(ctx context.Context, pentest string) ([]models.Defect, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+defectColumns+" FROM defects WHERE pentest = ? ORDER BY idx",
		pentest,
	)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	defer rows.Close()
	return collectDefects(rows)
}

func collectDefects(rows *sql.Rows) ([]models.Defect, error) {
	var result []models.Defect
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan defect row: %w", err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// UpdateDefect replaces the mutable fields of a defect.
func (s *Store) UpdateDefect(ctx context.Context, d *models.Defect) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE defects SET title = ?, severity = ?, idx = ?, target_id = ?,
			target_type = ?, language = ?, proofs = ?, notes = ?
		WHERE pentest = ? AND id = ?`,
		d.Title, d.Severity, d.Index, d.TargetID, d.TargetType, d.Language,
		jsonList(d.Proofs), d.Notes, d.Pentest, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update defect: %w", err)
	}
	return nil
}

// UpdateDefectIndex rewrites only the stored index of a defect.
func (s *Store) UpdateDefectIndex(ctx context.Context, pentest, id string, index int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE defects SET idx = ? WHERE pentest = ? AND id = ?",
		index, pentest, id,
	)
	if err != nil {
		return fmt.Errorf("update defect index: %w", err)
	}
	return nil
}

// DeleteDefect removes a defect row.
func (s *Store) DeleteDefect(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM defects WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete defect: %w", err)
	}
	return nil
}
