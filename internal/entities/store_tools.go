package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

const toolColumns = `id, pentest, name, command_iid, check_iid, lvl, wave, scope,
	ip, port, proto, text, status, scanner_ip, dated, datef, resultfile,
	plugin_used, notes, infos`

func scanTool(row interface{ Scan(...any) error }) (*models.Tool, error) {
	var t models.Tool
	var status, infos string
	err := row.Scan(
		&t.ID, &t.Pentest, &t.Name, &t.CommandID, &t.CheckIID, &t.Lvl,
		&t.Wave, &t.Scope, &t.IP, &t.Port, &t.Proto, &t.Text, &status,
		&t.ScannerIP, &t.Dated, &t.Datef, &t.ResultFile, &t.Plugin,
		&t.Notes, &infos,
	)
	if err != nil {
		return nil, err
	}
	t.Status = decodeList(status)
	t.Infos = decodeMap(infos)
	return &t, nil
}

// InsertTool creates a tool row.
func (s *Store) InsertTool(ctx context.Context, t *models.Tool) error {
	if t.Dated == "" {
		t.Dated = models.NoneDate
	}
	if t.Datef == "" {
		t.Datef = models.NoneDate
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (`+toolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Pentest, t.Name, t.CommandID, t.CheckIID, t.Lvl, t.Wave,
		t.Scope, t.IP, t.Port, t.Proto, t.Text, jsonList(t.Status),
		t.ScannerIP, t.Dated, t.Datef, t.ResultFile, t.Plugin, t.Notes,
		jsonMap(t.Infos),
	)
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}
	return nil
}

// GetTool returns a tool by id. Returns nil, nil if not found.
func (s *Store) GetTool(ctx context.Context, pentest, id string) (*models.Tool, error) {
	t, err := scanTool(s.db.QueryRowContext(ctx,
		"SELECT "+toolColumns+" FROM tools WHERE pentest = ? AND id = ?",
		pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tool: %w", err)
	}
	return t, nil
}

// ToolFilter narrows ListTools. Zero fields are ignored.
type ToolFilter struct {
	Wave      string
	NoWave    bool // only tools not bound to a wave
	IP        string
	CheckIID  string
	CommandID string
	ScannerIP string
	Lvl       string
}

// ListTools returns the tools of an engagement matching the filter.
func (s *Store) ListTools(ctx context.Context, pentest string, f ToolFilter) ([]models.Tool, error) {
	query := "SELECT " + toolColumns + " FROM tools WHERE pentest = ?"
	args := []any{pentest}
	if f.Wave != "" {
		query += " AND wave = ?"
		args = append(args, f.Wave)
	}
	if f.NoWave {
		query += " AND wave = ''"
	}
	if f.IP != "" {
		query += " AND ip = ?"
		args = append(args, f.IP)
	}
	if f.CheckIID != "" {
		query += " AND check_iid = ?"
		args = append(args, f.CheckIID)
	}
	if f.CommandID != "" {
		query += " AND command_iid = ?"
		args = append(args, f.CommandID)
	}
	if f.ScannerIP != "" {
		query += " AND scanner_ip = ?"
		args = append(args, f.ScannerIP)
	}
	if f.Lvl != "" {
		query += " AND lvl = ?"
		args = append(args, f.Lvl)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var result []models.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool row: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// UpdateTool replaces the mutable fields of a tool.
func (s *Store) UpdateTool(ctx context.Context, t *models.Tool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tools SET name = ?, text = ?, status = ?, scanner_ip = ?,
			dated = ?, datef = ?, resultfile = ?, plugin_used = ?, notes = ?,
			infos = ?
		WHERE pentest = ? AND id = ?`,
		t.Name, t.Text, jsonList(t.Status), t.ScannerIP, t.Dated, t.Datef,
		t.ResultFile, t.Plugin, t.Notes, jsonMap(t.Infos), t.Pentest, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}
	return nil
}

// DeleteTool removes a tool row.
func (s *Store) DeleteTool(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM tools WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete tool: %w", err)
	}
	return nil
}

// ListCheckInstancesByItem returns the check-instances an engagement holds
// for one catalog check-item.
func (s *Store) ListCheckInstancesByItem(ctx context.Context, pentest, checkItemID string) ([]models.CheckInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pentest, check_iid, target_iid, target_type, status, notes
		FROM checkinstances WHERE pentest = ? AND check_iid = ? ORDER BY id`,
		pentest, checkItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list check instances by item: %w", err)
	}
	defer rows.Close()

	var result []models.CheckInstance
	for rows.Next() {
		ci, err := scanCheckInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check instance row: %w", err)
		}
		result = append(result, *ci)
	}
	return result, rows.Err()
}

// ListToolsByCheckInstance returns the tools provisioned for a
// check-instance.
func (s *Store) ListToolsByCheckInstance(ctx context.Context, pentest, checkInstanceID string) ([]models.Tool, error) {
	return s.ListTools(ctx, pentest, ToolFilter{CheckIID: checkInstanceID})
}

// -- Check instances --

// InsertCheckInstance creates a check-instance. Returns (false, existing id)
// when the (check item, target) pair is already materialized.
func (s *Store) InsertCheckInstance(ctx context.Context, ci *models.CheckInstance) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM checkinstances
		WHERE pentest = ? AND check_iid = ? AND target_iid = ? AND target_type = ?`,
		ci.Pentest, ci.CheckIID, ci.TargetIID, ci.TargetType,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check check-instance: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkinstances (id, pentest, check_iid, target_iid, target_type, status, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ci.ID, ci.Pentest, ci.CheckIID, ci.TargetIID, ci.TargetType, ci.Status, ci.Notes,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert check-instance: %w", err)
	}
	return true, ci.ID, nil
}

func scanCheckInstance(row interface{ Scan(...any) error }) (*models.CheckInstance, error) {
	var ci models.CheckInstance
	err := row.Scan(&ci.ID, &ci.Pentest, &ci.CheckIID, &ci.TargetIID, &ci.TargetType, &ci.Status, &ci.Notes)
	if err != nil {
		return nil, err
	}
	return &ci, nil
}

// GetCheckInstance returns a check-instance by id. Returns nil, nil if not
// found.
func (s *Store) GetCheckInstance(ctx context.Context, pentest, id string) (*models.CheckInstance, error) {
	ci, err := scanCheckInstance(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, check_iid, target_iid, target_type, status, notes
		FROM checkinstances WHERE pentest = ? AND id = ?`, pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get check-instance: %w", err)
	}
	return ci, nil
}

// ListCheckInstances returns the check-instances of an engagement, optionally
// narrowed to one target.
func (s *Store) ListCheckInstances(ctx context.Context, pentest, targetIID, targetType string) ([]models.CheckInstance, error) {
	query := `SELECT id, pentest, check_iid, target_iid, target_type, status, notes
		FROM checkinstances WHERE pentest = ?`
	args := []any{pentest}
	if targetIID != "" {
		query += " AND target_iid = ?"
		args = append(args, targetIID)
	}
	if targetType != "" {
		query += " AND target_type = ?"
		args = append(args, targetType)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check-instances: %w", err)
	}
	defer rows.Close()

	var result []models.CheckInstance
	for rows.Next() {
		ci, err := scanCheckInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check-instance row: %w", err)
		}
		result = append(result, *ci)
	}
	return result, rows.Err()
}

// UpdateCheckInstanceStatus replaces the status of a check-instance.
func (s *Store) UpdateCheckInstanceStatus(ctx context.Context, pentest, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE checkinstances SET status = ? WHERE pentest = ? AND id = ?",
		status, pentest, id,
	)
	if err != nil {
		return fmt.Errorf("update check-instance status: %w", err)
	}
	return nil
}

// DeleteCheckInstance removes a check-instance row.
func (s *Store) DeleteCheckInstance(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM checkinstances WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete check-instance: %w", err)
	}
	return nil
}
