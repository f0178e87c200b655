package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// -- Commands --

// InsertCommand creates a command row. Commands with an empty Pentest belong
// to the global catalog.
func (s *Store) InsertCommand(ctx context.Context, c *models.Command) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Pentest, c.Name, c.Bin, c.Plugin, c.Text, jsonList(c.Owners), c.Timeout, c.Original,
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

func scanCommand(row interface{ Scan(...any) error }) (*models.Command, error) {
	var c models.Command
	var owners string
	err := row.Scan(&c.ID, &c.Pentest, &c.Name, &c.Bin, &c.Plugin, &c.Text, &owners, &c.Timeout, &c.Original)
	if err != nil {
		return nil, err
	}
	c.Owners = decodeList(owners)
	return &c, nil
}

// GetCommand returns a command by id. Returns nil, nil if not found.
func (s *Store) GetCommand(ctx context.Context, id string) (*models.Command, error) {
	c, err := scanCommand(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid
		FROM commands WHERE id = ?`, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get command: %w", err)
	}
	return c, nil
}

// GetCommandCopy returns the per-engagement copy derived from a catalog
// command. Returns nil, nil if the engagement holds no copy.
func (s *Store) GetCommandCopy(ctx context.Context, pentest, originalID string) (*models.Command, error) {
	c, err := scanCommand(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid
		FROM commands WHERE pentest = ? AND original_iid = ?`, pentest, originalID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get command copy: %w", err)
	}
	return c, nil
}

// ListCommands returns the commands of an engagement, or the global catalog
// when pentest is empty.
func (s *Store) ListCommands(ctx context.Context, pentest string) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid
		FROM commands WHERE pentest = ? ORDER BY name`, pentest,
	)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var result []models.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// FindCommandByBin returns the first command whose binary name matches.
// Per-engagement copies are searched before the global catalog. Returns
// nil, nil if none matches.
func (s *Store) FindCommandByBin(ctx context.Context, pentest, bin string) (*models.Command, error) {
	c, err := scanCommand(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid
		FROM commands WHERE pentest IN (?, '') AND bin_path = ?
		ORDER BY pentest DESC LIMIT 1`, pentest, bin,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find command by bin: %w", err)
	}
	return c, nil
}

// ListCommandCopies returns every per-engagement copy derived from a catalog
// command.
func (s *Store) ListCommandCopies(ctx context.Context, originalID string) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pentest, name, bin_path, plugin, text, owners, timeout, original_iid
		FROM commands WHERE original_iid = ?`, originalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list command copies: %w", err)
	}
	defer rows.Close()

	var result []models.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// UpdateCommand replaces the mutable fields of a command.
func (s *Store) UpdateCommand(ctx context.Context, c *models.Command) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commands SET name = ?, bin_path = ?, plugin = ?, text = ?, owners = ?, timeout = ?
		WHERE id = ?`,
		c.Name, c.Bin, c.Plugin, c.Text, jsonList(c.Owners), c.Timeout, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update command: %w", err)
	}
	return nil
}

// DeleteCommand removes a command row.
func (s *Store) DeleteCommand(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM commands WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete command: %w", err)
	}
	return nil
}

// -- Check items --

// InsertCheckItem creates a catalog check-item.
func (s *Store) InsertCheckItem(ctx context.Context, ci *models.CheckItem) error {
	defectTags, _ := json.Marshal(ci.DefectTags)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkitems (id, title, lvl, ports, pentest_types, priority,
			max_thread, category, commands, defect_tags, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ci.ID, ci.Title, ci.Lvl, ci.Ports, jsonList(ci.PentestTypes),
		ci.Priority, ci.MaxThread, ci.Category, jsonList(ci.Commands),
		string(defectTags), ci.Description,
	)
	if err != nil {
		return fmt.Errorf("insert check-item: %w", err)
	}
	return nil
}

func scanCheckItem(row interface{ Scan(...any) error }) (*models.CheckItem, error) {
	var ci models.CheckItem
	var pentestTypes, commands, defectTags string
	err := row.Scan(
		&ci.ID, &ci.Title, &ci.Lvl, &ci.Ports, &pentestTypes, &ci.Priority,
		&ci.MaxThread, &ci.Category, &commands, &defectTags, &ci.Description,
	)
	if err != nil {
		return nil, err
	}
	ci.PentestTypes = decodeList(pentestTypes)
	ci.Commands = decodeList(commands)
	_ = json.Unmarshal([]byte(defectTags), &ci.DefectTags)
	return &ci, nil
}

// GetCheckItem returns a check-item by id. Returns nil, nil if not found.
func (s *Store) GetCheckItem(ctx context.Context, id string) (*models.CheckItem, error) {
	ci, err := scanCheckItem(s.db.QueryRowContext(ctx, `
		SELECT id, title, lvl, ports, pentest_types, priority, max_thread,
			category, commands, defect_tags, description
		FROM checkitems WHERE id = ?`, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get check-item: %w", err)
	}
	return ci, nil
}

// ListCheckItems returns all catalog check-items, optionally narrowed to one
// lvl.
func (s *Store) ListCheckItems(ctx context.Context, lvl string) ([]models.CheckItem, error) {
	query := `SELECT id, title, lvl, ports, pentest_types, priority, max_thread,
		category, commands, defect_tags, description FROM checkitems`
	var args []any
	if lvl != "" {
		query += " WHERE lvl = ?"
		args = append(args, lvl)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY priority, title", args...)
	if err != nil {
		return nil, fmt.Errorf("list check-items: %w", err)
	}
	defer rows.Close()

	var result []models.CheckItem
	for rows.Next() {
		ci, err := scanCheckItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check-item row: %w", err)
		}
		result = append(result, *ci)
	}
	return result, rows.Err()
}

// UpdateCheckItem replaces the mutable fields of a check-item.
func (s *Store) UpdateCheckItem(ctx context.Context, ci *models.CheckItem) error {
	defectTags, _ := json.Marshal(ci.DefectTags)
	_, err := s.db.ExecContext(ctx, `
		UPDATE checkitems SET title = ?, lvl = ?, ports = ?, pentest_types = ?,
			priority = ?, max_thread = ?, category = ?, commands = ?,
			defect_tags = ?, description = ?
		WHERE id = ?`,
		ci.Title, ci.Lvl, ci.Ports, jsonList(ci.PentestTypes), ci.Priority,
		ci.MaxThread, ci.Category, jsonList(ci.Commands), string(defectTags),
		ci.Description, ci.ID,
	)
	if err != nil {
		return fmt.Errorf("update check-item: %w", err)
	}
	return nil
}

// DeleteCheckItem removes a check-item row.
func (s *Store) DeleteCheckItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM checkitems WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete check-item: %w", err)
	}
	return nil
}
