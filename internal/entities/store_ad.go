package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// -- Computers --

// InsertComputer creates a computer. Returns (false, existing id) when
// (ip, domain) already exists in the engagement.
func (s *Store) InsertComputer(ctx context.Context, c *models.Computer) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM computers WHERE pentest = ? AND ip = ? AND domain = ?",
		c.Pentest, c.IP, c.Domain,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check computer: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO computers (id, pentest, name, ip, domain, admins, users,
			is_dc, is_sqlserver, smbv1, signing, infos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Pentest, c.Name, c.IP, c.Domain, jsonList(c.Admins),
		jsonList(c.Users), c.IsDC, c.IsSQLServer, c.SMBv1, c.Signing,
		jsonMap(c.Infos),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert computer: %w", err)
	}
	return true, c.ID, nil
}

func scanComputer(row interface{ Scan(...any) error }) (*models.Computer, error) {
	var c models.Computer
	var admins, users, infos string
	err := row.Scan(
		&c.ID, &c.Pentest, &c.Name, &c.IP, &c.Domain, &admins, &users,
		&c.IsDC, &c.IsSQLServer, &c.SMBv1, &c.Signing, &infos,
	)
	if err != nil {
		return nil, err
	}
	c.Admins = decodeList(admins)
	c.Users = decodeList(users)
	c.Infos = decodeMap(infos)
	return &c, nil
}

// GetComputer returns a computer by id. Returns nil, nil if not found.
func (s *Store) GetComputer(ctx context.Context, pentest, id string) (*models.Computer, error) {
	c, err := scanComputer(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, name, ip, domain, admins, users, is_dc,
			is_sqlserver, smbv1, signing, infos
		FROM computers WHERE pentest = ? AND id = ?`, pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get computer: %w", err)
	}
	return c, nil
}

// ListComputers returns the computers of an engagement, optionally narrowed
// to one domain.
func (s *Store) ListComputers(ctx context.Context, pentest, domain string) ([]models.Computer, error) {
	query := `SELECT id, pentest, name, ip, domain, admins, users, is_dc,
		is_sqlserver, smbv1, signing, infos FROM computers WHERE pentest = ?`
	args := []any{pentest}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY ip", args...)
	if err != nil {
		return nil, fmt.Errorf("list computers: %w", err)
	}
	defer rows.Close()

	var result []models.Computer
	for rows.Next() {
		c, err := scanComputer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan computer row: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// CountDomainComputers returns the number of computers known for a domain.
func (s *Store) CountDomainComputers(ctx context.Context, pentest, domain string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM computers WHERE pentest = ? AND domain = ?",
		pentest, domain,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count domain computers: %w", err)
	}
	return n, nil
}

// UpdateComputer replaces the mutable fields of a computer.
func (s *Store) UpdateComputer(ctx context.Context, c *models.Computer) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE computers SET name = ?, admins = ?, users = ?, is_dc = ?,
			is_sqlserver = ?, smbv1 = ?, signing = ?, infos = ?
		WHERE pentest = ? AND id = ?`,
		c.Name, jsonList(c.Admins), jsonList(c.Users), c.IsDC, c.IsSQLServer,
		c.SMBv1, c.Signing, jsonMap(c.Infos), c.Pentest, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update computer: %w", err)
	}
	return nil
}

// DeleteComputer removes a computer row.
func (s *Store) DeleteComputer(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM computers WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete computer: %w", err)
	}
	return nil
}

// -- Users --

// InsertUser creates a domain user. Returns (false, existing id) when
// (domain, username) already exists in the engagement.
func (s *Store) InsertUser(ctx context.Context, u *models.User) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE pentest = ? AND domain = ? AND username = ?",
		u.Pentest, u.Domain, u.Username,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, pentest, domain, username, password, groups, infos)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Pentest, u.Domain, u.Username, u.Password, jsonList(u.Groups), jsonMap(u.Infos),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert user: %w", err)
	}
	return true, u.ID, nil
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var groups, infos string
	err := row.Scan(&u.ID, &u.Pentest, &u.Domain, &u.Username, &u.Password, &groups, &infos)
	if err != nil {
		return nil, err
	}
	u.Groups = decodeList(groups)
	u.Infos = decodeMap(infos)
	return &u, nil
}

// GetUser returns a user by id. Returns nil, nil if not found.
func (s *Store) GetUser(ctx context.Context, pentest, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, domain, username, password, groups, infos
		FROM users WHERE pentest = ? AND id = ?`, pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns the users of an engagement, optionally narrowed to one
// domain.
func (s *Store) ListUsers(ctx context.Context, pentest, domain string) ([]models.User, error) {
	query := "SELECT id, pentest, domain, username, password, groups, infos FROM users WHERE pentest = ?"
	args := []any{pentest}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY domain, username", args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

// UpdateUser replaces the mutable fields of a user.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = ?, groups = ?, infos = ?
		WHERE pentest = ? AND id = ?`,
		u.Password, jsonList(u.Groups), jsonMap(u.Infos), u.Pentest, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// -- Shares --

// InsertShare creates a share. Returns (false, existing id) when
// (ip, share) already exists in the engagement.
func (s *Store) InsertShare(ctx context.Context, sh *models.Share) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM shares WHERE pentest = ? AND ip = ? AND share = ?",
		sh.Pentest, sh.IP, sh.Name,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check share: %w", err)
	}

	files, _ := json.Marshal(sh.Files)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shares (id, pentest, ip, share, files)
		VALUES (?, ?, ?, ?, ?)`,
		sh.ID, sh.Pentest, sh.IP, sh.Name, string(files),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert share: %w", err)
	}
	return true, sh.ID, nil
}

func scanShare(row interface{ Scan(...any) error }) (*models.Share, error) {
	var sh models.Share
	var files string
	if err := row.Scan(&sh.ID, &sh.Pentest, &sh.IP, &sh.Name, &files); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(files), &sh.Files)
	return &sh, nil
}

// GetShare returns a share by id. Returns nil, nil if not found.
func (s *Store) GetShare(ctx context.Context, pentest, id string) (*models.Share, error) {
	sh, err := scanShare(s.db.QueryRowContext(ctx,
		"SELECT id, pentest, ip, share, files FROM shares WHERE pentest = ? AND id = ?",
		pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get share: %w", err)
	}
	return sh, nil
}

// ListShares returns the shares of an engagement, optionally narrowed to one
// host.
func (s *Store) ListShares(ctx context.Context, pentest, ip string) ([]models.Share, error) {
	query := "SELECT id, pentest, ip, share, files FROM shares WHERE pentest = ?"
	args := []any{pentest}
	if ip != "" {
		query += " AND ip = ?"
		args = append(args, ip)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY ip, share", args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var result []models.Share
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share row: %w", err)
		}
		result = append(result, *sh)
	}
	return result, rows.Err()
}

// UpdateShare replaces the file list of a share.
func (s *Store) UpdateShare(ctx context.Context, sh *models.Share) error {
	files, _ := json.Marshal(sh.Files)
	_, err := s.db.ExecContext(ctx,
		"UPDATE shares SET files = ? WHERE pentest = ? AND id = ?",
		string(files), sh.Pentest, sh.ID,
	)
	if err != nil {
		return fmt.Errorf("update share: %w", err)
	}
	return nil
}

// DeleteShare removes a share row.
func (s *Store) DeleteShare(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM shares WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}
