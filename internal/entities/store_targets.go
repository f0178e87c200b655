package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// -- Waves --

// InsertWave creates a wave. Returns (false, existing id) when the wave name
// already exists in the engagement.
func (s *Store) InsertWave(ctx context.Context, w *models.Wave) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM waves WHERE pentest = ? AND wave = ?", w.Pentest, w.Name,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check wave: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO waves (id, pentest, wave, wave_commands, infos)
		VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Pentest, w.Name, jsonList(w.WaveCommands), jsonMap(w.Infos),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert wave: %w", err)
	}
	return true, w.ID, nil
}

func scanWave(row interface{ Scan(...any) error }) (*models.Wave, error) {
	var w models.Wave
	var commands, infos string
	if err := row.Scan(&w.ID, &w.Pentest, &w.Name, &commands, &infos); err != nil {
		return nil, err
	}
	w.WaveCommands = decodeList(commands)
	w.Infos = decodeMap(infos)
	return &w, nil
}

// GetWave returns a wave by id. Returns nil, nil if not found.
func (s *Store) GetWave(ctx context.Context, pentest, id string) (*models.Wave, error) {
	w, err := scanWave(s.db.QueryRowContext(ctx,
		"SELECT id, pentest, wave, wave_commands, infos FROM waves WHERE pentest = ? AND id = ?",
		pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get wave: %w", err)
	}
	return w, nil
}

// GetWaveByName returns a wave by name. Returns nil, nil if not found.
func (s *Store) GetWaveByName(ctx context.Context, pentest, name string) (*models.Wave, error) {
	w, err := scanWave(s.db.QueryRowContext(ctx,
		"SELECT id, pentest, wave, wave_commands, infos FROM waves WHERE pentest = ? AND wave = ?",
		pentest, name,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get wave by name: %w", err)
	}
	return w, nil
}

// ListWaves returns all waves of an engagement.
func (s *Store) ListWaves(ctx context.Context, pentest string) ([]models.Wave, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pentest, wave, wave_commands, infos FROM waves WHERE pentest = ? ORDER BY wave",
		pentest,
	)
	if err != nil {
		return nil, fmt.Errorf("list waves: %w", err)
	}
	defer rows.Close()

	var result []models.Wave
	for rows.Next() {
		w, err := scanWave(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wave row: %w", err)
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// UpdateWave replaces the mutable fields of a wave.
func (s *Store) UpdateWave(ctx context.Context, w *models.Wave) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE waves SET wave_commands = ?, infos = ? WHERE pentest = ? AND id = ?",
		jsonList(w.WaveCommands), jsonMap(w.Infos), w.Pentest, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update wave: %w", err)
	}
	return nil
}

// DeleteWave removes a wave row.
func (s *Store) DeleteWave(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM waves WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete wave: %w", err)
	}
	return nil
}

// -- Intervals --

// InsertInterval creates an interval.
func (s *Store) InsertInterval(ctx context.Context, iv *models.Interval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervals (id, pentest, wave, dated, datef)
		VALUES (?, ?, ?, ?, ?)`,
		iv.ID, iv.Pentest, iv.Wave, iv.Dated, iv.Datef,
	)
	if err != nil {
		return fmt.Errorf("insert interval: %w", err)
	}
	return nil
}

// GetInterval returns an interval by id. Returns nil, nil if not found.
func (s *Store) GetInterval(ctx context.Context, pentest, id string) (*models.Interval, error) {
	var iv models.Interval
	err := s.db.QueryRowContext(ctx,
		"SELECT id, pentest, wave, dated, datef FROM intervals WHERE pentest = ? AND id = ?",
		pentest, id,
	).Scan(&iv.ID, &iv.Pentest, &iv.Wave, &iv.Dated, &iv.Datef)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get interval: %w", err)
	}
	return &iv, nil
}

// ListIntervals returns the intervals of a wave, or of the whole engagement
// when wave is empty.
func (s *Store) ListIntervals(ctx context.Context, pentest, wave string) ([]models.Interval, error) {
	query := "SELECT id, pentest, wave, dated, datef FROM intervals WHERE pentest = ?"
	args := []any{pentest}
	if wave != "" {
		query += " AND wave = ?"
		args = append(args, wave)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer rows.Close()

	var result []models.Interval
	for rows.Next() {
		var iv models.Interval
		if err := rows.Scan(&iv.ID, &iv.Pentest, &iv.Wave, &iv.Dated, &iv.Datef); err != nil {
			return nil, fmt.Errorf("scan interval row: %w", err)
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}

// UpdateInterval replaces the bounds of an interval.
func (s *Store) UpdateInterval(ctx context.Context, iv *models.Interval) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE intervals SET dated = ?, datef = ? WHERE pentest = ? AND id = ?",
		iv.Dated, iv.Datef, iv.Pentest, iv.ID,
	)
	if err != nil {
		return fmt.Errorf("update interval: %w", err)
	}
	return nil
}

// DeleteInterval removes an interval row.
func (s *Store) DeleteInterval(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM intervals WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete interval: %w", err)
	}
	return nil
}

// -- Scopes --

// InsertScope creates a scope. Returns (false, existing id) when the scope
// string already exists in the wave.
func (s *Store) InsertScope(ctx context.Context, sc *models.Scope) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM scopes WHERE pentest = ? AND wave = ? AND scope = ?",
		sc.Pentest, sc.Wave, sc.Scope,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check scope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scopes (id, pentest, wave, scope, notes)
		VALUES (?, ?, ?, ?, ?)`,
		sc.ID, sc.Pentest, sc.Wave, sc.Scope, sc.Notes,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert scope: %w", err)
	}
	return true, sc.ID, nil
}

// GetScope returns a scope by id. Returns nil, nil if not found.
func (s *Store) GetScope(ctx context.Context, pentest, id string) (*models.Scope, error) {
	var sc models.Scope
	err := s.db.QueryRowContext(ctx,
		"SELECT id, pentest, wave, scope, notes FROM scopes WHERE pentest = ? AND id = ?",
		pentest, id,
	).Scan(&sc.ID, &sc.Pentest, &sc.Wave, &sc.Scope, &sc.Notes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get scope: %w", err)
	}
	return &sc, nil
}

// ListScopes returns the scopes of a wave, or of the whole engagement when
// wave is empty.
func (s *Store) ListScopes(ctx context.Context, pentest, wave string) ([]models.Scope, error) {
	query := "SELECT id, pentest, wave, scope, notes FROM scopes WHERE pentest = ?"
	args := []any{pentest}
	if wave != "" {
		query += " AND wave = ?"
		args = append(args, wave)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var result []models.Scope
	for rows.Next() {
		var sc models.Scope
		if err := rows.Scan(&sc.ID, &sc.Pentest, &sc.Wave, &sc.Scope, &sc.Notes); err != nil {
			return nil, fmt.Errorf("scan scope row: %w", err)
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

// DeleteScope removes a scope row.
func (s *Store) DeleteScope(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM scopes WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete scope: %w", err)
	}
	return nil
}

// -- Hosts (ips collection) --

// InsertHost creates a host. Returns (false, existing id) when the address
// already exists in the engagement.
func (s *Store) InsertHost(ctx context.Context, h *models.Host) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM ips WHERE pentest = ? AND ip = ?", h.Pentest, h.IP,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check host: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ips (id, pentest, ip, notes, in_scopes, infos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.Pentest, h.IP, h.Notes, jsonList(h.InScopes), jsonMap(h.Infos),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert host: %w", err)
	}
	return true, h.ID, nil
}

func scanHost(row interface{ Scan(...any) error }) (*models.Host, error) {
	var h models.Host
	var inScopes, infos string
	if err := row.Scan(&h.ID, &h.Pentest, &h.IP, &h.Notes, &inScopes, &infos); err != nil {
		return nil, err
	}
	h.InScopes = decodeList(inScopes)
	h.Infos = decodeMap(infos)
	return &h, nil
}

// GetHost returns a host by id. Returns nil, nil if not found.
func (s *Store) GetHost(ctx context.Context, pentest, id string) (*models.Host, error) {
	h, err := scanHost(s.db.QueryRowContext(ctx,
		"SELECT id, pentest, ip, notes, in_scopes, infos FROM ips WHERE pentest = ? AND id = ?",
		pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get host: %w", err)
	}
	return h, nil
}

// GetHostByIP returns a host by address. Returns nil, nil if not found.
func (s *Store) GetHostByIP(ctx context.Context, pentest, ip string) (*models.Host, error) {
	h, err := scanHost(s.db.QueryRowContext(ctx,
		"SELECT id, pentest, ip, notes, in_scopes, infos FROM ips WHERE pentest = ? AND ip = ?",
		pentest, ip,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get host by ip: %w", err)
	}
	return h, nil
}

// ListHosts returns all hosts of an engagement.
func (s *Store) ListHosts(ctx context.Context, pentest string) ([]models.Host, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pentest, ip, notes, in_scopes, infos FROM ips WHERE pentest = ? ORDER BY ip",
		pentest,
	)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var result []models.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host row: %w", err)
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

// UpdateHost replaces the mutable fields of a host.
func (s *Store) UpdateHost(ctx context.Context, h *models.Host) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE ips SET notes = ?, in_scopes = ?, infos = ? WHERE pentest = ? AND id = ?",
		h.Notes, jsonList(h.InScopes), jsonMap(h.Infos), h.Pentest, h.ID,
	)
	if err != nil {
		return fmt.Errorf("update host: %w", err)
	}
	return nil
}

// DeleteHost removes a host row.
func (s *Store) DeleteHost(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM ips WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	return nil
}

// -- Ports --

// InsertPort creates a port. Returns (false, existing id) when
// (ip, port, proto) already exists in the engagement.
func (s *Store) InsertPort(ctx context.Context, p *models.Port) (bool, string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM ports WHERE pentest = ? AND ip = ? AND port = ? AND proto = ?",
		p.Pentest, p.IP, p.Port, p.Proto,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", fmt.Errorf("check port: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ports (id, pentest, ip, port, proto, service, product, notes, infos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Pentest, p.IP, p.Port, p.Proto, p.Service, p.Product, p.Notes, jsonMap(p.Infos),
	)
	if err != nil {
		return false, "", fmt.Errorf("insert port: %w", err)
	}
	return true, p.ID, nil
}

func scanPort(row interface{ Scan(...any) error }) (*models.Port, error) {
	var p models.Port
	var infos string
	if err := row.Scan(&p.ID, &p.Pentest, &p.IP, &p.Port, &p.Proto, &p.Service, &p.Product, &p.Notes, &infos); err != nil {
		return nil, err
	}
	p.Infos = decodeMap(infos)
	return &p, nil
}

// GetPort returns a port by id. Returns nil, nil if not found.
func (s *Store) GetPort(ctx context.Context, pentest, id string) (*models.Port, error) {
	p, err := scanPort(s.db.QueryRowContext(ctx, `
		SELECT id, pentest, ip, port, proto, service, product, notes, infos
		FROM ports WHERE pentest = ? AND id = ?`, pentest, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get port: %w", err)
	}
	return p, nil
}

// ListPorts returns the ports of a host, or of the whole engagement when ip
// is empty.
func (s *Store) ListPorts(ctx context.Context, pentest, ip string) ([]models.Port, error) {
	query := "SELECT id, pentest, ip, port, proto, service, product, notes, infos FROM ports WHERE pentest = ?"
	args := []any{pentest}
	if ip != "" {
		query += " AND ip = ?"
		args = append(args, ip)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY ip, port", args...)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	defer rows.Close()

	var result []models.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, fmt.Errorf("scan port row: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// UpdatePort replaces the mutable fields of a port.
func (s *Store) UpdatePort(ctx context.Context, p *models.Port) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ports SET service = ?, product = ?, notes = ?, infos = ?
		WHERE pentest = ? AND id = ?`,
		p.Service, p.Product, p.Notes, jsonMap(p.Infos), p.Pentest, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update port: %w", err)
	}
	return nil
}

// DeletePort removes a port row.
func (s *Store) DeletePort(ctx context.Context, pentest, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM ports WHERE pentest = ? AND id = ?", pentest, id,
	)
	if err != nil {
		return fmt.Errorf("delete port: %w", err)
	}
	return nil
}
