package adx

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCatalogSource serves catalog generations from PostgreSQL.
type PostgresCatalogSource struct {
	db *sql.DB
}

// NewPostgresCatalogSource opens the database and ensures the catalog
// tables exist.
func NewPostgresCatalogSource(connString string) (*PostgresCatalogSource, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	src := &PostgresCatalogSource{db: db}
	if err := src.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return src, nil
}

func (ps *PostgresCatalogSource) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS adx_demands (
		id BIGINT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		url VARCHAR(500) NOT NULL,
		status BOOLEAN DEFAULT true,
		timeout_ms BIGINT
	);

	CREATE TABLE IF NOT EXISTS adx_ssp_info (
		id BIGINT PRIMARY KEY,
		uuid VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		qps INT DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS adx_ssp_placements (
		ssp_id BIGINT NOT NULL,
		ssp_uuid VARCHAR(64) NOT NULL,
		placement_id VARCHAR(255) NOT NULL,
		ad_type INT NOT NULL,
		update_time BIGINT DEFAULT 0,
		status INT DEFAULT 1,
		PRIMARY KEY (ssp_uuid, placement_id)
	);

	CREATE TABLE IF NOT EXISTS adx_dsp_placements (
		dsp_id BIGINT NOT NULL,
		dsp_uuid VARCHAR(64) NOT NULL,
		tag_id VARCHAR(255) NOT NULL,
		custom_ad_type VARCHAR(64),
		profit_rate DECIMAL(4, 3) DEFAULT 0.20,
		auth JSONB,
		update_time BIGINT DEFAULT 0,
		status INT DEFAULT 1,
		PRIMARY KEY (dsp_uuid, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_adx_demands_status ON adx_demands(status);
	CREATE INDEX IF NOT EXISTS idx_adx_ssp_placements_uuid ON adx_ssp_placements(ssp_uuid);
	CREATE INDEX IF NOT EXISTS idx_adx_dsp_placements_dsp ON adx_dsp_placements(dsp_id);
	`
	_, err := ps.db.Exec(schema)
	return err
}

// Demands loads the full demand set.
func (ps *PostgresCatalogSource) Demands(ctx context.Context) ([]Demand, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, name, url, status, timeout_ms FROM adx_demands ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var demands []Demand
	for rows.Next() {
		var d Demand
		var timeout sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Name, &d.URL, &d.Status, &timeout); err != nil {
			return nil, err
		}
		if timeout.Valid {
			t := timeout.Int64
			d.Timeout = &t
		}
		demands = append(demands, d)
	}
	return demands, rows.Err()
}

// SspInfo loads the SSP metadata set.
func (ps *PostgresCatalogSource) SspInfo(ctx context.Context) ([]SSP, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT id, uuid, name, qps FROM adx_ssp_info ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ssps []SSP
	for rows.Next() {
		var s SSP
		if err := rows.Scan(&s.ID, &s.UUID, &s.Name, &s.QPS); err != nil {
			return nil, err
		}
		ssps = append(ssps, s)
	}
	return ssps, rows.Err()
}

// SspPlacements loads the SSP placement set.
func (ps *PostgresCatalogSource) SspPlacements(ctx context.Context) ([]SspPlacement, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT ssp_id, ssp_uuid, placement_id, ad_type, update_time, status
		FROM adx_ssp_placements ORDER BY ssp_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var placements []SspPlacement
	for rows.Next() {
		var p SspPlacement
		if err := rows.Scan(&p.SspID, &p.SspUUID, &p.PlacementID, &p.AdType, &p.UpdateTime, &p.Status); err != nil {
			return nil, err
		}
		placements = append(placements, p)
	}
	return placements, rows.Err()
}

// DspPlacements loads the DSP placement set.
func (ps *PostgresCatalogSource) DspPlacements(ctx context.Context) ([]DspPlacement, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT dsp_id, dsp_uuid, tag_id, custom_ad_type, profit_rate, COALESCE(auth::text, ''), update_time, status
		FROM adx_dsp_placements ORDER BY dsp_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var placements []DspPlacement
	for rows.Next() {
		var p DspPlacement
		if err := rows.Scan(&p.DspID, &p.DspUUID, &p.TagID, &p.CustomAdType, &p.ProfitRate, &p.Auth, &p.UpdateTime, &p.Status); err != nil {
			return nil, err
		}
		placements = append(placements, p)
	}
	return placements, rows.Err()
}

// Close closes the database handle.
func (ps *PostgresCatalogSource) Close() error {
	return ps.db.Close()
}
