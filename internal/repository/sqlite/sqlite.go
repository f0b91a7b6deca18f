// Package sqlite implements repository.Repository using SQLite via the
// pure-Go modernc.org/sqlite driver, with WAL mode for concurrent readers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"flowatlas/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository using SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) a SQLite-backed topology store.
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topologies (
		app_code TEXT PRIMARY KEY,
		zone TEXT NOT NULL DEFAULT 'UNKNOWN',
		confidence REAL NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_topologies_zone ON topologies(zone);
	`

	_, err := r.db.Exec(schema)
	return err
}

// GetTopology retrieves a single record, or (nil, nil) when absent.
func (r *Repository) GetTopology(ctx context.Context, appCode string) (*domain.TopologyRecord, error) {
	var (
		zone       string
		confidence float64
		data       []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT zone, confidence, data FROM topologies WHERE app_code = ?
	`, appCode).Scan(&zone, &confidence, &data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query topology: %w", err)
	}

	rec := &domain.TopologyRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topology data: %w", err)
	}

	// Indexed columns are the source of truth.
	rec.AppCode = appCode
	rec.Zone = domain.ParseZone(zone)
	rec.AggregateConfidence = confidence

	return rec, nil
}

// ListTopologies returns all records ordered by application code.
func (r *Repository) ListTopologies(ctx context.Context) ([]domain.TopologyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT app_code, zone, confidence, data FROM topologies ORDER BY app_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topologies: %w", err)
	}
	defer rows.Close()

	var out []domain.TopologyRecord
	for rows.Next() {
		var (
			appCode, zone string
			confidence    float64
			data          []byte
		)
		if err := rows.Scan(&appCode, &zone, &confidence, &data); err != nil {
			return nil, fmt.Errorf("failed to scan topology: %w", err)
		}

		var rec domain.TopologyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal topology data: %w", err)
		}
		rec.AppCode = appCode
		rec.Zone = domain.ParseZone(zone)
		rec.AggregateConfidence = confidence

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topologies: %w", err)
	}
	return out, nil
}

// UpsertTopology inserts or updates a record.
func (r *Repository) UpsertTopology(ctx context.Context, rec *domain.TopologyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO topologies (app_code, zone, confidence, data, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(app_code) DO UPDATE SET
			zone = excluded.zone,
			confidence = excluded.confidence,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, rec.AppCode, string(rec.Zone), rec.AggregateConfidence, data)

	if err != nil {
		return fmt.Errorf("failed to upsert topology: %w", err)
	}
	return nil
}

// DeleteTopology removes a single record.
func (r *Repository) DeleteTopology(ctx context.Context, appCode string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM topologies WHERE app_code = ?`, appCode)
	if err != nil {
		return fmt.Errorf("failed to delete topology: %w", err)
	}
	return nil
}

// Reset clears all topology records.
func (r *Repository) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM topologies`)
	if err != nil {
		return fmt.Errorf("failed to reset topologies: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}
