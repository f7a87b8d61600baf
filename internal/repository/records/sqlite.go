package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Registers the "sqlite" driver.

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS installation_records (
	install_context TEXT NOT NULL,
	feature_band TEXT NOT NULL,
	workload_id TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (install_context, feature_band, workload_id)
);
CREATE INDEX IF NOT EXISTS idx_records_band ON installation_records(install_context, feature_band);
`

// SQLiteStore keeps installation records in a SQLite database.
// Several install contexts may share one database file.
type SQLiteStore struct {
	db             *sql.DB
	installContext workload.InstallContext
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, installContext workload.InstallContext) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create record database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}

	// One writer at a time; the engine serializes installs anyway.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(recordsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create record schema: %w", err)
	}

	return &SQLiteStore{db: db, installContext: installContext}, nil
}

// Context returns the install context the store is bound to.
func (s *SQLiteStore) Context() workload.InstallContext { return s.installContext }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Write inserts the record unless it already exists.
func (s *SQLiteStore) Write(ctx context.Context, id workload.WorkloadID, band workload.FeatureBand) error {
	if err := validateID(id); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO installation_records (install_context, feature_band, workload_id) VALUES (?, ?, ?)`,
		string(s.installContext), band.String(), id.String())
	if err != nil {
		return fmt.Errorf("write record %s/%s: %w", band, id, err)
	}

	return nil
}

// Delete removes the record if present.
func (s *SQLiteStore) Delete(ctx context.Context, id workload.WorkloadID, band workload.FeatureBand) error {
	if err := validateID(id); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM installation_records WHERE install_context = ? AND feature_band = ? AND workload_id = ?`,
		string(s.installContext), band.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", band, id, err)
	}

	return nil
}

// List returns the workloads recorded for band in ascending order.
func (s *SQLiteStore) List(ctx context.Context, band workload.FeatureBand) ([]workload.WorkloadID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workload_id FROM installation_records WHERE install_context = ? AND feature_band = ?`,
		string(s.installContext), band.String())
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", band, err)
	}
	defer rows.Close()

	var ids []workload.WorkloadID

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		ids = append(ids, workload.WorkloadID(id))
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list records for %s: %w", band, err)
	}

	sortIDs(ids)

	return ids, nil
}

// ListBands returns every band with at least one record, in ascending order.
func (s *SQLiteStore) ListBands(ctx context.Context) ([]workload.FeatureBand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT feature_band FROM installation_records WHERE install_context = ?`,
		string(s.installContext))
	if err != nil {
		return nil, fmt.Errorf("list record bands: %w", err)
	}
	defer rows.Close()

	var bands []workload.FeatureBand

	for rows.Next() {
		var raw string
		if err = rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan record band: %w", err)
		}

		band, err := workload.NewFeatureBand(raw)
		if err != nil {
			return nil, fmt.Errorf("stored band %q: %w", raw, err)
		}

		bands = append(bands, band)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list record bands: %w", err)
	}

	sortBands(bands)

	return bands, nil
}
