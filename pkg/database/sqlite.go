package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/Nathene/vulnmatch/pkg/ingest"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02 15:04:05.000000000"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL UNIQUE,
		ip TEXT NOT NULL DEFAULT '',
		last_seen TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		UNIQUE (asset_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS package_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		software TEXT NOT NULL,
		old_version TEXT NOT NULL,
		new_version TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (asset_id, software, old_version, new_version)
	)`,
	`CREATE TABLE IF NOT EXISTS vulnerable_packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		software TEXT NOT NULL,
		installed_version TEXT NOT NULL,
		cve_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		UNIQUE (asset_id, software, cve_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_package_updates_updated_at ON package_updates (updated_at)`,
}

type SQLiteDatabase struct {
	*sql.DB
	now func() time.Time
}

var _ Database = (*SQLiteDatabase)(nil)

var (
	db   *SQLiteDatabase
	dbMu sync.Mutex
)

// Use returns the shared SQLiteDatabase configured by config.Use, opening it on first use.
func Use() (*SQLiteDatabase, error) {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db == nil {
		cfg := config.Use().Database
		opened, err := Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		db = opened
	}
	return db, nil
}

// Open opens the database at dsn and creates any missing tables.
func Open(driver, dsn string) (*SQLiteDatabase, error) {
	sqlDB, err := sql.Open(driver, withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; serialize access through one connection.
	sqlDB.SetMaxOpenConns(1)

	s := &SQLiteDatabase{DB: sqlDB, now: time.Now}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// withForeignKeys adds the foreign_keys pragma to dsn so every connection the
// pool opens enforces ON DELETE CASCADE.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func (s *SQLiteDatabase) migrate() error {
	for _, stmt := range schema {
		if _, err := s.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDatabase) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTimestamp(raw string) time.Time {
	t, err := time.ParseInLocation(timeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertAsset stores a host, refreshing its last seen time. An empty ip keeps the stored one.
func (s *SQLiteDatabase) UpsertAsset(ctx context.Context, hostname, ip string, seen time.Time) (int64, error) {
	_, err := s.ExecContext(ctx, `
		INSERT INTO assets (hostname, ip, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(hostname) DO UPDATE SET
		ip = CASE WHEN excluded.ip <> '' THEN excluded.ip ELSE assets.ip END,
		last_seen = excluded.last_seen
	`, hostname, ip, seen.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("upsert asset %s: %w", hostname, err)
	}
	return s.assetID(ctx, s.DB, hostname)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteDatabase) assetID(ctx context.Context, q queryer, hostname string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM assets WHERE hostname = ?", hostname).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PackageVersions returns the stored name to version map of an asset.
func (s *SQLiteDatabase) PackageVersions(ctx context.Context, assetID int64) (map[string]string, error) {
	rows, err := s.QueryContext(ctx, "SELECT name, version FROM packages WHERE asset_id = ?", assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[string]string)
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, err
		}
		versions[name] = version
	}
	return versions, rows.Err()
}

// SaveIngestion deletes every vulnerable package of the asset and writes the new
// set, package versions and changes in a single transaction.
func (s *SQLiteDatabase) SaveIngestion(ctx context.Context, assetID int64, result ingest.Result) (err error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM vulnerable_packages WHERE asset_id = ?", assetID); err != nil {
		return fmt.Errorf("clear vulnerable packages: %w", err)
	}

	now := s.timestamp()
	for _, change := range result.Changes {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO packages (asset_id, name, version) VALUES (?, ?, ?)
			ON CONFLICT(asset_id, name) DO UPDATE SET version = excluded.version
		`, assetID, change.Software, change.NewVersion); err != nil {
			return fmt.Errorf("store package %s: %w", change.Software, err)
		}
		if err = upsertPackageUpdate(ctx, tx, assetID, change, now); err != nil {
			return err
		}
	}

	for _, vp := range result.Vulnerable {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO vulnerable_packages (asset_id, software, installed_version, cve_id, severity, description)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset_id, software, cve_id) DO UPDATE SET
			installed_version = excluded.installed_version,
			severity = excluded.severity,
			description = excluded.description
		`, assetID, vp.Name, vp.Version, vp.CVEID, string(vp.Severity), vp.Description); err != nil {
			return fmt.Errorf("store vulnerable package %s %s: %w", vp.Name, vp.CVEID, err)
		}
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPackageUpdate(ctx context.Context, e execer, assetID int64, change ingest.PackageChange, updatedAt string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO package_updates (asset_id, software, old_version, new_version, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id, software, old_version, new_version) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at
	`, assetID, change.Software, change.OldVersion, change.NewVersion, string(change.Status), updatedAt)
	if err != nil {
		return fmt.Errorf("store package update %s: %w", change.Software, err)
	}
	return nil
}

// RecordPackageUpdate stores a change reported outside a full inventory submission.
// It fails with ErrHostNotFound when hostname is unknown.
func (s *SQLiteDatabase) RecordPackageUpdate(ctx context.Context, hostname string, change ingest.PackageChange) error {
	id, err := s.assetID(ctx, s.DB, hostname)
	if err != nil {
		return err
	}
	return upsertPackageUpdate(ctx, s.DB, id, change, s.timestamp())
}

const vulnerabilityColumns = `
	SELECT vp.id, a.hostname, vp.software, vp.installed_version, vp.cve_id, vp.severity, vp.description
	FROM vulnerable_packages vp
	JOIN assets a ON vp.asset_id = a.id
`

// VulnerabilitiesByHost returns the current vulnerable packages of hostname.
func (s *SQLiteDatabase) VulnerabilitiesByHost(ctx context.Context, hostname string) ([]common.Vulnerability, error) {
	return s.queryVulnerabilities(ctx, vulnerabilityColumns+" WHERE a.hostname = ? ORDER BY vp.id", hostname)
}

// Vulnerabilities returns the current vulnerable packages of every host.
func (s *SQLiteDatabase) Vulnerabilities(ctx context.Context) ([]common.Vulnerability, error) {
	return s.queryVulnerabilities(ctx, vulnerabilityColumns+" ORDER BY a.hostname, vp.id")
}

func (s *SQLiteDatabase) queryVulnerabilities(ctx context.Context, query string, args ...any) ([]common.Vulnerability, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vulnerabilities := []common.Vulnerability{}
	for rows.Next() {
		var v common.Vulnerability
		if err := rows.Scan(&v.ID, &v.Hostname, &v.Software, &v.InstalledVersion, &v.CVEID, &v.Severity, &v.Description); err != nil {
			return nil, err
		}
		vulnerabilities = append(vulnerabilities, v)
	}
	return vulnerabilities, rows.Err()
}

// PackageUpdates returns the package history of every host, most recent first.
func (s *SQLiteDatabase) PackageUpdates(ctx context.Context) ([]common.PackageUpdate, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT pu.id, a.hostname, pu.software, pu.old_version, pu.new_version, pu.status, pu.updated_at
		FROM package_updates pu
		JOIN assets a ON pu.asset_id = a.id
		ORDER BY pu.updated_at DESC, pu.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := []common.PackageUpdate{}
	for rows.Next() {
		var u common.PackageUpdate
		var updatedAt string
		if err := rows.Scan(&u.ID, &u.Hostname, &u.Software, &u.OldVersion, &u.NewVersion, &u.Status, &updatedAt); err != nil {
			return nil, err
		}
		u.UpdatedAt = parseTimestamp(updatedAt)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// Devices returns every known host.
func (s *SQLiteDatabase) Devices(ctx context.Context) ([]common.Device, error) {
	rows, err := s.QueryContext(ctx, "SELECT id, hostname, ip, last_seen FROM assets ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []common.Device{}
	for rows.Next() {
		var d common.Device
		var lastSeen string
		if err := rows.Scan(&d.ID, &d.Hostname, &d.IP, &lastSeen); err != nil {
			return nil, err
		}
		d.LastSeen = parseTimestamp(lastSeen)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
