package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/ingest"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/Nathene/vulnmatch/pkg/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func vulnerable(name, version, cveID string, severity feed.Severity) ingest.VulnerablePackage {
	return ingest.VulnerablePackage{
		Package: inventory.Package{Name: name, Version: version},
		Verdict: matcher.Verdict{CVEID: cveID, Severity: severity, Description: "desc " + cveID},
	}
}

func TestUpsertAsset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := db.UpsertAsset(ctx, "web-01", "10.0.0.5", seen)
	require.NoError(t, err)

	again, err := db.UpsertAsset(ctx, "web-01", "", seen.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := db.UpsertAsset(ctx, "db-01", "10.0.0.6", seen)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	devices, err := db.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "web-01", devices[0].Hostname)
	assert.Equal(t, "10.0.0.5", devices[0].IP)
	assert.Equal(t, seen.Add(time.Hour), devices[0].LastSeen)
	assert.Equal(t, "db-01", devices[1].Hostname)
}

func TestSaveIngestionReplacesVulnerablePackages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.UpsertAsset(ctx, "web-01", "10.0.0.5", time.Now())
	require.NoError(t, err)

	first := ingest.Result{
		Host: "web-01",
		Vulnerable: []ingest.VulnerablePackage{
			vulnerable("Wordpress", "5.4.2", "CVE-2021-1", feed.SeverityHigh),
			vulnerable("Wordpress", "5.4.2", "CVE-2021-2", feed.SeverityCritical),
			vulnerable("nginx", "1.18.0", "CVE-2021-3", feed.SeverityLow),
		},
		Changes: []ingest.PackageChange{
			{Software: "Wordpress", OldVersion: "5.4.2", NewVersion: "5.4.2", Status: ingest.StatusRollback},
			{Software: "nginx", OldVersion: "1.18.0", NewVersion: "1.18.0", Status: ingest.StatusRollback},
		},
	}
	require.NoError(t, db.SaveIngestion(ctx, id, first))

	vulns, err := db.VulnerabilitiesByHost(ctx, "web-01")
	require.NoError(t, err)
	require.Len(t, vulns, 3)
	assert.Equal(t, "CVE-2021-1", vulns[0].CVEID)
	assert.Equal(t, "HIGH", vulns[0].Severity)
	assert.Equal(t, "web-01", vulns[0].Hostname)
	assert.Equal(t, "5.4.2", vulns[0].InstalledVersion)

	second := ingest.Result{
		Host: "web-01",
		Changes: []ingest.PackageChange{
			{Software: "Wordpress", OldVersion: "5.4.2", NewVersion: "5.9.0", Status: ingest.StatusUpdated},
		},
	}
	require.NoError(t, db.SaveIngestion(ctx, id, second))

	vulns, err = db.VulnerabilitiesByHost(ctx, "web-01")
	require.NoError(t, err)
	assert.Empty(t, vulns)

	versions, err := db.PackageVersions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Wordpress": "5.9.0", "nginx": "1.18.0"}, versions)
}

func TestSaveIngestionLeavesOtherHostsAlone(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	web, err := db.UpsertAsset(ctx, "web-01", "", time.Now())
	require.NoError(t, err)
	mail, err := db.UpsertAsset(ctx, "mail-01", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, db.SaveIngestion(ctx, web, ingest.Result{Vulnerable: []ingest.VulnerablePackage{
		vulnerable("Wordpress", "5.4.2", "CVE-2021-1", feed.SeverityHigh),
	}}))
	require.NoError(t, db.SaveIngestion(ctx, mail, ingest.Result{Vulnerable: []ingest.VulnerablePackage{
		vulnerable("postfix", "3.4.0", "CVE-2020-9", feed.SeverityMedium),
	}}))
	require.NoError(t, db.SaveIngestion(ctx, web, ingest.Result{}))

	all, err := db.Vulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mail-01", all[0].Hostname)
	assert.Equal(t, "postfix", all[0].Software)
}

func TestPackageUpdatesMostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	db.now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	id, err := db.UpsertAsset(ctx, "web-01", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, db.SaveIngestion(ctx, id, ingest.Result{Changes: []ingest.PackageChange{
		{Software: "curl", OldVersion: "8.0.0", NewVersion: "8.0.0", Status: ingest.StatusRollback},
	}}))
	require.NoError(t, db.RecordPackageUpdate(ctx, "web-01", ingest.PackageChange{
		Software: "curl", OldVersion: "8.0.0", NewVersion: "8.4.0", Status: ingest.StatusUpdated,
	}))
	require.NoError(t, db.RecordPackageUpdate(ctx, "web-01", ingest.PackageChange{
		Software: "git", OldVersion: "2.40.0", NewVersion: "2.43.0", Status: ingest.StatusUpdated,
	}))

	updates, err := db.PackageUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "git", updates[0].Software)
	assert.Equal(t, "8.4.0", updates[1].NewVersion)
	assert.Equal(t, "rollback", updates[2].Status)
	assert.True(t, updates[0].UpdatedAt.After(updates[1].UpdatedAt))
	assert.Equal(t, "web-01", updates[0].Hostname)

	// Reporting an existing change again refreshes it instead of duplicating it.
	require.NoError(t, db.RecordPackageUpdate(ctx, "web-01", ingest.PackageChange{
		Software: "curl", OldVersion: "8.0.0", NewVersion: "8.0.0", Status: ingest.StatusRollback,
	}))
	updates, err = db.PackageUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "curl", updates[0].Software)
	assert.Equal(t, "8.0.0", updates[0].NewVersion)
}

func TestRecordPackageUpdateUnknownHost(t *testing.T) {
	db := openTestDB(t)

	err := db.RecordPackageUpdate(context.Background(), "ghost", ingest.PackageChange{Software: "curl"})
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestQueriesOnEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	vulns, err := db.VulnerabilitiesByHost(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, vulns)
	assert.Empty(t, vulns)

	updates, err := db.PackageUpdates(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)

	devices, err := db.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := Open("sqlite", path)
	require.NoError(t, err)
	_, err = first.UpsertAsset(context.Background(), "web-01", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open("sqlite", path)
	require.NoError(t, err)
	defer second.Close()

	devices, err := second.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestForeignKeysOnEveryConnection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	// drop idle connections so each statement below runs on a new one
	db.SetMaxIdleConns(0)

	for i := 0; i < 2; i++ {
		var enabled int
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
		assert.Equal(t, 1, enabled)
	}

	id, err := db.UpsertAsset(ctx, "web-01", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, db.SaveIngestion(ctx, id, ingest.Result{
		Host:       "web-01",
		Vulnerable: []ingest.VulnerablePackage{vulnerable("nginx", "1.18.0", "CVE-2021-3", feed.SeverityLow)},
		Changes:    []ingest.PackageChange{{Software: "nginx", OldVersion: "1.18.0", NewVersion: "1.18.0", Status: ingest.StatusRollback}},
	}))

	_, err = db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	require.NoError(t, err)

	for _, table := range []string{"packages", "package_updates", "vulnerable_packages"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestWithForeignKeys(t *testing.T) {
	assert.Equal(t, "test.db?_pragma=foreign_keys(1)", withForeignKeys("test.db"))
	assert.Equal(t, "file:test.db?mode=rwc&_pragma=foreign_keys(1)", withForeignKeys("file:test.db?mode=rwc"))
	assert.Equal(t, "test.db?_pragma=foreign_keys(0)", withForeignKeys("test.db?_pragma=foreign_keys(0)"))
}
