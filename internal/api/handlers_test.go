package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	corpus := feed.NewCorpus(&feed.Snapshot{Records: []feed.CVERecord{{
		ID:       "CVE-2021-39200",
		Severity: feed.SeverityHigh,
		Configurations: []feed.ConfigNode{{Matches: []feed.CpeMatch{{
			Vulnerable:   true,
			Product:      "wordpress",
			VersionStart: semver.MustParse("5.0.0"),
			VersionEnd:   semver.MustParse("5.8.0"),
		}}}},
	}}})

	return NewFiberApp(db, scanner.New(db, corpus, nil, nil), Options{AllowOrigins: "http://localhost:3001"})
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestInventoryRoundTrip(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/inventory",
		`{"hostname": "web-01", "ip": "10.0.0.5", "packages": [{"name": "Wordpress", "version": "5.4.2"}, {"name": "nginx", "version": "1.18.0"}]}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var received struct {
		Status     string `json:"status"`
		Vulnerable int    `json:"vulnerable"`
		RunID      string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(body, &received))
	assert.Equal(t, "inventory received", received.Status)
	assert.Equal(t, 1, received.Vulnerable)
	assert.NotEmpty(t, received.RunID)

	status, body = do(t, app, http.MethodGet, "/vulnerabilities/web-01", "")
	require.Equal(t, http.StatusOK, status)
	var vulns []common.Vulnerability
	require.NoError(t, json.Unmarshal(body, &vulns))
	require.Len(t, vulns, 1)
	assert.Equal(t, "CVE-2021-39200", vulns[0].CVEID)
	assert.Equal(t, "Wordpress", vulns[0].Software)
	assert.Equal(t, "5.4.2", vulns[0].InstalledVersion)
	assert.Equal(t, "HIGH", vulns[0].Severity)

	status, body = do(t, app, http.MethodGet, "/vulnerabilities", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &vulns))
	assert.Len(t, vulns, 1)

	status, body = do(t, app, http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, status)
	var devices struct {
		Count   int             `json:"count"`
		Devices []common.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(body, &devices))
	assert.Equal(t, 1, devices.Count)
	assert.Equal(t, "web-01", devices.Devices[0].Hostname)

	status, body = do(t, app, http.MethodGet, "/package_updates", "")
	require.Equal(t, http.StatusOK, status)
	var updates []common.PackageUpdate
	require.NoError(t, json.Unmarshal(body, &updates))
	assert.Len(t, updates, 2)
}

func TestInventoryValidation(t *testing.T) {
	app := newTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/inventory", `{"ip": "10.0.0.5", "packages": []}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/inventory", `{"hostname": "web-01", "packages": [{"purl": "not a purl"}]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/inventory", `{"hostname": `)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPackageUpdate(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/package_update", `{"software": "curl"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "hostname and software required")

	status, body = do(t, app, http.MethodPost, "/package_update",
		`{"hostname": "ghost", "software": "curl", "old_version": "8.0.0", "new_version": "8.4.0", "status": "updated"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "Asset not found")

	status, _ = do(t, app, http.MethodPost, "/inventory", `{"hostname": "web-01", "packages": []}`)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, app, http.MethodPost, "/package_update",
		`{"hostname": "web-01", "software": "curl", "old_version": "8.0.0", "new_version": "8.4.0", "status": "updated"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "package_update stored")

	_, body = do(t, app, http.MethodGet, "/package_updates", "")
	var updates []common.PackageUpdate
	require.NoError(t, json.Unmarshal(body, &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "curl", updates[0].Software)
	assert.Equal(t, "web-01", updates[0].Hostname)
}

func TestEmptyQueriesReturnArrays(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, http.MethodGet, "/vulnerabilities/nobody", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	_, body = do(t, app, http.MethodGet, "/devices", "")
	assert.JSONEq(t, `{"count": 0, "devices": []}`, string(body))
}

func TestHealthAndCORS(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3001")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3001", resp.Header.Get("Access-Control-Allow-Origin"))

	var health struct {
		Status  string        `json:"status"`
		Scanner scanner.Stats `json:"scanner"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Scanner.Records)
}
