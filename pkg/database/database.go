package database

import (
	"context"
	"errors"
	"time"

	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/pkg/ingest"
)

// ErrHostNotFound is returned when an operation refers to a host that never
// submitted an inventory.
var ErrHostNotFound = errors.New("host not found")

type Database interface {
	// UpsertAsset records that hostname was seen at ip and returns its asset id.
	UpsertAsset(ctx context.Context, hostname, ip string, seen time.Time) (int64, error)
	// PackageVersions returns the last known name to version map of an asset.
	PackageVersions(ctx context.Context, assetID int64) (map[string]string, error)
	// SaveIngestion replaces the vulnerable packages of an asset with those of result and
	// stores its package versions and changes. It is applied atomically.
	SaveIngestion(ctx context.Context, assetID int64, result ingest.Result) error
	// RecordPackageUpdate stores a single package change reported for hostname.
	RecordPackageUpdate(ctx context.Context, hostname string, change ingest.PackageChange) error

	VulnerabilitiesByHost(ctx context.Context, hostname string) ([]common.Vulnerability, error)
	Vulnerabilities(ctx context.Context) ([]common.Vulnerability, error)
	// PackageUpdates returns the package history, most recent first.
	PackageUpdates(ctx context.Context) ([]common.PackageUpdate, error)
	Devices(ctx context.Context) ([]common.Device, error)

	Close() error
}
