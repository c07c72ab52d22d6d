package api

import (
	"errors"

	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/ingest"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/gofiber/fiber/v2"
)

// PackageUpdateRequest is the body of POST /package_update.
type PackageUpdateRequest struct {
	Hostname   string `json:"hostname"`
	Software   string `json:"software"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
	Status     string `json:"status"`
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"message": message})
}

// GetHealth reports the loaded corpus and submission count.
func GetHealth(s *scanner.Scanner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "scanner": s.Stats()})
	}
}

// PostInventory ingests an inventory submission from a host agent.
func PostInventory(s *scanner.Scanner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var inv inventory.Inventory
		if err := c.BodyParser(&inv); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid inventory: "+err.Error())
		}
		if err := inv.Validate(); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		summary, err := s.Submit(c.UserContext(), &inv)
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{
			"status":     "inventory received",
			"vulnerable": summary.Total,
			"run_id":     summary.RunID,
			"summary":    summary,
		})
	}
}

// GetHostVulnerabilities lists the current vulnerable packages of one host.
func GetHostVulnerabilities(db database.Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vulns, err := db.VulnerabilitiesByHost(c.UserContext(), c.Params("hostname"))
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(vulns)
	}
}

// GetVulnerabilities lists the vulnerable packages of every host.
func GetVulnerabilities(db database.Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vulns, err := db.Vulnerabilities(c.UserContext())
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(vulns)
	}
}

// GetPackageUpdates lists the package history, most recent first.
func GetPackageUpdates(db database.Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		updates, err := db.PackageUpdates(c.UserContext())
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(updates)
	}
}

// PostPackageUpdate records a single package change for a known host.
func PostPackageUpdate(db database.Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req PackageUpdateRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
		if req.Hostname == "" || req.Software == "" {
			return errorJSON(c, fiber.StatusBadRequest, "hostname and software required")
		}

		err := db.RecordPackageUpdate(c.UserContext(), req.Hostname, ingest.PackageChange{
			Software:   req.Software,
			OldVersion: req.OldVersion,
			NewVersion: req.NewVersion,
			Status:     ingest.ChangeStatus(req.Status),
		})
		if errors.Is(err, database.ErrHostNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "Asset not found")
		}
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"message": "package_update stored"})
	}
}

// GetDevices lists every host that has submitted an inventory.
func GetDevices(db database.Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		devices, err := db.Devices(c.UserContext())
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"count": len(devices), "devices": devices})
	}
}
