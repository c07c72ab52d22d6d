// Package api exposes inventory submission and the stored query surface over HTTP.
package api

import (
	"time"

	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
)

// Options configures the HTTP app.
type Options struct {
	// AllowOrigins is a comma separated list of origins allowed by CORS.
	AllowOrigins string
	// AccessLog enables the request log middleware.
	AccessLog bool
}

// NewFiberApp creates a Fiber app serving the inventory and query routes.
func NewFiberApp(db database.Database, s *scanner.Scanner, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "vulnmatch API v1",
		BodyLimit:             20 * 1024 * 1024,
		ReadTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	origins := opts.AllowOrigins
	if origins == "" {
		origins = "http://localhost:3001"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST",
	}))
	if opts.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/", GetHealth(s))

	app.Post("/inventory", PostInventory(s))
	app.Get("/vulnerabilities", GetVulnerabilities(db))
	app.Get("/vulnerabilities/:hostname", GetHostVulnerabilities(db))
	app.Get("/package_updates", GetPackageUpdates(db))
	app.Post("/package_update", PostPackageUpdate(db))
	app.Get("/devices", GetDevices(db))

	return app
}
