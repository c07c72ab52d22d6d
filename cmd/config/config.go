package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Version  string
	Database Database
	Feeds    FeedConfig
	Matching MatchConfig
	Server   ServerConfig
	Log      LogConfig
}

// Database holds database configuration
type Database struct {
	Driver string
	DSN    string
}

// FeedConfig holds CVE feed related configuration
type FeedConfig struct {
	Dir             string        // Directory holding nvdcve-2.0-<name>.json files
	Names           []string      // Feed partitions to load, in order
	BaseURL         string        // Where `update` downloads partitions from
	RefreshInterval time.Duration // How often `serve` re-downloads the feeds, 0 disables
	FetchTimeout    time.Duration // Retry budget of a single partition download
}

// MatchConfig holds the matching heuristics
type MatchConfig struct {
	Workers     int
	Aliases     map[string]string // Display name -> canonical slug
	NoiseTokens []string          // Vendor tokens stripped from names
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr         string
	AllowOrigins string
}

type LogConfig struct {
	Level string
}

var (
	config     *Config
	v          *viper.Viper
	configFile string
	mu         sync.RWMutex
)

// SetConfigFile makes the next initialization read path instead of searching the config directories.
func SetConfigFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	configFile = path
}

// initDefaults sets up the default configuration values
func initDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".vulnmatch")

	// Version defaults
	v.SetDefault("version", "0.1.0")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(baseDir, "vulnmatch.db"))

	// Feed defaults
	v.SetDefault("feeds.dir", filepath.Join(baseDir, "feeds"))
	v.SetDefault("feeds.names", []string{"recent", "modified"})
	v.SetDefault("feeds.baseurl", "https://nvd.nist.gov/feeds/json/cve/2.0/")
	v.SetDefault("feeds.refreshinterval", "2h")
	v.SetDefault("feeds.fetchtimeout", "2m")

	// Matching defaults
	v.SetDefault("matching.workers", 0)
	v.SetDefault("matching.aliases", map[string]string{
		"Admin in English with Switch": "admin-in-english-with-switch",
		"Wordpress":                    "wordpress",
	})
	v.SetDefault("matching.noisetokens", []string{"microsoft", "google", "mozilla", "oracle", "inc", "corp"})

	// Server defaults
	v.SetDefault("server.addr", "0.0.0.0:3000")
	v.SetDefault("server.alloworigins", "http://localhost:3001")

	v.SetDefault("log.level", "info")
}

// loadFromFile attempts to load configuration from a file
func loadFromFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	// Look for config in the config directory
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.vulnmatch")
	v.AddConfigPath("/etc/vulnmatch")

	// Set the name of the config file (without extension)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Read from config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, let's create a default one
			configDir := os.ExpandEnv("$HOME/.vulnmatch")

			if err := os.MkdirAll(configDir, 0755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			return v.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(v *viper.Viper) {
	// Enable environment variable overrides
	v.AutomaticEnv()

	// Map environment variables to config keys
	v.SetEnvPrefix("VULNMATCH")

	// Replace dots with underscores in environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("database.driver", "VULNMATCH_DATABASE_DRIVER", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "VULNMATCH_DATABASE_DSN", "DATABASE_DSN")
	_ = v.BindEnv("feeds.dir", "VULNMATCH_FEEDS_DIR", "CVE_FEED_DIR")
	_ = v.BindEnv("feeds.refreshinterval", "VULNMATCH_FEEDS_REFRESH_INTERVAL")
	_ = v.BindEnv("matching.workers", "VULNMATCH_MATCHING_WORKERS")
	_ = v.BindEnv("server.addr", "VULNMATCH_SERVER_ADDR", "LISTEN_ADDR")
	_ = v.BindEnv("server.alloworigins", "VULNMATCH_SERVER_ALLOW_ORIGINS")
	_ = v.BindEnv("log.level", "VULNMATCH_LOG_LEVEL", "LOG_LEVEL")
}

// mapToConfig maps viper values to the Config struct
func mapToConfig(v *viper.Viper) (*Config, error) {
	refresh, err := parseDuration(v.GetString("feeds.refreshinterval"), 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("feeds.refreshinterval: %w", err)
	}
	fetchTimeout, err := parseDuration(v.GetString("feeds.fetchtimeout"), 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("feeds.fetchtimeout: %w", err)
	}

	workers := v.GetInt("matching.workers")
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Config{
		Version: v.GetString("version"),
		Database: Database{
			Driver: v.GetString("database.driver"),
			DSN:    expandHome(v.GetString("database.dsn")),
		},
		Feeds: FeedConfig{
			Dir:             expandHome(v.GetString("feeds.dir")),
			Names:           v.GetStringSlice("feeds.names"),
			BaseURL:         v.GetString("feeds.baseurl"),
			RefreshInterval: refresh,
			FetchTimeout:    fetchTimeout,
		},
		Matching: MatchConfig{
			Workers:     workers,
			Aliases:     v.GetStringMapString("matching.aliases"),
			NoiseTokens: v.GetStringSlice("matching.noisetokens"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			AllowOrigins: v.GetString("server.alloworigins"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}, nil
}

// parseDuration treats an empty value as def and "0" as disabled.
func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

// expandHome expands a leading ~ to the user's home directory
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return strings.Replace(path, "~", homeDir, 1)
}

// initialize initializes the configuration
func initialize() error {
	v = viper.New()

	// Set default values
	initDefaults(v)

	// Try to load from config file
	if err := loadFromFile(v); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		// Continue even if we can't load from file
	}

	// Load from environment variables
	loadFromEnv(v)

	// Map viper values to our Config struct
	var err error
	config, err = mapToConfig(v)
	return err
}

// Use returns the configuration singleton
func Use() *Config {
	mu.RLock()
	cfg := config
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		if err := initialize(); err != nil {
			log.Fatalf("failed to initialize configuration: %v", err)
		}
	}
	return config
}

// SaveConfig writes the effective configuration to path, or back to the file it
// was loaded from when path is empty.
func SaveConfig(path string) error {
	Use()
	mu.RLock()
	defer mu.RUnlock()
	return saveConfig(v, path)
}

func saveConfig(v *viper.Viper, path string) error {
	if v == nil {
		return fmt.Errorf("configuration not initialized")
	}
	if path == "" {
		return v.WriteConfig()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	return v.WriteConfigAs(path)
}

// WatchConfig starts watching the config file for changes. onChange receives the
// reloaded configuration.
func WatchConfig(onChange func(*Config)) {
	Use()

	mu.RLock()
	watched := v
	mu.RUnlock()

	watched.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := mapToConfig(watched)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring config change in %s: %v\n", e.Name, err)
			return
		}
		mu.Lock()
		config = newConfig
		mu.Unlock()
		if onChange != nil {
			onChange(newConfig)
		}
	})
	watched.WatchConfig()
}
