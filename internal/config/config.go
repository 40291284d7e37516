package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shelfsync/shelfsync/internal/models"
	"gopkg.in/yaml.v3"
)

// backupSuffix is appended to a document's stem to name its backup mirror.
const backupSuffix = "-backups"

// Config holds all environment-based configuration for shelfsync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile, when set, receives a rotated copy of the log stream.
	LogFile string `env:"LOG_FILE"`

	// StatePath is the local replica database. Defaults to
	// ~/.shelfsync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Remote document store. Sync is disabled when RemoteBaseURL is empty.
	RemoteBaseURL string `env:"REMOTE_BASE_URL"`
	RemoteToken   string `env:"REMOTE_TOKEN"`
	RemoteFolder  string `env:"REMOTE_FOLDER" envDefault:"media-tracker"`

	// Remote document names, one per sync domain.
	MediaDocument  string `env:"MEDIA_DOCUMENT" envDefault:"media-tracker-data.json"`
	PlacesDocument string `env:"PLACES_DOCUMENT" envDefault:"places-data.json"`

	SyncDebounce         time.Duration `env:"SYNC_DEBOUNCE" envDefault:"2s"`
	ShareRefreshInterval time.Duration `env:"SHARE_REFRESH_INTERVAL" envDefault:"5m"`
	BackupLimit          int           `env:"BACKUP_LIMIT" envDefault:"10"`

	// ListenAddr is where the local UI API listens.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8095"`

	// SharesFile is an optional YAML list of joined users' shares to
	// track at startup.
	SharesFile string `env:"SHARES_FILE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath != "" {
		absPath, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = absPath
	}

	cfg.RemoteBaseURL = strings.TrimRight(cfg.RemoteBaseURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Environment != "development" && c.Environment != "production" {
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Environment)
	}

	if c.RemoteBaseURL != "" {
		u, err := url.Parse(c.RemoteBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("REMOTE_BASE_URL must be an absolute http(s) URL")
		}
	}

	if c.RemoteFolder == "" || strings.Contains(c.RemoteFolder, "/") {
		return fmt.Errorf("REMOTE_FOLDER must be a single non-empty path segment")
	}

	for name, doc := range map[string]string{
		"MEDIA_DOCUMENT":  c.MediaDocument,
		"PLACES_DOCUMENT": c.PlacesDocument,
	} {
		if doc == "" || strings.Contains(doc, "/") {
			return fmt.Errorf("%s must be a non-empty file name", name)
		}
	}

	if c.MediaDocument == c.PlacesDocument {
		return fmt.Errorf("MEDIA_DOCUMENT and PLACES_DOCUMENT must differ")
	}

	if c.SyncDebounce <= 0 {
		return fmt.Errorf("SYNC_DEBOUNCE must be positive")
	}

	if c.ShareRefreshInterval <= 0 {
		return fmt.Errorf("SHARE_REFRESH_INTERVAL must be positive")
	}

	if c.BackupLimit < 1 {
		return fmt.Errorf("BACKUP_LIMIT must be at least 1")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RemoteEnabled reports whether a remote document store is configured.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteBaseURL != ""
}

// Document returns the remote document name for a domain.
func (c *Config) Document(d models.Domain) string {
	if d == models.DomainPlaces {
		return c.PlacesDocument
	}

	return c.MediaDocument
}

// BackupDocument returns the remote name of a domain's backup mirror,
// e.g. media-tracker-data-backups.json.
func (c *Config) BackupDocument(d models.Domain) string {
	doc := c.Document(d)
	ext := filepath.Ext(doc)

	return strings.TrimSuffix(doc, ext) + backupSuffix + ext
}

// sharesFile is the on-disk layout of SHARES_FILE.
type sharesFile struct {
	Shares []models.Share `yaml:"shares"`
}

// LoadShares reads the joined-user shares listed in a YAML file:
//
//	shares:
//	  - id: sam
//	    owner: Sam
//	    share_id: 3f1c...
//
// Entries without an id use their share_id.
func LoadShares(path string) ([]models.Share, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading shares file: %w", err)
	}

	var f sharesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing shares file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Shares))

	for i := range f.Shares {
		sh := &f.Shares[i]

		sh.ShareID = strings.TrimSpace(sh.ShareID)
		if sh.ShareID == "" {
			return nil, fmt.Errorf("share entry %d: share_id is required", i+1)
		}

		if sh.ID == "" {
			sh.ID = sh.ShareID
		}

		if _, dup := seen[sh.ID]; dup {
			return nil, fmt.Errorf("duplicate share id %q in shares file", sh.ID)
		}

		seen[sh.ID] = struct{}{}
	}

	return f.Shares, nil
}
