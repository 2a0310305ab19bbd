// Package config loads application configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config is the application configuration.
type Config struct {
	Store   StoreConfig
	Gemini  GeminiConfig
	Archive ArchiveConfig
	Notion  NotionConfig
	Port    string
}

// StoreConfig selects and parameterizes the ledger persistence backend.
type StoreConfig struct {
	// Backend is one of "file", "sqlite", "gcs" or "memory".
	Backend string
	// LedgerPath is the JSON document path for the file backend.
	LedgerPath string
	// DBPath is the database path for the sqlite backend.
	DBPath string
	// GCSBucket and GCSObject locate the document for the gcs backend.
	GCSBucket string
	GCSObject string
	// StagingPath is where the CLI keeps the entry staged between
	// invocations. It is separate from the ledger document.
	StagingPath string
}

// GeminiConfig parameterizes the receipt extractor.
type GeminiConfig struct {
	Model string
}

// ArchiveConfig parameterizes the optional BigQuery transaction mirror.
type ArchiveConfig struct {
	ProjectID string
	DatasetID string
}

// NotionConfig parameterizes the optional Notion mirror.
type NotionConfig struct {
	Token      string
	DatabaseID string
}

// Load reads configuration from the environment, first loading a .env
// file if one exists. A custom .env path may be supplied.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("loading env file %q: %w", envPath[0], err)
		}
	} else {
		// .env in the working directory is optional.
		_ = godotenv.Load()
	}

	dataDir := getEnvOrDefault("OKOZUKAI_DATA_DIR", defaultDataDir())

	cfg := &Config{
		Store: StoreConfig{
			Backend:     getEnvOrDefault("OKOZUKAI_STORE", "file"),
			LedgerPath:  getEnvOrDefault("OKOZUKAI_LEDGER_PATH", filepath.Join(dataDir, "ledger.json")),
			DBPath:      getEnvOrDefault("OKOZUKAI_DB_PATH", filepath.Join(dataDir, "okozukai.db")),
			GCSBucket:   os.Getenv("OKOZUKAI_GCS_BUCKET"),
			GCSObject:   getEnvOrDefault("OKOZUKAI_GCS_OBJECT", "ledger.json"),
			StagingPath: getEnvOrDefault("OKOZUKAI_STAGING_PATH", filepath.Join(dataDir, "pending.json")),
		},
		Gemini: GeminiConfig{
			Model: os.Getenv("OKOZUKAI_GEMINI_MODEL"),
		},
		Archive: ArchiveConfig{
			ProjectID: os.Getenv("OKOZUKAI_BQ_PROJECT"),
			DatasetID: getEnvOrDefault("OKOZUKAI_BQ_DATASET", "okozukai"),
		},
		Notion: NotionConfig{
			Token:      os.Getenv("NOTION_TOKEN"),
			DatabaseID: os.Getenv("NOTION_DATABASE_ID"),
		},
		Port: getEnvOrDefault("PORT", "8080"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "sqlite", "memory":
	case "gcs":
		if c.Store.GCSBucket == "" {
			return fmt.Errorf("OKOZUKAI_GCS_BUCKET is required for the gcs store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want file, sqlite, gcs or memory)", c.Store.Backend)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".okozukai"
	}
	return filepath.Join(home, ".okozukai")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
