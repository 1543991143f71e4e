package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mbeavitt/Harvest/internal/api"
	"github.com/mbeavitt/Harvest/internal/blob"
	"github.com/mbeavitt/Harvest/internal/database"
	"github.com/mbeavitt/Harvest/internal/ingest"
)

// HarvestConfig is the user-supplied configuration for the whole server,
// loaded from a YAML file with environment variable overrides.
type HarvestConfig struct {
	Ingest    ingest.Config           `yaml:"ingest"`
	Database  database.DatabaseConfig `yaml:"database"`
	Blob      blob.BlobConfig         `yaml:"blob"`
	Rest      api.RestConfig          `yaml:"api"`
	YtDlpPath string                  `yaml:"ytdlp_path" env:"YTDLP_PATH"`
}

// LoadFromFile reads the YAML configuration at the given path, applying any
// environment overrides on top.
func (config *HarvestConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates the configuration from environment variables and
// defaults only, for deployments without a config file.
func (config *HarvestConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
