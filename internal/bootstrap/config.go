package bootstrap

import (
	"fmt"

	infraconfig "github.com/ironscout/harvester/infrastructure/config"
	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/config"
)

// ServiceName is attached to every log entry and the health response.
const ServiceName = "harvester"

// CommandDeps holds the config and logger every command starts from.
type CommandDeps struct {
	Logger logger.Logger
	Config *config.Config
}

// NewCommandDeps loads and validates config, then creates the logger.
// An empty configPath falls back to CONFIG_PATH, then config.yml.
func NewCommandDeps(configPath string) (*CommandDeps, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(logger.String("service", ServiceName))

	return &CommandDeps{Logger: log, Config: cfg}, nil
}

// LoadConfig loads and validates the configuration file.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = infraconfig.GetConfigPath(config.DefaultPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}
	return cfg, nil
}
