// Package config holds the harvester scheduler configuration and its defaults.
package config

import (
	"fmt"
	"time"

	infraconfig "github.com/ironscout/harvester/infrastructure/config"
	"github.com/ironscout/harvester/infrastructure/logger"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is given.
const DefaultPath = "config.yml"

// Scheduling modes.
const (
	// ModeAdapter schedules whole adapters through cycles.
	ModeAdapter = "adapter"
	// ModeTarget schedules individual targets by their own cron.
	ModeTarget = "target"
)

// Scheduler defaults.
const (
	defaultTickInterval          = 60 * time.Second
	defaultMaxTargetsPerTick     = 100
	defaultManualTriggersPerTick = 20
	defaultStaleRunAfter         = 30 * time.Minute
	defaultMaintenanceInterval   = time.Hour
	defaultMaxConsecutiveDefers  = 30
)

// Queue defaults.
const (
	defaultQueueCapacity        = 10000
	defaultMaxPendingPerAdapter = 2000
	defaultRejectRetryAfter     = 5 * time.Second
	defaultQueueKeyPrefix       = "harvester:queue"
)

// Maintenance defaults.
const (
	defaultStaleTargetAfter     = 24 * time.Hour
	defaultBrokenRetention      = 90 * 24 * time.Hour
	defaultRecheckInterval      = 7 * 24 * time.Hour
	defaultRecheckBatchSize     = 50
	defaultStaleQueueEntryAge   = 24 * time.Hour
	defaultStaleTargetAlertSize = 100
)

// Config is the full harvester configuration.
type Config struct {
	Server      infraconfig.ServerConfig   `yaml:"server"`
	Database    infraconfig.DatabaseConfig `yaml:"database"`
	Redis       infraconfig.RedisConfig    `yaml:"redis"`
	Logging     logger.Config              `yaml:"logging"`
	Queue       QueueConfig                `yaml:"queue"`
	Scheduler   SchedulerConfig            `yaml:"scheduler"`
	Maintenance MaintenanceConfig          `yaml:"maintenance"`
	Adapters    []AdapterConfig            `yaml:"adapters"`
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	// Enabled is the fallback when no persisted flag exists.
	Enabled               bool          `env:"SCHEDULER_ENABLED"           yaml:"enabled"`
	Mode                  string        `env:"SCHEDULER_MODE"              yaml:"mode"`
	TickInterval          time.Duration `env:"SCHEDULER_TICK_INTERVAL"     yaml:"tick_interval"`
	MaxTargetsPerTick     int           `env:"SCHEDULER_MAX_TARGETS"       yaml:"max_targets_per_tick"`
	AdapterEnabledCheck   *bool         `yaml:"adapter_enabled_check"`
	ManualTriggersPerTick int           `yaml:"manual_triggers_per_tick"`
	StaleRunAfter         time.Duration `yaml:"stale_run_after"`
	MaintenanceInterval   time.Duration `yaml:"maintenance_interval"`
	MaxConsecutiveDefers  int           `yaml:"max_consecutive_defers"`
}

// CheckAdapterEnabled reports whether legacy target mode consults adapter status.
func (c SchedulerConfig) CheckAdapterEnabled() bool {
	return c.AdapterEnabledCheck == nil || *c.AdapterEnabledCheck
}

// QueueConfig controls the Redis job queue.
type QueueConfig struct {
	KeyPrefix            string        `env:"QUEUE_KEY_PREFIX" yaml:"key_prefix"`
	Capacity             int           `env:"QUEUE_CAPACITY"   yaml:"capacity"`
	MaxPendingPerAdapter int           `yaml:"max_pending_per_adapter"`
	RejectRetryAfter     time.Duration `yaml:"reject_retry_after"`
}

// MaintenanceConfig controls housekeeping jobs.
type MaintenanceConfig struct {
	StaleTargetAfter     time.Duration `yaml:"stale_target_after"`
	BrokenRetention      time.Duration `yaml:"broken_retention"`
	RecheckInterval      time.Duration `yaml:"recheck_interval"`
	RecheckBatchSize     int           `yaml:"recheck_batch_size"`
	StaleQueueEntryAge   time.Duration `yaml:"stale_queue_entry_age"`
	StaleTargetAlertSize int           `yaml:"stale_target_alert_size"`
}

// AdapterConfig registers an adapter implementation with the scheduler.
type AdapterConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Load reads the config file at path and applies defaults and env overrides.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, SetDefaults)
}

// SetDefaults fills every unset field.
func SetDefaults(cfg *Config) {
	cfg.Server.SetDefaults()
	cfg.Database.SetDefaults()
	cfg.Redis.SetDefaults()
	cfg.Logging.SetDefaults()
	cfg.Queue.setDefaults()
	cfg.Scheduler.setDefaults()
	cfg.Maintenance.setDefaults()
}

func (c *SchedulerConfig) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAdapter
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.MaxTargetsPerTick == 0 {
		c.MaxTargetsPerTick = defaultMaxTargetsPerTick
	}
	if c.ManualTriggersPerTick == 0 {
		c.ManualTriggersPerTick = defaultManualTriggersPerTick
	}
	if c.StaleRunAfter == 0 {
		c.StaleRunAfter = defaultStaleRunAfter
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.MaxConsecutiveDefers == 0 {
		c.MaxConsecutiveDefers = defaultMaxConsecutiveDefers
	}
}

func (c *QueueConfig) setDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultQueueKeyPrefix
	}
	if c.Capacity == 0 {
		c.Capacity = defaultQueueCapacity
	}
	if c.MaxPendingPerAdapter == 0 {
		c.MaxPendingPerAdapter = defaultMaxPendingPerAdapter
	}
	if c.RejectRetryAfter == 0 {
		c.RejectRetryAfter = defaultRejectRetryAfter
	}
}

func (c *MaintenanceConfig) setDefaults() {
	if c.StaleTargetAfter == 0 {
		c.StaleTargetAfter = defaultStaleTargetAfter
	}
	if c.BrokenRetention == 0 {
		c.BrokenRetention = defaultBrokenRetention
	}
	if c.RecheckInterval == 0 {
		c.RecheckInterval = defaultRecheckInterval
	}
	if c.RecheckBatchSize == 0 {
		c.RecheckBatchSize = defaultRecheckBatchSize
	}
	if c.StaleQueueEntryAge == 0 {
		c.StaleQueueEntryAge = defaultStaleQueueEntryAge
	}
	if c.StaleTargetAlertSize == 0 {
		c.StaleTargetAlertSize = defaultStaleTargetAlertSize
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := infraconfig.ValidatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidateRequired("redis.address", c.Redis.Address); err != nil {
		return err
	}
	if err := infraconfig.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Scheduler.Mode != ModeAdapter && c.Scheduler.Mode != ModeTarget {
		return &infraconfig.ValidationError{
			Field:   "scheduler.mode",
			Message: fmt.Sprintf("must be %q or %q", ModeAdapter, ModeTarget),
		}
	}
	if err := infraconfig.ValidatePositive("scheduler.max_targets_per_tick", c.Scheduler.MaxTargetsPerTick); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("queue.capacity", c.Queue.Capacity); err != nil {
		return err
	}
	for i, a := range c.Adapters {
		if err := infraconfig.ValidateRequired(fmt.Sprintf("adapters[%d].id", i), a.ID); err != nil {
			return err
		}
	}
	return nil
}
