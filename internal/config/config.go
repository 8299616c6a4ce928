package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	ConnectAttempts uint64        `mapstructure:"connect_attempts"`
}

type MaintenanceConfig struct {
	CooldownPurgeSpec string        `mapstructure:"cooldown_purge_spec"`
	JobRetention      time.Duration `mapstructure:"job_retention"` // 0 disables the terminal-job sweep
	JobSweepSpec      string        `mapstructure:"job_sweep_spec"`
}

type Config struct {
	DatabaseURL       string            `mapstructure:"database_url"`        // app state store
	TargetDatabaseURL string            `mapstructure:"target_database_url"` // sync destination
	ServerPort        string            `mapstructure:"server_port"`
	Worker            WorkerConfig      `mapstructure:"worker"`
	Maintenance       MaintenanceConfig `mapstructure:"maintenance"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file")
	}
	if config.TargetDatabaseURL == "" {
		log.Fatal("target_database_url must be set in the config file")
	}
	if config.Worker.PollInterval == 0 {
		config.Worker.PollInterval = 2 * time.Second
	}
	if config.Worker.Concurrency <= 0 {
		config.Worker.Concurrency = 4
	}
	if config.Worker.ConnectAttempts == 0 {
		config.Worker.ConnectAttempts = 3
	}
	if config.Maintenance.CooldownPurgeSpec == "" {
		config.Maintenance.CooldownPurgeSpec = "@every 10m"
	}
	if config.Maintenance.JobSweepSpec == "" {
		config.Maintenance.JobSweepSpec = "@hourly"
	}

	return &config
}
