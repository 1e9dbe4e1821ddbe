package config

import (
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/infra/redisstate"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Gateway  GatewayConfig     `yaml:"gateway"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Rules    RulesConfig       `yaml:"rules"`
	Data     DataConfig        `yaml:"data"`
	Redis    redisstate.Config `yaml:"redis"`
	Logging  LoggingConfig     `yaml:"logging"`
	Database postgres.Config   `yaml:"database"`
}

// ServerConfig holds classification service HTTP settings.
type ServerConfig struct {
	Port    int `yaml:"port"`
	Workers int `yaml:"workers"`
}

// GatewayConfig holds storage gateway settings. An empty URL means in-process:
// the classification service talks to storage directly instead of over HTTP.
type GatewayConfig struct {
	Port    int           `yaml:"port"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig holds chunk loop settings.
type PipelineConfig struct {
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// RulesConfig points at the rule dictionary.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// DataConfig holds filesystem locations for export files.
type DataConfig struct {
	FinalDir string `yaml:"final_dir"`
	// Retention deletes final exports older than this. 0 = keep forever.
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
