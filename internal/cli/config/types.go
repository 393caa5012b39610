// Package config provides configuration management for the datalign CLI.
//
// Configuration is layered: defaults, then datalign.yaml, then DATALIGN_
// environment variables, then flags. Commands read the loaded Config via
// GetCurrentConfig.
package config

import (
	"github.com/datalign/datalign/internal/warehouse"
)

// WarehouseConfig holds the publish target settings from datalign.yaml.
type WarehouseConfig struct {
	Type     string            `koanf:"type"` // duckdb, postgres
	Path     string            `koanf:"path"` // file path for file-based targets
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schema   string            `koanf:"schema"`
	Options  map[string]string `koanf:"options"`
}

// ToAdapterConfig converts the YAML shape into the warehouse adapter config.
func (w *WarehouseConfig) ToAdapterConfig() warehouse.Config {
	return warehouse.Config{
		Type:     w.Type,
		Path:     w.Path,
		Host:     w.Host,
		Port:     w.Port,
		Database: w.Database,
		Username: w.User,
		Password: w.Password,
		Schema:   w.Schema,
		Options:  w.Options,
	}
}

// Config holds all CLI configuration options.
type Config struct {
	PoliciesDir  string           `koanf:"policies_dir"`
	Inbox        string           `koanf:"inbox"`
	StatePath    string           `koanf:"state_path"`
	Verbose      bool             `koanf:"verbose"`
	OutputFormat string           `koanf:"output"`
	Warehouse    *WarehouseConfig `koanf:"warehouse"`
}

// Default configuration values.
const (
	DefaultPoliciesDir = "policies"
	DefaultInbox       = "inbox"
	DefaultStateFile   = ".datalign/state.db"
	DefaultOutput      = "table" // table|markdown|json
)
