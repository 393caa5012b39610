package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search
// for config files.
const maxUpwardSearchLevels = 10

var (
	configFileUsed string
	currentConfig  *Config
)

// configExistsIn checks if a datalign config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range []string{"datalign.yaml", "datalign.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRoot searches upward from startDir for a datalign config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig clears cached load state. Used for testing.
func ResetConfig() {
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// Project root anchors relative paths: explicit config file's
	// directory, else the nearest ancestor with a datalign.yaml, else CWD.
	projectRoot := ""
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}
	if projectRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectRoot = findProjectRoot(cwd)
			if projectRoot == "" {
				projectRoot = cwd
			}
		} else {
			projectRoot = "."
		}
	}

	// Paths given as flags are relative to CWD, not the project root.
	// Resolve them now to avoid double resolution below.
	flagPaths := map[string]string{}
	if flags != nil {
		for flagName, key := range map[string]string{
			"policies-dir": "policies_dir",
			"inbox":        "inbox",
			"state":        "state_path",
		} {
			if flags.Changed(flagName) {
				if v, _ := flags.GetString(flagName); v != "" {
					abs, err := filepath.Abs(v)
					if err != nil {
						abs = filepath.Clean(v)
					}
					flagPaths[key] = abs
				}
			}
		}
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"policies_dir": DefaultPoliciesDir,
		"inbox":        DefaultInbox,
		"state_path":   DefaultStateFile,
		"verbose":      false,
		"output":       DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		for _, name := range []string{"datalign.yaml", "datalign.yml"} {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
				break
			}
		}
	}
	configFileUsed = cfgFile
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables: DATALIGN_STATE_PATH -> state_path,
	// DATALIGN_WAREHOUSE__HOST -> warehouse.host
	if err := k.Load(env.Provider("DATALIGN_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "DATALIGN_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			// The CLI uses --state for brevity, the config key is state_path.
			if key == "state" {
				key = "state_path"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Weakly typed decoding lets numeric fields arrive as strings, which
	// is what env var overrides produce.
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Resolve relative paths against the project root, except those
	// explicitly given as flags.
	if v, ok := flagPaths["policies_dir"]; ok {
		cfg.PoliciesDir = v
	} else {
		cfg.PoliciesDir = resolvePathRelativeTo(cfg.PoliciesDir, projectRoot)
	}
	if v, ok := flagPaths["inbox"]; ok {
		cfg.Inbox = v
	} else {
		cfg.Inbox = resolvePathRelativeTo(cfg.Inbox, projectRoot)
	}
	if v, ok := flagPaths["state_path"]; ok {
		cfg.StatePath = v
	} else {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	}

	expandWarehouseEnvVars(cfg.Warehouse)

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// Available after LoadConfig has been called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger. This
// allows the commands package to retrieve the logger from context without
// creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandWarehouseEnvVars expands environment variables in sensitive
// warehouse fields.
func expandWarehouseEnvVars(w *WarehouseConfig) {
	if w == nil {
		return
	}
	w.Password = expandEnvVars(w.Password)
	w.User = expandEnvVars(w.User)
	w.Host = expandEnvVars(w.Host)
	w.Database = expandEnvVars(w.Database)
}
