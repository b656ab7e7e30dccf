package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/scrollback/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SCROLLBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("history.mode", cfg.History.Mode)
	v.SetDefault("history.max_lines", cfg.History.MaxLines)
	v.SetDefault("export.chunk_lines", cfg.Export.ChunkLines)
	v.SetDefault("export.default_format", cfg.Export.DefaultFormat)
	v.SetDefault("export.output_dir", cfg.Export.OutputDir)
	v.SetDefault("export.compress", cfg.Export.Compress)
	v.SetDefault("export.overwrite", cfg.Export.Overwrite)
	v.SetDefault("search.match_case", cfg.Search.MatchCase)
	v.SetDefault("search.regexp", cfg.Search.RegExp)
	v.SetDefault("search.pattern_history", cfg.Search.PatternHistory)
	v.SetDefault("monitor.silence_seconds", cfg.Monitor.SilenceSeconds)
	v.SetDefault("remote.addr", cfg.Remote.Addr)
	v.SetDefault("remote.output_dir", cfg.Remote.OutputDir)
	v.SetDefault("remote.compress", cfg.Remote.Compress)
	v.SetDefault("gcs.enabled", cfg.GCS.Enabled)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("feeds", cfg.Feeds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// viper reports a missing explicit config file as a plain fs error.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func validate(cfg Config) error {
	switch schema.HistoryMode(cfg.History.Mode) {
	case schema.HistoryUnlimited, schema.HistoryNone:
	case schema.HistoryFixed:
		if cfg.History.MaxLines <= 0 {
			return fmt.Errorf("history.max_lines must be positive for fixed history")
		}
	default:
		return fmt.Errorf("unsupported history.mode %q", cfg.History.Mode)
	}
	if _, err := schema.ParseFormat(cfg.Export.DefaultFormat); err != nil {
		return fmt.Errorf("export.default_format: %w", err)
	}
	if cfg.Export.ChunkLines < 0 {
		return fmt.Errorf("export.chunk_lines must not be negative")
	}
	if cfg.Monitor.SilenceSeconds < 0 {
		return fmt.Errorf("monitor.silence_seconds must not be negative")
	}
	for i, feed := range cfg.Feeds {
		if strings.TrimSpace(feed.Path) == "" {
			return fmt.Errorf("feeds[%d].path is required", i)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Export.OutputDir = expandEnv(cfg.Export.OutputDir)
	cfg.Remote.OutputDir = expandEnv(cfg.Remote.OutputDir)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	for i := range cfg.Feeds {
		cfg.Feeds[i].Path = expandEnv(cfg.Feeds[i].Path)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
