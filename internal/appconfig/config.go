package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/scrollback/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	History       HistoryConfig `mapstructure:"history" yaml:"history"`
	Export        ExportConfig  `mapstructure:"export" yaml:"export"`
	Search        SearchConfig  `mapstructure:"search" yaml:"search"`
	Monitor       MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Remote        RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	GCS           GCSConfig     `mapstructure:"gcs" yaml:"gcs"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	Feeds         []FeedConfig  `mapstructure:"feeds" yaml:"feeds"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HistoryConfig controls how much output each session keeps.
type HistoryConfig struct {
	Mode     string `mapstructure:"mode" yaml:"mode"`
	MaxLines int    `mapstructure:"max_lines" yaml:"max_lines"`
}

// ExportConfig controls history export.
type ExportConfig struct {
	ChunkLines    int    `mapstructure:"chunk_lines" yaml:"chunk_lines"`
	DefaultFormat string `mapstructure:"default_format" yaml:"default_format"`
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	Compress      bool   `mapstructure:"compress" yaml:"compress"`
	Overwrite     bool   `mapstructure:"overwrite" yaml:"overwrite"`
}

// SearchConfig sets search defaults.
type SearchConfig struct {
	MatchCase      bool `mapstructure:"match_case" yaml:"match_case"`
	RegExp         bool `mapstructure:"regexp" yaml:"regexp"`
	PatternHistory int  `mapstructure:"pattern_history" yaml:"pattern_history"`
}

// MonitorConfig controls activity and silence monitoring.
type MonitorConfig struct {
	SilenceSeconds int `mapstructure:"silence_seconds" yaml:"silence_seconds"`
}

// RemoteConfig configures the gRPC export collector.
type RemoteConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Compress  bool   `mapstructure:"compress" yaml:"compress"`
}

// GCSConfig enables gs:// export destinations.
type GCSConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SSHConfig configures the SSH server.
type SSHConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
}

// FeedConfig names a log file that serve follows into its own session.
type FeedConfig struct {
	Title     string `mapstructure:"title" yaml:"title"`
	Path      string `mapstructure:"path" yaml:"path"`
	FromStart bool   `mapstructure:"from_start" yaml:"from_start"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".scrollback")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(base, "state"),
		History: HistoryConfig{
			Mode:     string(schema.HistoryUnlimited),
			MaxLines: 10000,
		},
		Export: ExportConfig{
			ChunkLines:    schema.DefaultChunkLines,
			DefaultFormat: string(schema.FormatPlain),
			OutputDir:     filepath.Join(base, "exports"),
		},
		Search: SearchConfig{
			PatternHistory: schema.DefaultPatternHistory,
		},
		Monitor: MonitorConfig{
			SilenceSeconds: int(schema.DefaultSilenceTimeout / time.Second),
		},
		Remote: RemoteConfig{
			Addr:      ":27490",
			OutputDir: filepath.Join(base, "collected"),
		},
		SSH: SSHConfig{
			Addr:               ":27422",
			HostKeyPath:        filepath.Join(base, "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(home, ".ssh", "authorized_keys"),
		},
		Feeds: []FeedConfig{},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".scrollback", "config.yaml"), nil
}

// ServiceConfig converts the loaded settings into the task framework config.
func (c Config) ServiceConfig() (schema.ServiceConfig, error) {
	format, err := schema.ParseFormat(c.Export.DefaultFormat)
	if err != nil {
		return schema.ServiceConfig{}, err
	}
	return schema.ServiceConfig{
		ChunkLines:     c.Export.ChunkLines,
		DefaultFormat:  format,
		HistoryMode:    schema.HistoryMode(c.History.Mode),
		HistoryMax:     c.History.MaxLines,
		MatchCase:      c.Search.MatchCase,
		MatchRegExp:    c.Search.RegExp,
		PatternHistory: c.Search.PatternHistory,
		SilenceTimeout: time.Duration(c.Monitor.SilenceSeconds) * time.Second,
	}.WithDefaults(), nil
}
