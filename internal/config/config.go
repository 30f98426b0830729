// Package config handles configuration loading and management for phylorun.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/phylorun/internal/engine"
	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/internal/supervisor"
)

// Config holds all configuration for phylorun.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Engines    EnginesConfig    `mapstructure:"engines"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// EnginesConfig holds the external engine binaries.
type EnginesConfig struct {
	TNT     TNTConfig    `mapstructure:"tnt"`
	IQTree  EngineConfig `mapstructure:"iqtree"`
	MrBayes EngineConfig `mapstructure:"mrbayes"`
}

// EngineConfig holds one engine binary path or PATH name.
type EngineConfig struct {
	Path string `mapstructure:"path"`
}

// TNTConfig adds the generated run-file name.
type TNTConfig struct {
	Path   string `mapstructure:"path"`
	Script string `mapstructure:"script"`
}

// SupervisorConfig holds supervisor timing.
type SupervisorConfig struct {
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	StopPollInterval time.Duration `mapstructure:"stop_poll_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// CodecConfig holds the matrix tokens.
type CodecConfig struct {
	Missing           string `mapstructure:"missing"`
	Gap               string `mapstructure:"gap"`
	PolymorphismOpen  string `mapstructure:"polymorphism_open"`
	PolymorphismClose string `mapstructure:"polymorphism_close"`
}

// ConsensusConfig selects output trees.
type ConsensusConfig struct {
	BayesianTreeKey string `mapstructure:"bayesian_tree_key"`
	TNTTreeFile     string `mapstructure:"tnt_tree_file"`
	TNTIndexBase    int    `mapstructure:"tnt_index_base"`
}

// ArchiveConfig holds S3 archival settings.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (PHYLORUN_ENGINES_TNT_PATH, ...)
// 2. Project config (.phylorun.yaml in current directory or parent)
// 3. User config (~/.config/phylorun/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PHYLORUN")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.DataDir = expandPath(cfg.DataDir)
	return cfg, nil
}

// Save writes the configuration to the user config file. Archive
// credentials are written as given, so ${VAR} references survive.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("data_dir", cfg.DataDir)
	v.Set("engines.tnt.path", cfg.Engines.TNT.Path)
	v.Set("engines.tnt.script", cfg.Engines.TNT.Script)
	v.Set("engines.iqtree.path", cfg.Engines.IQTree.Path)
	v.Set("engines.mrbayes.path", cfg.Engines.MrBayes.Path)
	v.Set("supervisor.start_timeout", cfg.Supervisor.StartTimeout.String())
	v.Set("supervisor.stop_timeout", cfg.Supervisor.StopTimeout.String())
	v.Set("supervisor.stop_poll_interval", cfg.Supervisor.StopPollInterval.String())
	v.Set("supervisor.poll_interval", cfg.Supervisor.PollInterval.String())
	v.Set("codec.missing", cfg.Codec.Missing)
	v.Set("codec.gap", cfg.Codec.Gap)
	v.Set("codec.polymorphism_open", cfg.Codec.PolymorphismOpen)
	v.Set("codec.polymorphism_close", cfg.Codec.PolymorphismClose)
	v.Set("consensus.bayesian_tree_key", cfg.Consensus.BayesianTreeKey)
	v.Set("consensus.tnt_tree_file", cfg.Consensus.TNTTreeFile)
	v.Set("consensus.tnt_index_base", cfg.Consensus.TNTIndexBase)
	v.Set("archive.enabled", cfg.Archive.Enabled)
	v.Set("archive.bucket", cfg.Archive.Bucket)
	v.Set("archive.region", cfg.Archive.Region)
	v.Set("archive.endpoint", cfg.Archive.Endpoint)
	v.Set("archive.path_style", cfg.Archive.PathStyle)
	v.Set("archive.prefix", cfg.Archive.Prefix)
	v.Set("archive.access_key_id", cfg.Archive.AccessKeyID)
	v.Set("archive.secret_access_key", cfg.Archive.SecretAccessKey)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("engines.tnt.path", d.Engines.TNT.Path)
	v.SetDefault("engines.tnt.script", d.Engines.TNT.Script)
	v.SetDefault("engines.iqtree.path", d.Engines.IQTree.Path)
	v.SetDefault("engines.mrbayes.path", d.Engines.MrBayes.Path)

	v.SetDefault("supervisor.start_timeout", "10s")
	v.SetDefault("supervisor.stop_timeout", "5s")
	v.SetDefault("supervisor.stop_poll_interval", "500ms")
	v.SetDefault("supervisor.poll_interval", "0s")

	v.SetDefault("codec.missing", d.Codec.Missing)
	v.SetDefault("codec.gap", d.Codec.Gap)
	v.SetDefault("codec.polymorphism_open", d.Codec.PolymorphismOpen)
	v.SetDefault("codec.polymorphism_close", d.Codec.PolymorphismClose)

	v.SetDefault("consensus.bayesian_tree_key", d.Consensus.BayesianTreeKey)
	v.SetDefault("consensus.tnt_tree_file", d.Consensus.TNTTreeFile)
	v.SetDefault("consensus.tnt_index_base", d.Consensus.TNTIndexBase)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.path_style", false)
	v.SetDefault("archive.prefix", d.Archive.Prefix)
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tui.refresh_rate", "250ms")
}

// getUserConfigDir returns the XDG config directory for phylorun.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "phylorun")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "phylorun")
	}
	return filepath.Join(home, ".config", "phylorun")
}

// defaultDataDir returns the XDG data directory for phylorun.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "phylorun")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "phylorun")
	}
	return filepath.Join(home, ".local", "share", "phylorun")
}

// findProjectConfig searches for .phylorun.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".phylorun.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands ${VAR} references and a leading ~/.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Engines: EnginesConfig{
			TNT:     TNTConfig{Path: "tnt", Script: "phylorun.run"},
			IQTree:  EngineConfig{Path: "iqtree2"},
			MrBayes: EngineConfig{Path: "mb"},
		},
		Supervisor: SupervisorConfig{
			StartTimeout:     10 * time.Second,
			StopTimeout:      5 * time.Second,
			StopPollInterval: 500 * time.Millisecond,
		},
		Codec: CodecConfig{
			Missing:           "?",
			Gap:               "-",
			PolymorphismOpen:  "(",
			PolymorphismClose: ")",
		},
		Consensus: ConsensusConfig{
			BayesianTreeKey: "con_50_majrule",
			TNTTreeFile:     "phylorun_trees.tre",
			TNTIndexBase:    0,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "phylorun/",
		},
		TUI: TUIConfig{
			RefreshRate: 250 * time.Millisecond,
		},
	}
}

// CodecOptions returns the matrix codec settings.
func (c *Config) CodecOptions() format.Options {
	return format.Options{
		Missing: c.Codec.Missing,
		Gap:     c.Codec.Gap,
		Open:    c.Codec.PolymorphismOpen,
		Close:   c.Codec.PolymorphismClose,
	}
}

// EngineConfig returns the engine table settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		TNTPath:         c.Engines.TNT.Path,
		TNTScript:       c.Engines.TNT.Script,
		TNTTreeFile:     c.Consensus.TNTTreeFile,
		TNTIndexBase:    c.Consensus.TNTIndexBase,
		IQTreePath:      c.Engines.IQTree.Path,
		MrBayesPath:     c.Engines.MrBayes.Path,
		BayesianTreeKey: c.Consensus.BayesianTreeKey,
		Codec:           c.CodecOptions(),
	}
}

// SupervisorConfig returns the supervisor settings.
func (c *Config) SupervisorConfig() supervisor.Config {
	sc := supervisor.DefaultConfig(c.DataDir)
	sc.StartTimeout = c.Supervisor.StartTimeout
	sc.StopTimeout = c.Supervisor.StopTimeout
	sc.StopPollInterval = c.Supervisor.StopPollInterval
	sc.PollInterval = c.Supervisor.PollInterval
	return sc
}
