package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify phylorun configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/phylorun/config.yaml
Project-specific overrides can be placed in .phylorun.yaml
Environment variables override both, e.g. PHYLORUN_ENGINES_TNT_PATH.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKey is one dot-notation setting.
type configKey struct {
	name string
	get  func(*config.Config) string
	set  func(*config.Config, string) error
}

func stringKey(name string, field func(*config.Config) *string) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return *field(c) },
		set: func(c *config.Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func secretKey(name string, field func(*config.Config) *string) configKey {
	k := stringKey(name, field)
	k.get = func(c *config.Config) string { return config.MaskSecret(*field(c)) }
	return k
}

func durationKey(name string, field func(*config.Config) *time.Duration) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return field(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", name, err)
			}
			*field(c) = d
			return nil
		},
	}
}

func boolKey(name string, field func(*config.Config) *bool) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func intKey(name string, field func(*config.Config) *int) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

var configKeys = []configKey{
	stringKey("data_dir", func(c *config.Config) *string { return &c.DataDir }),
	stringKey("engines.tnt.path", func(c *config.Config) *string { return &c.Engines.TNT.Path }),
	stringKey("engines.tnt.script", func(c *config.Config) *string { return &c.Engines.TNT.Script }),
	stringKey("engines.iqtree.path", func(c *config.Config) *string { return &c.Engines.IQTree.Path }),
	stringKey("engines.mrbayes.path", func(c *config.Config) *string { return &c.Engines.MrBayes.Path }),
	durationKey("supervisor.start_timeout", func(c *config.Config) *time.Duration { return &c.Supervisor.StartTimeout }),
	durationKey("supervisor.stop_timeout", func(c *config.Config) *time.Duration { return &c.Supervisor.StopTimeout }),
	durationKey("supervisor.stop_poll_interval", func(c *config.Config) *time.Duration { return &c.Supervisor.StopPollInterval }),
	durationKey("supervisor.poll_interval", func(c *config.Config) *time.Duration { return &c.Supervisor.PollInterval }),
	stringKey("codec.missing", func(c *config.Config) *string { return &c.Codec.Missing }),
	stringKey("codec.gap", func(c *config.Config) *string { return &c.Codec.Gap }),
	stringKey("codec.polymorphism_open", func(c *config.Config) *string { return &c.Codec.PolymorphismOpen }),
	stringKey("codec.polymorphism_close", func(c *config.Config) *string { return &c.Codec.PolymorphismClose }),
	stringKey("consensus.bayesian_tree_key", func(c *config.Config) *string { return &c.Consensus.BayesianTreeKey }),
	stringKey("consensus.tnt_tree_file", func(c *config.Config) *string { return &c.Consensus.TNTTreeFile }),
	intKey("consensus.tnt_index_base", func(c *config.Config) *int { return &c.Consensus.TNTIndexBase }),
	boolKey("archive.enabled", func(c *config.Config) *bool { return &c.Archive.Enabled }),
	stringKey("archive.bucket", func(c *config.Config) *string { return &c.Archive.Bucket }),
	stringKey("archive.region", func(c *config.Config) *string { return &c.Archive.Region }),
	stringKey("archive.endpoint", func(c *config.Config) *string { return &c.Archive.Endpoint }),
	boolKey("archive.path_style", func(c *config.Config) *bool { return &c.Archive.PathStyle }),
	stringKey("archive.prefix", func(c *config.Config) *string { return &c.Archive.Prefix }),
	secretKey("archive.access_key_id", func(c *config.Config) *string { return &c.Archive.AccessKeyID }),
	secretKey("archive.secret_access_key", func(c *config.Config) *string { return &c.Archive.SecretAccessKey }),
	stringKey("metrics.addr", func(c *config.Config) *string { return &c.Metrics.Addr }),
	durationKey("tui.refresh_rate", func(c *config.Config) *time.Duration { return &c.TUI.RefreshRate }),
}

func lookupConfigKey(key string) (configKey, error) {
	key = strings.ToLower(key)
	for _, k := range configKeys {
		if k.name == key {
			return k, nil
		}
	}
	return configKey{}, fmt.Errorf("unknown configuration key: %s", key)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, k := range configKeys {
		fmt.Printf("%s: %s\n", k.name, k.get(cfg))
	}
	if cfg.Archive.Enabled {
		fmt.Printf("# archive credentials: %s\n", config.ArchiveCredentialSource(cfg))
	}
	fmt.Printf("# user config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("# project config: %s\n", p)
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	shown, _ := getConfigValue(cfg, key)
	fmt.Printf("Set %s = %s\n", key, shown)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	k, err := lookupConfigKey(key)
	if err != nil {
		return "", err
	}
	return k.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	k, err := lookupConfigKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, value)
}
