package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

type Config struct {
	Library       LibraryConfig  `mapstructure:"library"`
	Store         StoreConfig    `mapstructure:"store"`
	StagingDir    string         `mapstructure:"staging_dir"`
	Compression   string         `mapstructure:"compression"`
	Keep          int            `mapstructure:"keep"`
	Retention     string         `mapstructure:"retention"`
	AllowInsecure bool           `mapstructure:"allow_insecure"`
	LogJSON       bool           `mapstructure:"log_json"`
	NoColor       bool           `mapstructure:"no_color"`
	Debug         bool           `mapstructure:"debug"`
	DefaultTarget string         `mapstructure:"default_target"`
	Targets       []TargetConfig `mapstructure:"targets"`
	Notifications Notifications  `mapstructure:"notifications"`
	Hooks         HooksConfig    `mapstructure:"hooks"`
}

// LibraryConfig locates the app library on disk: one directory per package
// under the APK root, per-user data directories under the data root.
type LibraryConfig struct {
	APKRoot  string `mapstructure:"apk_root"`
	DataRoot string `mapstructure:"data_root"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TargetConfig names a backup destination so commands can say --target nas
// instead of spelling out the URI.
type TargetConfig struct {
	Name string `mapstructure:"name"`
	URI  string `mapstructure:"uri"`
}

type Notifications struct {
	Slack    SlackConfig     `mapstructure:"slack"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Template   string `mapstructure:"template"`
}

type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Template string            `mapstructure:"template"`
	Headers  map[string]string `mapstructure:"headers"`
}

// HooksConfig holds the install/uninstall argv templates run around
// restores. Placeholders: {package}, {apk}, {user}.
type HooksConfig struct {
	Install   []string `mapstructure:"install"`
	Uninstall []string `mapstructure:"uninstall"`
	Timeout   string   `mapstructure:"timeout"`
}

// TimeoutDuration parses the hook timeout; zero means the built-in default.
func (h HooksConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(h.Timeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

var globalConfig *Config

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("appvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".appvault"))
		}
	}

	v.SetEnvPrefix("APPVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("compression", "zstd")
	v.SetDefault("allow_insecure", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	if home, err := os.UserHomeDir(); err == nil {
		v.SetDefault("library.apk_root", filepath.Join(home, ".appvault", "library", "apk"))
		v.SetDefault("library.data_root", filepath.Join(home, ".appvault", "library", "data"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		_ = v.Unmarshal(&globalConfig)
	})

	return nil
}

func GetConfig() *Config {
	if globalConfig == nil {
		return &Config{Compression: "zstd", Store: StoreConfig{Driver: "sqlite"}}
	}
	return globalConfig
}

// ResolveTarget maps a named target to its configured URI; anything that is
// not a configured name passes through as a URI. An empty argument falls
// back to default_target.
func (c *Config) ResolveTarget(s string) (string, error) {
	if s == "" {
		s = c.DefaultTarget
	}
	if s == "" {
		return "", apperrors.New(apperrors.TypeConfig, "no target given",
			"Pass --target or set default_target in the config.")
	}
	for _, t := range c.Targets {
		if t.Name == s {
			return t.URI, nil
		}
	}
	return s, nil
}
