// Package config loads the settings of a statistics run from flags,
// environment variables, an optional config file and a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by the tool.
const EnvPrefix = "TEMPLATE_STATS"

// TokenEnv is the variable holding the GitHub token.
const TokenEnv = "GITHUB_TOKEN"

const (
	DefaultFolder            = "Templates"
	DefaultOutput            = "docs/stats.json"
	DefaultCache             = "docs/reviewers_cache.json"
	DefaultEnvFile           = ".env"
	DefaultConcurrency       = 4
	DefaultMaxRetries        = 5
	DefaultRequestsPerSecond = 10.0
)

// Config holds the settings of one run.
type Config struct {
	Folder            string  `mapstructure:"folder"`
	Owner             string  `mapstructure:"repo_owner"`
	Name              string  `mapstructure:"repo_name"`
	Remote            string  `mapstructure:"remote"`
	Output            string  `mapstructure:"output"`
	Cache             string  `mapstructure:"cache"`
	Concurrency       int     `mapstructure:"concurrency"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Verbose           bool    `mapstructure:"verbose"`

	Token string `mapstructure:"-"`
}

// HasRepository reports whether owner and name were given explicitly.
func (c *Config) HasRepository() bool {
	return c.Owner != "" && c.Name != ""
}

// Repository returns the explicitly configured repository.
func (c *Config) Repository() domain.Repository {
	return domain.Repository{Owner: c.Owner, Name: c.Name}
}

// Key maps a flag name to its configuration key.
func Key(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// BindFlags binds every flag of flags to the key derived from its name.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" {
			return
		}
		err = v.BindPFlag(Key(f.Name), f)
	})
	return err
}

// Load resolves the configuration. configFile may be empty, in which case
// template-stats.yaml is looked up in the working directory. The .env file
// at envFile only supplies variables missing from the environment.
func Load(v *viper.Viper, fsys afero.Fs, configFile, envFile string) (*Config, error) {
	setDefaults(v)
	v.SetFs(fsys)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("template-stats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	dotenv, err := readDotEnv(fsys, envFile)
	if err != nil {
		return nil, err
	}
	cfg.Token = lookupToken(v, dotenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("folder", DefaultFolder)
	v.SetDefault("repo_owner", "")
	v.SetDefault("repo_name", "")
	v.SetDefault("remote", "")
	v.SetDefault("output", DefaultOutput)
	v.SetDefault("cache", DefaultCache)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("verbose", false)
}

func readDotEnv(fsys afero.Fs, path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	env, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return env, nil
}

// lookupToken prefers the process environment over the .env file.
func lookupToken(v *viper.Viper, dotenv map[string]string) string {
	if err := v.BindEnv("github_token", TokenEnv, EnvPrefix+"_"+TokenEnv); err == nil {
		if token := strings.TrimSpace(v.GetString("github_token")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(dotenv[TokenEnv])
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Folder) == "" {
		return domain.NewConfigurationError("--folder must not be empty")
	}
	if (c.Owner == "") != (c.Name == "") {
		return domain.NewConfigurationError("--repo-owner and --repo-name must be given together")
	}
	if c.Remote != "" && c.HasRepository() {
		return domain.NewConfigurationError("--remote cannot be combined with --repo-owner/--repo-name")
	}
	if c.Concurrency < 1 {
		return domain.NewConfigurationError("--concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 0 {
		return domain.NewConfigurationError("--max-retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RequestsPerSecond < 0 {
		return domain.NewConfigurationError("requests_per_second must not be negative, got %g", c.RequestsPerSecond)
	}
	if c.Token == "" {
		return domain.NewConfigurationError("%s is not set in the environment or .env file", TokenEnv)
	}
	return nil
}
