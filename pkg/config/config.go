// Package config loads quotebot settings from defaults, an optional TOML or
// YAML file, and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ollbud/quotebot/pkg/provider"
)

// ErrInvalid is wrapped by every validation and parse failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Provider        string        `toml:"provider" yaml:"provider"`
	APIKey          string        `toml:"api_key" yaml:"api_key"`
	BaseURL         string        `toml:"base_url" yaml:"base_url"`
	Model           string        `toml:"model" yaml:"model"` // empty: provider default
	Temperature     float64       `toml:"temperature" yaml:"temperature"`
	Timeout         time.Duration `toml:"timeout" yaml:"timeout"`
	MaxTokens       int           `toml:"max_tokens" yaml:"max_tokens"`
	QuickReply      bool          `toml:"quick_reply" yaml:"quick_reply"`
	CatalogPath     string        `toml:"catalog_path" yaml:"catalog_path"`
	CatalogMinScore float64       `toml:"catalog_min_score" yaml:"catalog_min_score"`
	PromptPath      string        `toml:"prompt_path" yaml:"prompt_path"`
	Addr            string        `toml:"addr" yaml:"addr"`
	Verbose         bool          `toml:"verbose" yaml:"verbose"`
	Quota           QuotaConfig   `toml:"quota" yaml:"quota"`
	Leads           LeadsConfig   `toml:"leads" yaml:"leads"`
}

// QuotaConfig selects the per-client daily request quota backend.
type QuotaConfig struct {
	Driver    string `toml:"driver" yaml:"driver"` // none, memory, file, redis
	DailyMax  int    `toml:"daily_max" yaml:"daily_max"`
	Path      string `toml:"path" yaml:"path"`
	RedisAddr string `toml:"redis_addr" yaml:"redis_addr"`
}

// LeadsConfig points at the SQLite lead log. An empty path disables it.
type LeadsConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Provider:        "openai",
		Temperature:     0.3,
		Timeout:         45 * time.Second,
		MaxTokens:       1024,
		QuickReply:      true,
		CatalogPath:     "data/knr.xlsx",
		CatalogMinScore: 50,
		Addr:            ":8080",
		Quota: QuotaConfig{
			Driver:   "memory",
			DailyMax: 3,
			Path:     "data/quota.json",
		},
	}
}

// Load reads defaults, then path (if non-empty), then the environment.
// The result is not validated; call Validate. A missing API key is not an
// error here: it is reported per request. Vendor key variables are read by
// ProviderConfig, not here, since the provider may still change.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrInvalid, path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrInvalid, path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q (want .toml, .yaml or .yml)", ErrInvalid, filepath.Ext(path))
	}
	return nil
}

func getenv(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v, true
		}
	}
	return "", false
}

func applyEnv(cfg *Config) error {
	if v, ok := getenv("QUOTEBOT_PROVIDER"); ok {
		cfg.Provider = v
	}

	if v, ok := getenv("QUOTEBOT_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := getenv("QUOTEBOT_BASE_URL"); ok {
		cfg.BaseURL = v
	}

	if v, ok := getenv("QUOTEBOT_MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := getenv("KNR_PATH", "KNR_XLSX_PATH"); ok {
		cfg.CatalogPath = v
	}
	if v, ok := getenv("QUOTEBOT_PROMPT_PATH"); ok {
		cfg.PromptPath = v
	}
	if v, ok := getenv("QUOTEBOT_ADDR"); ok {
		cfg.Addr = v
	}
	if v, ok := getenv("QUOTEBOT_QUOTA_DRIVER"); ok {
		cfg.Quota.Driver = v
	}
	if v, ok := getenv("QUOTEBOT_QUOTA_PATH"); ok {
		cfg.Quota.Path = v
	}
	if v, ok := getenv("QUOTEBOT_REDIS_ADDR"); ok {
		cfg.Quota.RedisAddr = v
	}
	if v, ok := getenv("QUOTEBOT_LEADS_PATH"); ok {
		cfg.Leads.Path = v
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := getenv(key); ok {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, v, err))
			}
		}
	}
	parse("QUOTEBOT_TEMPERATURE", func(v string) (err error) {
		cfg.Temperature, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("QUOTEBOT_TIMEOUT", func(v string) (err error) {
		cfg.Timeout, err = time.ParseDuration(v)
		return err
	})
	parse("QUOTEBOT_MAX_TOKENS", func(v string) (err error) {
		cfg.MaxTokens, err = strconv.Atoi(v)
		return err
	})
	parse("QUOTEBOT_QUICK_REPLY", func(v string) (err error) {
		cfg.QuickReply, err = strconv.ParseBool(v)
		return err
	})
	parse("QUOTEBOT_CATALOG_MIN_SCORE", func(v string) (err error) {
		cfg.CatalogMinScore, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("QUOTEBOT_QUOTA_DAILY_MAX", func(v string) (err error) {
		cfg.Quota.DailyMax, err = strconv.Atoi(v)
		return err
	})
	parse("QUOTEBOT_VERBOSE", func(v string) (err error) {
		cfg.Verbose, err = strconv.ParseBool(v)
		return err
	})
	return errors.Join(errs...)
}

func isOpenAI(name string) bool {
	switch strings.ToLower(name) {
	case "", "openai", "gpt":
		return true
	}
	return false
}

func providerKeyEnv(name string) string {
	if isOpenAI(name) {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.Provider) {
	case "", "openai", "gpt", "anthropic", "claude":
	default:
		bad("unknown provider %q", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		bad("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.Timeout <= 0 {
		bad("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxTokens <= 0 {
		bad("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.CatalogMinScore < 0 || c.CatalogMinScore > 100 {
		bad("catalog_min_score %v out of range [0, 100]", c.CatalogMinScore)
	}

	switch c.Quota.Driver {
	case "", "none":
	case "memory", "file", "redis":
		if c.Quota.DailyMax <= 0 {
			bad("quota.daily_max must be positive, got %d", c.Quota.DailyMax)
		}
		if c.Quota.Driver == "file" && c.Quota.Path == "" {
			bad("quota.path is required for the file driver")
		}
		if c.Quota.Driver == "redis" && c.Quota.RedisAddr == "" {
			bad("quota.redis_addr is required for the redis driver")
		}
	default:
		bad("unknown quota driver %q", c.Quota.Driver)
	}
	return errors.Join(errs...)
}

// ProviderConfig maps the settings onto a provider factory config. An
// unset key or base URL falls back to the vendor variables of the selected
// provider (OPENAI_API_KEY and OPENAI_BASE_URL, or ANTHROPIC_API_KEY), so
// it must be called after every override of Provider.
func (c Config) ProviderConfig() provider.Config {
	apiKey := c.APIKey
	if apiKey == "" {
		apiKey, _ = getenv(providerKeyEnv(c.Provider))
	}
	baseURL := c.BaseURL
	if baseURL == "" && isOpenAI(c.Provider) {
		baseURL, _ = getenv("OPENAI_BASE_URL")
	}
	return provider.Config{
		Name:    strings.ToLower(c.Provider),
		APIKey:  apiKey,
		Model:   c.Model,
		BaseURL: baseURL,
		Timeout: c.Timeout,
	}
}
