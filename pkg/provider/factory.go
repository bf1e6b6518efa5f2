package provider

import (
	"fmt"
	"time"
)

// Config holds provider configuration.
type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string // Optional: custom endpoint
	Timeout time.Duration
}

// NewFromConfig creates a Provider from a full Config. An empty name selects
// openai; "anthropic" (or "claude") selects the Anthropic client.
func NewFromConfig(cfg Config) (Provider, error) {
	switch cfg.Name {
	case "", "openai", "gpt":
		var opts []OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		return NewOpenAI(cfg.APIKey, cfg.Model, opts...), nil
	case "anthropic", "claude":
		var opts []AnthropicOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithAnthropicTimeout(cfg.Timeout))
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q (supported: anthropic, openai)", cfg.Name)
	}
}
