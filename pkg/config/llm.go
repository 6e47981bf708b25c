package config

import (
	"fmt"
	"strings"
	"time"
)

// ProviderRoute identifies one concrete provider/model endpoint.
type ProviderRoute struct {
	Provider string `yaml:"provider" json:"provider" jsonschema:"enum=openai,enum=anthropic,enum=ollama"`
	Model    string `yaml:"model" json:"model"`

	// BaseURL overrides the provider's conventional endpoint. All
	// providers are addressed through their OpenAI-compatible surface.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKeyEnv names the env var holding the key. Empty means the
	// conventional variable for the provider (OPENAI_API_KEY, ...).
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
}

// Name returns the provider/model pair in its canonical spec form.
func (r ProviderRoute) Name() string {
	return r.Provider + "/" + r.Model
}

// APIKey resolves the route's API key from the environment.
func (r ProviderRoute) APIKey() string {
	if r.APIKeyEnv != "" {
		return envString(r.APIKeyEnv, "")
	}
	return ProviderAPIKey(r.Provider)
}

// ParseProviderSpec parses "provider/model" into a route with the
// provider's default base URL.
func ParseProviderSpec(spec string) (ProviderRoute, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ProviderRoute{}, fmt.Errorf("invalid provider spec %q (want provider/model)", spec)
	}
	r := ProviderRoute{Provider: parts[0], Model: parts[1]}
	r.BaseURL = defaultBaseURL(r.Provider)
	return r, nil
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return envString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	case "anthropic":
		return envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1")
	case "ollama":
		return envString("OLLAMA_BASE_URL", "http://localhost:11434/v1")
	default:
		return ""
	}
}

// ModelRoute maps a logical model tag to a primary route plus ordered
// fallbacks.
type ModelRoute struct {
	Primary   ProviderRoute   `yaml:"primary" json:"primary"`
	Fallbacks []ProviderRoute `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
}

// Candidates returns primary followed by fallbacks, in order.
func (m ModelRoute) Candidates() []ProviderRoute {
	out := make([]ProviderRoute, 0, 1+len(m.Fallbacks))
	out = append(out, m.Primary)
	out = append(out, m.Fallbacks...)
	return out
}

// BreakerConfig parameterizes a circuit breaker.
type BreakerConfig struct {
	FailThreshold int `yaml:"fail_threshold,omitempty" json:"fail_threshold,omitempty" jsonschema:"minimum=1,default=5"`
	ResetSeconds  int `yaml:"reset_seconds,omitempty" json:"reset_seconds,omitempty" jsonschema:"minimum=1,default=60"`
}

func (c *BreakerConfig) SetDefaults() {
	if c.FailThreshold == 0 {
		c.FailThreshold = 5
	}
	if c.ResetSeconds == 0 {
		c.ResetSeconds = 60
	}
}

func (c *BreakerConfig) applyEnv() {
	if v := envInt("CIRCUIT_BREAKER_FAIL_THRESHOLD", 0); v > 0 {
		c.FailThreshold = v
	}
	if v := envInt("CIRCUIT_BREAKER_RESET_SECONDS", 0); v > 0 {
		c.ResetSeconds = v
	}
}

// ResetTimeout returns the open-state cooling period.
func (c BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetSeconds) * time.Second
}

// RetryConfig parameterizes the retry loop around one provider route.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" jsonschema:"minimum=1,default=4"`
	BaseDelaySeconds int `yaml:"base_delay_seconds,omitempty" json:"base_delay_seconds,omitempty" jsonschema:"minimum=1,default=2"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds,omitempty" json:"max_delay_seconds,omitempty" jsonschema:"minimum=1,default=16"`
}

func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.BaseDelaySeconds == 0 {
		c.BaseDelaySeconds = 2
	}
	if c.MaxDelaySeconds == 0 {
		c.MaxDelaySeconds = 16
	}
}

// BaseDelay returns the first backoff delay.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the backoff cap.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// PoolConfig parameterizes the shared HTTP transport.
type PoolConfig struct {
	MaxConns           int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=1,default=100"`
	MaxIdleConns       int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty" jsonschema:"minimum=1,default=20"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds,omitempty" json:"idle_timeout_seconds,omitempty" jsonschema:"minimum=1,default=30"`
}

func (c *PoolConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 100
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 20
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = 30
	}
}

// IdleTimeout returns the keepalive expiry as a duration.
func (c PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// LLMGatewayConfig configures the LLM gateway service.
type LLMGatewayConfig struct {
	Port        int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8600"`
	RegistryURL string `yaml:"registry_url,omitempty" json:"registry_url,omitempty"`

	// Routes maps logical model tags to provider routes.
	Routes map[string]ModelRoute `yaml:"routes,omitempty" json:"routes,omitempty"`

	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
	Retry   RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Pool    PoolConfig    `yaml:"pool,omitempty" json:"pool,omitempty"`

	// RequestTimeoutSeconds is the total deadline per gateway call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty" json:"request_timeout_seconds,omitempty" jsonschema:"minimum=1,default=30"`
}

// Default logical tags. The chat tag resolves through fallbacks; the
// embed tag has none because embedding spaces are provider-specific.
const (
	TagPrimaryChat  = "primary-chat"
	TagPrimaryEmbed = "primary-embed"
)

func (c *LLMGatewayConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8600
	}
	if c.RegistryURL == "" {
		c.RegistryURL = "http://localhost:8500"
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 30
	}
	c.Breaker.SetDefaults()
	c.Retry.SetDefaults()
	c.Pool.SetDefaults()

	if c.Routes == nil {
		c.Routes = map[string]ModelRoute{}
	}
	if _, ok := c.Routes[TagPrimaryChat]; !ok {
		c.Routes[TagPrimaryChat] = ModelRoute{
			Primary: ProviderRoute{Provider: "openai", Model: "gpt-4o-mini", BaseURL: defaultBaseURL("openai")},
			Fallbacks: []ProviderRoute{
				{Provider: "anthropic", Model: "claude-3-haiku", BaseURL: defaultBaseURL("anthropic")},
				{Provider: "ollama", Model: "llama3.2", BaseURL: defaultBaseURL("ollama")},
			},
		}
	}
	if _, ok := c.Routes[TagPrimaryEmbed]; !ok {
		c.Routes[TagPrimaryEmbed] = ModelRoute{
			Primary: ProviderRoute{Provider: "openai", Model: "text-embedding-ada-002", BaseURL: defaultBaseURL("openai")},
		}
	}
}

func (c *LLMGatewayConfig) applyEnv() {
	if v := envString("REGISTRY_URL", ""); v != "" {
		c.RegistryURL = v
	}
	c.Breaker.applyEnv()

	// LLM_PRIMARY_PROVIDER / LLM_FALLBACK_PROVIDERS rebuild the chat
	// route from provider/model specs.
	primary := envString("LLM_PRIMARY_PROVIDER", "")
	if primary == "" {
		return
	}
	route, err := ParseProviderSpec(primary)
	if err != nil {
		return
	}
	chat := ModelRoute{Primary: route}
	if list := envString("LLM_FALLBACK_PROVIDERS", ""); list != "" {
		for _, spec := range strings.Split(list, ",") {
			fb, err := ParseProviderSpec(spec)
			if err != nil {
				continue
			}
			chat.Fallbacks = append(chat.Fallbacks, fb)
		}
	}
	if c.Routes == nil {
		c.Routes = map[string]ModelRoute{}
	}
	c.Routes[TagPrimaryChat] = chat
}

func (c *LLMGatewayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	for tag, route := range c.Routes {
		if route.Primary.Provider == "" || route.Primary.Model == "" {
			return fmt.Errorf("route %q: primary provider and model are required", tag)
		}
		for i, fb := range route.Fallbacks {
			if fb.Provider == "" || fb.Model == "" {
				return fmt.Errorf("route %q: fallback %d is incomplete", tag, i)
			}
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Breaker.FailThreshold < 1 {
		return fmt.Errorf("breaker.fail_threshold must be >= 1")
	}
	return nil
}

// RequestTimeout returns the per-call deadline.
func (c *LLMGatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
