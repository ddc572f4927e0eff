package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Provider names accepted by LLM_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"portfolio.db"`
	DemoSeed     bool   `envconfig:"DEMO_SEED" default:"true"`

	// Model provider
	LLMProvider           string        `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMModel              string        `envconfig:"LLM_MODEL" default:"gpt-5.1"`
	OpenAIAPIKey          string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `envconfig:"OPENAI_BASE_URL"`
	AzureOpenAIEndpoint   string        `envconfig:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIAPIKey     string        `envconfig:"AZURE_OPENAI_API_KEY"`
	AzureOpenAIDeployment string        `envconfig:"AZURE_OPENAI_DEPLOYMENT"`
	AzureOpenAIAPIVersion string        `envconfig:"AZURE_OPENAI_API_VERSION" default:"2024-10-21"`
	AnthropicAPIKey       string        `envconfig:"ANTHROPIC_API_KEY"`
	LLMMaxTokens          int           `envconfig:"LLM_MAX_TOKENS" default:"4096"`
	LLMTimeout            time.Duration `envconfig:"LLM_TIMEOUT" default:"90s"`

	// Assistant and executor
	AssistantMaxAttempts int `envconfig:"ASSISTANT_MAX_ATTEMPTS" default:"3"`
	TaskDueDays          int `envconfig:"TASK_DUE_DAYS" default:"14"`
	SubtaskDueDays       int `envconfig:"SUBTASK_DUE_DAYS" default:"7"`

	// Retention
	AuditRetention time.Duration `envconfig:"AUDIT_RETENTION" default:"720h"`
	DeltaRetention time.Duration `envconfig:"DELTA_RETENTION" default:"168h"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtAPIKeys        string `envconfig:"MGMT_API_KEYS"` // key:name[:role],...
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
	MgmtWorkers        int    `envconfig:"MGMT_WORKERS" default:"4"`

	// Slack (optional outcome notifications)
	SlackBotToken       string `envconfig:"SLACK_BOT_TOKEN"`
	SlackOutcomeChannel string `envconfig:"SLACK_OUTCOME_CHANNEL"`
}

// IsProduction reports whether the environment is a production one.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	}
	return false
}

// IsTest reports whether the environment is a test one.
func (c *Config) IsTest() bool {
	switch strings.ToLower(c.Environment) {
	case "test", "testing":
		return true
	}
	return false
}

// SeedEnabled returns true if the demo portfolio may be written to an empty store.
// Production and test environments are never seeded.
func (c *Config) SeedEnabled() bool {
	return c.DemoSeed && !c.IsProduction() && !c.IsTest()
}

// SlackEnabled returns true if outcome notifications can be posted.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackOutcomeChannel != ""
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.MgmtCORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.MgmtCORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// APIKey is one named caller from MGMT_API_KEYS.
type APIKey struct {
	Key  string
	Name string
	Role string
}

// APIKeyList parses MGMT_API_KEYS. Role defaults to operator.
func (c *Config) APIKeyList() ([]APIKey, error) {
	var keys []APIKey
	for _, entry := range strings.Split(c.MgmtAPIKeys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("MGMT_API_KEYS entry must be key:name[:role]")
		}
		k := APIKey{Key: parts[0], Name: parts[1], Role: "operator"}
		if len(parts) == 3 {
			k.Role = parts[2]
		}
		switch k.Role {
		case "admin", "operator", "readonly":
		default:
			return nil, fmt.Errorf("MGMT_API_KEYS: unknown role %q for %s", k.Role, k.Name)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLMProvider) {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderAzure:
		if c.AzureOpenAIEndpoint == "" || c.AzureOpenAIAPIKey == "" || c.AzureOpenAIDeployment == "" {
			return fmt.Errorf("AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_DEPLOYMENT are required for provider %q", c.LLMProvider)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.AssistantMaxAttempts < 1 {
		return fmt.Errorf("ASSISTANT_MAX_ATTEMPTS must be at least 1, got %d", c.AssistantMaxAttempts)
	}
	if c.TaskDueDays < 0 || c.SubtaskDueDays < 0 {
		return fmt.Errorf("due-day offsets must not be negative")
	}
	if c.MgmtWorkers < 1 {
		return fmt.Errorf("MGMT_WORKERS must be at least 1, got %d", c.MgmtWorkers)
	}
	if _, err := c.APIKeyList(); err != nil {
		return err
	}
	switch c.MgmtAuthMode {
	case "api-key":
		if c.MgmtAPIKey == "" && c.IsProduction() {
			return fmt.Errorf("MGMT_API_KEY is required in production")
		}
	case "none":
		if c.IsProduction() {
			return fmt.Errorf("MGMT_AUTH_MODE=none is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
