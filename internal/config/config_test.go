// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setProviderEnvs(t *testing.T) {
	t.Helper()
	envs := map[string]string{
		"LLM_PROVIDER":   "openai",
		"OPENAI_API_KEY": "sk-test",
		"DATABASE_PATH":  "/tmp/portfolio-test.db",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Success(t *testing.T) {
	setProviderEnvs(t)
	cfg, err := LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "/tmp/portfolio-test.db", cfg.DatabasePath)
	assert.Equal(t, "development", cfg.Environment)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "gpt-5.1", cfg.LLMModel)
	assert.Equal(t, 90*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 3, cfg.AssistantMaxAttempts)
	assert.Equal(t, 14, cfg.TaskDueDays)
	assert.Equal(t, 7, cfg.SubtaskDueDays)
	assert.True(t, cfg.DemoSeed)
}

func TestLoad_MgmtDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.MgmtListenAddr)
	assert.Equal(t, "api-key", cfg.MgmtAuthMode)
	assert.Equal(t, 100, cfg.MgmtRateLimitRPS)
	assert.Equal(t, 200, cfg.MgmtRateLimitBurst)
	assert.Equal(t, 4, cfg.MgmtWorkers)
}

func TestLoad_Overrides(t *testing.T) {
	setProviderEnvs(t)
	t.Setenv("TASK_DUE_DAYS", "10")
	t.Setenv("LLM_TIMEOUT", "2m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.TaskDueDays)
	assert.Equal(t, 2*time.Minute, cfg.LLMTimeout)
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("TASK_DUE_DAYS", "two weeks")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_SeedEnabled(t *testing.T) {
	tests := []struct {
		env  string
		seed bool
		want bool
	}{
		{"development", true, true},
		{"staging", true, true},
		{"development", false, false},
		{"prod", true, false},
		{"Production", true, false},
		{"test", true, false},
		{"testing", true, false},
	}
	for _, tt := range tests {
		cfg := &Config{Environment: tt.env, DemoSeed: tt.seed}
		assert.Equal(t, tt.want, cfg.SeedEnabled(), "env=%s seed=%v", tt.env, tt.seed)
	}
}

func TestConfig_SlackEnabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.SlackEnabled())

	cfg.SlackBotToken = "xoxb-test"
	assert.False(t, cfg.SlackEnabled(), "channel is required too")

	cfg.SlackOutcomeChannel = "C123"
	assert.True(t, cfg.SlackEnabled())
}

func TestConfig_CORSOriginList(t *testing.T) {
	cfg := &Config{MgmtCORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
	assert.Nil(t, (&Config{}).CORSOriginList())
}

func TestConfig_APIKeyList(t *testing.T) {
	cfg := &Config{MgmtAPIKeys: "k1:Dana, k2:Lee:readonly ,"}
	keys, err := cfg.APIKeyList()
	require.NoError(t, err)
	assert.Equal(t, []APIKey{
		{Key: "k1", Name: "Dana", Role: "operator"},
		{Key: "k2", Name: "Lee", Role: "readonly"},
	}, keys)

	keys, err = (&Config{}).APIKeyList()
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = (&Config{MgmtAPIKeys: "k1:Dana:owner"}).APIKeyList()
	assert.ErrorContains(t, err, "owner")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:          "development",
			LLMProvider:          ProviderOpenAI,
			OpenAIAPIKey:         "sk",
			AssistantMaxAttempts: 3,
			MgmtWorkers:          1,
			MgmtAuthMode:         "api-key",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing openai key", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"azure incomplete", func(c *Config) { c.LLMProvider = ProviderAzure; c.AzureOpenAIEndpoint = "https://x" }, "AZURE_OPENAI"},
		{"azure complete", func(c *Config) {
			c.LLMProvider = ProviderAzure
			c.AzureOpenAIEndpoint = "https://x"
			c.AzureOpenAIAPIKey = "k"
			c.AzureOpenAIDeployment = "d"
		}, ""},
		{"anthropic without key", func(c *Config) { c.LLMProvider = ProviderAnthropic }, "ANTHROPIC_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "llama" }, "unknown LLM_PROVIDER"},
		{"zero attempts", func(c *Config) { c.AssistantMaxAttempts = 0 }, "ASSISTANT_MAX_ATTEMPTS"},
		{"negative due days", func(c *Config) { c.SubtaskDueDays = -1 }, "due-day"},
		{"zero workers", func(c *Config) { c.MgmtWorkers = 0 }, "MGMT_WORKERS"},
		{"prod without api key", func(c *Config) { c.Environment = "production" }, "MGMT_API_KEY"},
		{"prod without auth", func(c *Config) { c.Environment = "prod"; c.MgmtAuthMode = "none" }, "not allowed"},
		{"dev without auth", func(c *Config) { c.MgmtAuthMode = "none" }, ""},
		{"unknown auth mode", func(c *Config) { c.MgmtAuthMode = "jwt" }, "MGMT_AUTH_MODE"},
		{"bad api key entry", func(c *Config) { c.MgmtAPIKeys = "lonely" }, "MGMT_API_KEYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
