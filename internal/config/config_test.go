package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumscout/internal/domain"
	"forumscout/internal/routing"
)

var overrideKeys = []string{
	"CONFIG_PATH", "FORUM_BASE_URL", "AEM_START_DATE", "AEM_DEFAULT_START_DATE", "AEM_MAX_PAGES",
	"LLM_PROVIDER", "LLM_ENABLED", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "SLACK_TOKEN",
	"SLACK_BOT_TOKEN", "AEM_SLACK_ENABLED", "AEM_SLACK_CHANNEL", "TIMEZONE", "RULES_PATH",
	"LLM_BREAKER_THRESHOLD", "PAGE_DELAY_SECONDS", "LLM_TEMPERATURE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func stubNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = orig })
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	stubNow(t, time.Date(2025, 4, 10, 15, 30, 0, 0, time.UTC))
	path := writeConfig(t, "timezone: UTC\nanthropic_api_key: sk-ant\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxPages)
	assert.Equal(t, 2*time.Second, cfg.PageDelay())
	assert.Equal(t, 1500, cfg.PreviewMaxChars)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, 20*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 3, cfg.LLMBreakerThreshold)
	require.NotNil(t, cfg.LLMTemperature)
	assert.Equal(t, 0.3, *cfg.LLMTemperature)
	assert.True(t, cfg.LLMOn())
	assert.False(t, cfg.SlackOn())
	assert.Equal(t, "general", cfg.SlackDefaultChannel)
	assert.Equal(t, 10, cfg.SlackMaxQuestions)
	assert.Equal(t, "./forumscout.db", cfg.DBPath)
	assert.Equal(t, "questions.json", cfg.OutputPath)
	assert.Equal(t, "2025-03-11", cfg.StartDate)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), cfg.Start)
	assert.Equal(t, time.UTC, cfg.Location)

	later := time.Date(2025, 4, 20, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), cfg.ScanStart(later))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "timezone: UTC\nmax_pages: 4\nllm_provider: openai\nopenai_api_key: file-key\n")
	t.Setenv("AEM_MAX_PAGES", "2")
	t.Setenv("AEM_START_DATE", "2025-03-01")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("LLM_ENABLED", "false")
	t.Setenv("SLACK_TOKEN", "xoxb-1")
	t.Setenv("PAGE_DELAY_SECONDS", "0.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxPages)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Start)
	assert.Equal(t, cfg.Start, cfg.ScanStart(time.Now()))
	assert.Equal(t, "env-key", cfg.LLMAPIKey())
	assert.False(t, cfg.LLMOn())
	assert.True(t, cfg.SlackOn())
	assert.Equal(t, 500*time.Millisecond, cfg.PageDelay())
}

func TestLoadConfigKeepsZeroTemperature(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeConfig(t, "timezone: UTC\nllm_temperature: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.LLMTemperature)
	assert.Equal(t, 0.0, *cfg.LLMTemperature)

	t.Setenv("LLM_TEMPERATURE", "0.7")
	cfg, err = LoadConfig(writeConfig(t, "timezone: UTC\nllm_temperature: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.7, *cfg.LLMTemperature)
}

func TestLoadConfigConfigPathEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "timezone: UTC\nmax_pages: 7\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxPages)
	assert.False(t, cfg.LLMOn())
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]struct {
		body string
		env  map[string]string
	}{
		"bad yaml":             {body: "max_pages: [\n"},
		"bad int env":          {body: "timezone: UTC\n", env: map[string]string{"AEM_MAX_PAGES": "many"}},
		"bad start date":       {body: "timezone: UTC\nstart_date: 03/01/2025\n"},
		"bad timezone":         {body: "timezone: Mars/Olympus\n"},
		"unknown provider":     {body: "timezone: UTC\nllm_provider: gemini\n"},
		"llm without key":      {body: "timezone: UTC\nllm_enabled: true\n"},
		"slack without token":  {body: "timezone: UTC\nslack_enabled: true\n"},
		"zero breaker":         {body: "timezone: UTC\n", env: map[string]string{"LLM_BREAKER_THRESHOLD": "-1"}},
		"missing rules file":   {body: "timezone: UTC\nrules_path: /nonexistent/rules.yaml\n"},
		"negative page delay":  {body: "timezone: UTC\npage_delay_seconds: -1\n"},
		"http timeout too low": {body: "timezone: UTC\nexternal_http_timeout_seconds: 2\n"},
		"temperature too high": {body: "timezone: UTC\nllm_temperature: 3\n"},
		"bad temperature env":  {body: "timezone: UTC\n", env: map[string]string{"LLM_TEMPERATURE": "warm"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyRoutingEnv(t *testing.T) {
	cfg := Config{
		Routes: map[string]routing.Route{
			"Adaptive_Forms_Core_Components": {Channel: "#from-file", Owners: []string{"alice"}},
		},
	}
	applyRoutingEnv(&cfg, []string{
		"CHANNEL_DEFAULT=#aem-forms",
		"CHANNEL_ADAPTIVE_FORMS_CORE_COMPONENTS=#core-comp",
		"CATEGORY_ADAPTIVE_FORMS_HEADLESS_MANAGERS=MANAGER_BOB, carol",
		"MANAGER_BOB_NAME=Bob B",
		"MANAGER_BOB_SLACK=U0123ABCD9",
		"MANAGER_BOB_EXPERTISE=headless, sdk",
		"MANAGER_BOB_SHOESIZE=44",
		"PATH=/usr/bin",
	})

	assert.Equal(t, routing.Route{Channel: "#aem-forms"}, cfg.Routes["default"])
	assert.Equal(t, routing.Route{Channel: "#core-comp", Owners: []string{"alice"}}, cfg.Routes["adaptive-forms-core-components"])
	assert.NotContains(t, cfg.Routes, "Adaptive_Forms_Core_Components")
	assert.Equal(t, []string{"MANAGER_BOB", "carol"}, cfg.Routes["adaptive-forms-headless"].Owners)
	assert.Equal(t, routing.Manager{Name: "Bob B", Slack: "U0123ABCD9", Expertise: []string{"headless", "sdk"}}, cfg.Managers["bob"])
}

func TestConfigNewRouter(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
timezone: UTC
slack_default_channel: "#forms-questions"
routes:
  adaptive_forms_headless:
    channel: "#forms-headless"
    owners: [bob]
managers:
  bob:
    name: Bob
    slack: "@bob"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	router, err := cfg.NewRouter()
	require.NoError(t, err)

	d := router.Route(domain.CategorizationResult{Category: domain.CategoryHeadless})
	assert.Equal(t, "#forms-headless", d.Channel)
	assert.Equal(t, []string{"@bob"}, d.Owners)

	d = router.Route(domain.CategorizationResult{Category: domain.CategorySecurity})
	assert.Equal(t, "#forms-questions", d.Channel)
}
