package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"forumscout/internal/forum"
	"forumscout/internal/routing"
)

const (
	defaultConfigPath                 = "config.yaml"
	defaultStartDateWindow            = 30 * 24 * time.Hour
	defaultExternalHTTPTimeoutSeconds = 30
	startDateLayout                   = "2006-01-02"
	defaultLLMTemperature             = 0.3
)

// now is swapped in tests.
var now = time.Now

type Config struct {
	ForumBaseURL     string          `yaml:"forum_base_url"`
	ForumSelectors   forum.Selectors `yaml:"forum_selectors"`
	StartDate        string          `yaml:"start_date"`
	MaxPages         int             `yaml:"max_pages"`
	PageDelaySeconds float64         `yaml:"page_delay_seconds"`
	PreviewMaxChars  int             `yaml:"preview_max_chars"`

	LLMEnabled          *bool    `yaml:"llm_enabled"`
	LLMProvider         string   `yaml:"llm_provider"`
	LLMModel            string   `yaml:"llm_model"`
	LLMEndpoint         string   `yaml:"llm_endpoint"`
	LLMTimeoutSeconds   int      `yaml:"llm_timeout_seconds"`
	LLMBreakerThreshold int      `yaml:"llm_breaker_threshold"`
	LLMMaxTokens        int      `yaml:"llm_max_tokens"`
	LLMTemperature      *float64 `yaml:"llm_temperature"`
	AnthropicAPIKey     string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey        string   `yaml:"openai_api_key"`

	RulesPath string `yaml:"rules_path"`

	SlackEnabled        *bool  `yaml:"slack_enabled"`
	SlackBotToken       string `yaml:"slack_bot_token"`
	SlackDefaultChannel string `yaml:"slack_default_channel"`
	SlackMaxQuestions   int    `yaml:"slack_max_questions"`

	Routes   map[string]routing.Route   `yaml:"routes"`
	Managers map[string]routing.Manager `yaml:"managers"`

	DBPath        string `yaml:"db_path"`
	OutputPath    string `yaml:"output_path"`
	NotifyNewOnly bool   `yaml:"notify_new_only"`

	ScanSchedule string `yaml:"scan_schedule"`
	StatusAddr   string `yaml:"status_addr"`
	Timezone     string `yaml:"timezone"`

	ExternalHTTPTimeoutSeconds int  `yaml:"external_http_timeout_seconds"`
	Debug                      bool `yaml:"debug"`

	Location *time.Location `yaml:"-"` // computed from Timezone
	Start    time.Time      `yaml:"-"` // computed from StartDate

	rollingStart bool
}

// LoadConfig reads path (or CONFIG_PATH, or ./config.yaml), applies
// environment overrides and defaults, and validates the result. A missing
// file is only an error when the path was given explicitly.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
			explicit = true
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.ForumBaseURL, "FORUM_BASE_URL")
	envOverride(&cfg.StartDate, "AEM_DEFAULT_START_DATE")
	envOverride(&cfg.StartDate, "AEM_START_DATE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMEndpoint, "LLM_ENDPOINT")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.RulesPath, "RULES_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_TOKEN")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackDefaultChannel, "AEM_SLACK_CHANNEL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.OutputPath, "OUTPUT_PATH")
	envOverride(&cfg.ScanSchedule, "SCAN_SCHEDULE")
	envOverrideAllowEmpty(&cfg.StatusAddr, "STATUS_ADDR")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverrideBool(&cfg.NotifyNewOnly, "NOTIFY_NEW_ONLY")
	envOverrideBool(&cfg.Debug, "AEM_DEBUG")
	envOverrideOptionalBool(&cfg.LLMEnabled, "LLM_ENABLED")
	envOverrideOptionalBool(&cfg.SlackEnabled, "AEM_SLACK_ENABLED")

	errs := []error{
		envOverrideInt(&cfg.MaxPages, "AEM_MAX_PAGES"),
		envOverrideFloat(&cfg.PageDelaySeconds, "PAGE_DELAY_SECONDS"),
		envOverrideInt(&cfg.PreviewMaxChars, "PREVIEW_MAX_CHARS"),
		envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS"),
		envOverrideInt(&cfg.LLMBreakerThreshold, "LLM_BREAKER_THRESHOLD"),
		envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"),
		envOverrideOptionalFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE"),
		envOverrideInt(&cfg.SlackMaxQuestions, "SLACK_MAX_QUESTIONS"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	applyRoutingEnv(cfg, os.Environ())
	return nil
}

var (
	channelEnvPattern         = regexp.MustCompile(`^CHANNEL_([A-Z0-9_]+)$`)
	categoryManagerEnvPattern = regexp.MustCompile(`^CATEGORY_([A-Z0-9_]+)_MANAGERS$`)
	managerEnvPattern         = regexp.MustCompile(`^MANAGER_([A-Z0-9_]+)_([A-Z]+)$`)
)

// applyRoutingEnv layers CHANNEL_<CATEGORY>, CATEGORY_<CATEGORY>_MANAGERS
// and MANAGER_<ID>_<NAME|SLACK|EXPERTISE> variables over the file config.
func applyRoutingEnv(cfg *Config, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case channelEnvPattern.MatchString(key):
			cat := routing.NormalizeKey(channelEnvPattern.FindStringSubmatch(key)[1])
			route := cfg.route(cat)
			route.Channel = strings.TrimSpace(value)
			cfg.Routes[cat] = route
		case categoryManagerEnvPattern.MatchString(key):
			cat := routing.NormalizeKey(categoryManagerEnvPattern.FindStringSubmatch(key)[1])
			route := cfg.route(cat)
			route.Owners = splitList(value)
			cfg.Routes[cat] = route
		case managerEnvPattern.MatchString(key):
			m := managerEnvPattern.FindStringSubmatch(key)
			id := strings.ToLower(m[1])
			if cfg.Managers == nil {
				cfg.Managers = map[string]routing.Manager{}
			}
			manager := cfg.Managers[id]
			switch strings.ToLower(m[2]) {
			case "name":
				manager.Name = strings.TrimSpace(value)
			case "slack":
				manager.Slack = strings.TrimSpace(value)
			case "expertise":
				manager.Expertise = splitList(value)
			default:
				continue
			}
			cfg.Managers[id] = manager
		}
	}
}

func (c *Config) route(key string) routing.Route {
	if c.Routes == nil {
		c.Routes = map[string]routing.Route{}
	}
	for existing, r := range c.Routes {
		if routing.NormalizeKey(existing) == key {
			delete(c.Routes, existing)
			return r
		}
	}
	return routing.Route{}
}

func applyDefaults(cfg *Config) {
	if cfg.ForumBaseURL == "" {
		cfg.ForumBaseURL = forum.DefaultBaseURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 10
	}
	if cfg.PageDelaySeconds == 0 {
		cfg.PageDelaySeconds = 2
	}
	if cfg.PreviewMaxChars == 0 {
		cfg.PreviewMaxChars = forum.DefaultPreviewMaxChars
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 20
	}
	if cfg.LLMBreakerThreshold == 0 {
		cfg.LLMBreakerThreshold = 3
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 300
	}
	if cfg.LLMTemperature == nil {
		temperature := defaultLLMTemperature
		cfg.LLMTemperature = &temperature
	}
	if cfg.LLMEnabled == nil {
		enabled := cfg.LLMAPIKey() != ""
		cfg.LLMEnabled = &enabled
	}
	if cfg.SlackEnabled == nil {
		enabled := cfg.SlackBotToken != ""
		cfg.SlackEnabled = &enabled
	}
	if cfg.SlackDefaultChannel == "" {
		cfg.SlackDefaultChannel = "general"
	}
	if cfg.SlackMaxQuestions == 0 {
		cfg.SlackMaxQuestions = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./forumscout.db"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "questions.json"
	}
	if cfg.ScanSchedule == "" {
		cfg.ScanSchedule = "0 9 * * 1-5"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
}

func (c *Config) validate() error {
	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.StartDate == "" {
		c.rollingStart = true
		c.Start = startOfDay(now().In(c.Location).Add(-defaultStartDateWindow))
		c.StartDate = c.Start.Format(startDateLayout)
	} else {
		start, err := ParseStartDate(c.StartDate, c.Location)
		if err != nil {
			return err
		}
		c.Start = start
	}

	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}
	if c.LLMOn() && c.LLMAPIKey() == "" {
		return fmt.Errorf("%s_api_key is required when llm_enabled=true and llm_provider=%s", c.LLMProvider, c.LLMProvider)
	}
	if c.SlackOn() && c.SlackBotToken == "" {
		return fmt.Errorf("slack_bot_token is required when slack_enabled=true")
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("invalid max_pages '%d': must be >= 1", c.MaxPages)
	}
	if c.PageDelaySeconds < 0 {
		return fmt.Errorf("invalid page_delay_seconds '%g': must be >= 0", c.PageDelaySeconds)
	}
	if c.PreviewMaxChars < 1 {
		return fmt.Errorf("invalid preview_max_chars '%d': must be >= 1", c.PreviewMaxChars)
	}
	if c.LLMTimeoutSeconds < 1 {
		return fmt.Errorf("invalid llm_timeout_seconds '%d': must be >= 1", c.LLMTimeoutSeconds)
	}
	if c.LLMBreakerThreshold < 1 {
		return fmt.Errorf("invalid llm_breaker_threshold '%d': must be >= 1", c.LLMBreakerThreshold)
	}
	if c.LLMMaxTokens < 1 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 1", c.LLMMaxTokens)
	}
	if t := c.LLMTemperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("invalid llm_temperature '%g': must be between 0 and 2", *t)
	}
	if c.SlackMaxQuestions < 1 {
		return fmt.Errorf("invalid slack_max_questions '%d': must be >= 1", c.SlackMaxQuestions)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.RulesPath != "" {
		if _, err := os.Stat(c.RulesPath); err != nil {
			return fmt.Errorf("invalid rules_path '%s': %w", c.RulesPath, err)
		}
	}
	return nil
}

// ParseStartDate reads a YYYY-MM-DD date as midnight in loc.
func ParseStartDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(startDateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date '%s': want YYYY-MM-DD", s)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ScanStart is the configured start date, or the start of the default
// window ending at at when no start_date was set.
func (c Config) ScanStart(at time.Time) time.Time {
	if !c.rollingStart {
		return c.Start
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return startOfDay(at.In(loc).Add(-defaultStartDateWindow))
}

func (c Config) LLMOn() bool {
	return c.LLMEnabled != nil && *c.LLMEnabled
}

func (c Config) SlackOn() bool {
	return c.SlackEnabled != nil && *c.SlackEnabled
}

func (c Config) LLMAPIKey() string {
	if strings.EqualFold(strings.TrimSpace(c.LLMProvider), "openai") {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func (c Config) PageDelay() time.Duration {
	return time.Duration(c.PageDelaySeconds * float64(time.Second))
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// NewRouter builds the routing table; it fails when any category is left
// without a channel.
func (c Config) NewRouter() (*routing.Router, error) {
	return routing.NewRouter(c.Routes, c.Managers, c.SlackDefaultChannel)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = parseBool(val)
	}
}

func envOverrideOptionalBool(field **bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		b := parseBool(val)
		*field = &b
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideOptionalFloat(field **float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = &parsed
	}
	return nil
}

func parseBool(val string) bool {
	val = strings.TrimSpace(val)
	return strings.EqualFold(val, "true") || strings.EqualFold(val, "yes") || val == "1"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
