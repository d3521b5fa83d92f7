package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "PORTFOLIOCHAT"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Assistant   AssistantConfig           `mapstructure:"assistant"`
	Admin       AdminConfig               `mapstructure:"admin"`
	Notify      NotifyConfig              `mapstructure:"notify"`
}

type BasicConfig struct {
	ServerAddress       string `mapstructure:"server_address"`
	HistoryLimit        int    `mapstructure:"history_limit"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	MinWorkers          int    `mapstructure:"min_workers"`
	MaxWorkers          int    `mapstructure:"max_workers"`
	QueueSize           int    `mapstructure:"queue_size"`
	// WorkerIdleTimeout is expressed in seconds.
	WorkerIdleTimeout int `mapstructure:"worker_idle_timeout"`
	// GenerationTimeoutSeconds caps one assistant turn; 0 leaves it to the provider.
	GenerationTimeoutSeconds int  `mapstructure:"generation_timeout_seconds"`
	WorkerDebug              bool `mapstructure:"worker_debug"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

// AssistantConfig describes the persona the model speaks as.
type AssistantConfig struct {
	Provider    string       `mapstructure:"provider"`
	ProfilePath string       `mapstructure:"profile_path"`
	Persona     string       `mapstructure:"persona"`
	Greeting    string       `mapstructure:"greeting"`
	Search      SearchConfig `mapstructure:"search"`
}

// SearchConfig enables the lookup tool the assistant may call for public
// facts about a visitor's company or a technology they mention.
type SearchConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	GoogleAPIKey   string `mapstructure:"google_api_key"`
	GoogleEngineID string `mapstructure:"google_engine_id"`
	MaxResults     int    `mapstructure:"max_results"`
	// RateLimit caps lookups per conversation per minute.
	RateLimit int `mapstructure:"rate_limit"`
}

type AdminConfig struct {
	Password        string `mapstructure:"password"`
	PasswordHash    string `mapstructure:"password_hash"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// NotifyConfig holds the Telegram bot used to page the admin.
type NotifyConfig struct {
	BotToken       string   `mapstructure:"bot_token"`
	ChatID         string   `mapstructure:"chat_id"`
	APIBase        string   `mapstructure:"api_base"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Keywords       []string `mapstructure:"keywords"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: defaults and PORTFOLIOCHAT_* variables apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnvVariables(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok {
		sqliteCfg.DSN = resolveSQLitePath(sqliteCfg.DSN, filepath.Dir(absPath))
		cfg.Databases["sqlite3"] = sqliteCfg
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.history_limit", 50)
	v.SetDefault("basic_config.poll_interval_seconds", 2)
	v.SetDefault("basic_config.min_workers", 2)
	v.SetDefault("basic_config.max_workers", 8)
	v.SetDefault("basic_config.queue_size", 32)
	v.SetDefault("basic_config.worker_idle_timeout", 60)
	v.SetDefault("basic_config.generation_timeout_seconds", 0)
	v.SetDefault("basic_config.worker_debug", false)

	v.SetDefault("databases.sqlite3.dsn", "./data/portfoliochat.db")
	v.SetDefault("databases.mysql.host", "127.0.0.1")
	v.SetDefault("databases.mysql.port", 3306)
	v.SetDefault("databases.mysql.username", "")
	v.SetDefault("databases.mysql.password", "")
	v.SetDefault("databases.mysql.db_name", "portfoliochat")
	v.SetDefault("databases.mysql.params", "parseTime=true&loc=UTC&charset=utf8mb4")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.base_url", "")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.claude.model", "claude-3-5-haiku-latest")
	v.SetDefault("providers.claude.base_url", "")

	v.SetDefault("assistant.provider", "gemini")
	v.SetDefault("assistant.profile_path", "")
	v.SetDefault("assistant.persona", "")
	v.SetDefault("assistant.greeting", "Hi! Ask me anything about the candidate's experience, or specific tech stack details.")
	v.SetDefault("assistant.search.enabled", false)
	v.SetDefault("assistant.search.google_api_key", "")
	v.SetDefault("assistant.search.google_engine_id", "")
	v.SetDefault("assistant.search.max_results", 3)
	v.SetDefault("assistant.search.rate_limit", 5)

	v.SetDefault("admin.password", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.token_ttl_minutes", 12*60)

	v.SetDefault("notify.bot_token", "")
	v.SetDefault("notify.chat_id", "")
	v.SetDefault("notify.api_base", "https://api.telegram.org")
	v.SetDefault("notify.timeout_seconds", 5)
	v.SetDefault("notify.keywords", []string{"interview", "hire", "hiring", "talk to", "contact"})
}

// bindEnvVariables maps secrets onto their conventional variable names as well.
func bindEnvVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"providers.gemini.api_key":          {envPrefix + "_PROVIDERS_GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"providers.openai.api_key":          {envPrefix + "_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"providers.claude.api_key":          {envPrefix + "_PROVIDERS_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
		"admin.password":                    {envPrefix + "_ADMIN_PASSWORD", "ADMIN_PASSWORD"},
		"notify.bot_token":                  {envPrefix + "_NOTIFY_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
		"notify.chat_id":                    {envPrefix + "_NOTIFY_CHAT_ID", "TELEGRAM_CHAT_ID"},
		"assistant.search.google_api_key":   {envPrefix + "_ASSISTANT_SEARCH_GOOGLE_API_KEY", "GOOGLE_SEARCH_API_KEY"},
		"assistant.search.google_engine_id": {envPrefix + "_ASSISTANT_SEARCH_GOOGLE_ENGINE_ID", "GOOGLE_SEARCH_ENGINE_ID"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func resolveSQLitePath(dsn, baseDir string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(baseDir, dsn)
}
