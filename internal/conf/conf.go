package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
)

// EnvPrefix prefixes every environment override (C3POH_DM_POLICY, ...)
const EnvPrefix = "C3POH"

// Config represents application configuration. It is loaded once at startup
// and passed to constructors; changing it requires a restart.
type Config struct {
	// Telegram credentials (never saved to disk)
	TelegramBotToken    string `mapstructure:"telegram_bot_token" json:"telegram_bot_token"`
	TelegramAPIEndpoint string `mapstructure:"telegram_api_endpoint" json:"telegram_api_endpoint,omitempty"`

	// Access control
	DMPolicy  string   `mapstructure:"dm_policy" json:"dm_policy"`
	AllowFrom []string `mapstructure:"allow_from" json:"allow_from"`

	// Group chat behavior
	RequireMention bool `mapstructure:"require_mention" json:"require_mention"`

	// Deny notice in private chats
	DenyNotice bool `mapstructure:"deny_notice" json:"deny_notice"`

	// Notify listener
	NotifyEnabled     bool   `mapstructure:"notify_enabled" json:"notify_enabled"`
	NotifyHost        string `mapstructure:"notify_host" json:"notify_host"`
	NotifyPort        int    `mapstructure:"notify_port" json:"notify_port"`
	NotifyAllowRemote bool   `mapstructure:"notify_allow_remote" json:"notify_allow_remote"`
	NotifyChatID      int64  `mapstructure:"notify_chat_id" json:"notify_chat_id"`

	// Claude Code invocation
	ClaudeBin            string   `mapstructure:"claude_bin" json:"claude_bin"`
	ClaudeArgs           []string `mapstructure:"claude_args" json:"claude_args"`
	ClaudeWorkdir        string   `mapstructure:"claude_workdir" json:"claude_workdir"`
	ClaudeTimeoutSeconds int      `mapstructure:"claude_timeout_seconds" json:"claude_timeout_seconds"`
	MaxConcurrent        int      `mapstructure:"max_concurrent" json:"max_concurrent"`
	ClaudeEchoStderr     bool     `mapstructure:"claude_echo_stderr" json:"claude_echo_stderr"`

	// Message handling
	MaxMessageLength   int  `mapstructure:"max_message_length" json:"max_message_length"`
	TypingIndicator    bool `mapstructure:"typing_indicator" json:"typing_indicator"`
	PollTimeoutSeconds int  `mapstructure:"poll_timeout_seconds" json:"poll_timeout_seconds"`
	SendRetries        int  `mapstructure:"send_retries" json:"send_retries"`

	// State and logs
	StateFile   string `mapstructure:"state_file" json:"state_file"`
	LogFile     string `mapstructure:"log_file" json:"log_file"`
	LogMessages bool   `mapstructure:"log_messages" json:"log_messages"`
	LogLevel    string `mapstructure:"log_level" json:"log_level"`
	LogFormat   string `mapstructure:"log_format" json:"log_format"`
	AppLogFile  string `mapstructure:"app_log_file" json:"app_log_file,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_api_endpoint", "")
	v.SetDefault("dm_policy", string(domain.PolicyAllowlist))
	v.SetDefault("allow_from", []string{})
	v.SetDefault("require_mention", true)
	v.SetDefault("deny_notice", true)
	v.SetDefault("notify_enabled", true)
	v.SetDefault("notify_host", "127.0.0.1")
	v.SetDefault("notify_port", 7734)
	v.SetDefault("notify_allow_remote", false)
	v.SetDefault("notify_chat_id", 0)
	v.SetDefault("claude_bin", "claude")
	v.SetDefault("claude_args", []string{"--print"})
	v.SetDefault("claude_workdir", "")
	v.SetDefault("claude_timeout_seconds", 300)
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("claude_echo_stderr", false)
	v.SetDefault("max_message_length", 4000)
	v.SetDefault("typing_indicator", true)
	v.SetDefault("poll_timeout_seconds", 20)
	v.SetDefault("send_retries", 3)
	v.SetDefault("state_file", "~/.c3poh/state.db")
	v.SetDefault("log_file", "~/.c3poh/c3poh.log")
	v.SetDefault("log_messages", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("app_log_file", "")
}

// Default returns the built-in defaults without reading files or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// DefaultConfigPath returns ~/.c3poh/config.json
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".c3poh", "config.json"), nil
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// findConfigFile returns the config file to read. An explicit path must
// exist; otherwise the first of ./c3poh.json and ~/.c3poh/config.json that
// exists is used, or none.
func findConfigFile(path string) (string, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(expanded); err != nil {
			return "", fmt.Errorf("config file %s: %w", expanded, err)
		}
		return expanded, nil
	}

	candidates := []string{"c3poh.json"}
	if p, err := DefaultConfigPath(); err == nil {
		candidates = append(candidates, p)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load loads configuration.
// Priority: environment > config file > defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN", EnvPrefix+"_TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("claude_timeout_seconds", EnvPrefix+"_CLAUDE_TIMEOUT", EnvPrefix+"_CLAUDE_TIMEOUT_SECONDS")

	file, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Lists from the environment are comma separated.
	if raw, ok := os.LookupEnv(EnvPrefix + "_ALLOW_FROM"); ok {
		cfg.AllowFrom = splitList(raw)
	}

	for _, p := range []*string{&cfg.StateFile, &cfg.LogFile, &cfg.AppLogFile, &cfg.ClaudeWorkdir} {
		if *p == "" {
			continue
		}
		if *p, err = ExpandPath(*p); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the config as JSON with the token scrubbed and returns the path
func (c *Config) Save(path string) (string, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", err
		}
	}
	path, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	scrubbed := *c
	scrubbed.TelegramBotToken = ""
	data, err := json.MarshalIndent(&scrubbed, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// Policy returns the parsed DM policy
func (c *Config) Policy() (domain.DMPolicy, error) {
	return domain.ParsePolicy(c.DMPolicy)
}

// AllowFromIDs parses allow_from into user IDs
func (c *Config) AllowFromIDs() ([]domain.UserID, error) {
	ids := make([]domain.UserID, 0, len(c.AllowFrom))
	for _, raw := range c.AllowFrom {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("allow_from entry %q is not a numeric user ID", raw)
		}
		ids = append(ids, domain.UserID(id))
	}
	return ids, nil
}

// ToAccessConfig converts to access control configuration
func (c *Config) ToAccessConfig() (usecase.AccessConfig, error) {
	policy, err := c.Policy()
	if err != nil {
		return usecase.AccessConfig{}, err
	}
	ids, err := c.AllowFromIDs()
	if err != nil {
		return usecase.AccessConfig{}, err
	}
	return usecase.AccessConfig{Policy: policy, AllowFrom: ids}, nil
}

// AgentTimeout returns the per-invocation deadline
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.ClaudeTimeoutSeconds) * time.Second
}

// PollTimeout returns the long-poll wait
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// NotifyAddr returns the notify listener address
func (c *Config) NotifyAddr() string {
	return net.JoinHostPort(c.NotifyHost, strconv.Itoa(c.NotifyPort))
}

// IsLoopbackHost reports whether host only accepts local connections
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate validates the configuration. Warnings do not prevent startup;
// a non-nil error joins every *ConfigError found.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	if c.TelegramBotToken == "" {
		errs = append(errs, &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "is not set; set it via env var or .env"})
	}

	policy, perr := c.Policy()
	if perr != nil {
		names := make([]string, len(domain.Policies))
		for i, p := range domain.Policies {
			names[i] = string(p)
		}
		errs = append(errs, &ConfigError{Field: "dm_policy", Message: "must be one of: " + strings.Join(names, ", ")})
	}

	if _, aerr := c.AllowFromIDs(); aerr != nil {
		errs = append(errs, &ConfigError{Field: "allow_from", Message: aerr.Error()})
	}

	switch policy {
	case domain.PolicyAllowlist:
		if len(c.AllowFrom) == 0 {
			errs = append(errs, &ConfigError{
				Field:   "allow_from",
				Message: "is empty while dm_policy is 'allowlist'; add your numeric user ID or change dm_policy",
			})
		}
	case domain.PolicyOpen:
		warnings = append(warnings, "dm_policy is 'open': anyone with your bot link can send commands")
	}

	if c.NotifyEnabled {
		if c.NotifyPort <= 0 || c.NotifyPort > 65535 {
			errs = append(errs, &ConfigError{Field: "notify_port", Message: "must be between 1 and 65535"})
		}
		if !IsLoopbackHost(c.NotifyHost) {
			if !c.NotifyAllowRemote {
				errs = append(errs, &ConfigError{
					Field:   "notify_host",
					Message: fmt.Sprintf("%q is not a loopback address; set notify_allow_remote to bind it", c.NotifyHost),
				})
			} else {
				warnings = append(warnings, fmt.Sprintf("notify listener bound to %s has no authentication", c.NotifyHost))
			}
		}
	}

	if c.ClaudeTimeoutSeconds <= 0 {
		errs = append(errs, &ConfigError{Field: "claude_timeout_seconds", Message: "must be positive"})
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, &ConfigError{Field: "max_message_length", Message: "must be positive"})
	}

	return warnings, errors.Join(errs...)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
