package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultArchiveFolder = "Archive"
	defaultFolder        = "INBOX"
	defaultPriority      = 3
	defaultStatePath     = "state.json"

	imapHostEnv     = "IMAP_SERVER"
	imapUserEnv     = "IMAP_USER"
	imapPasswordEnv = "IMAP_PASSWORD"
	smtpHostEnv     = "SMTP_SERVER"
	smtpUserEnv     = "SMTP_USER"
	smtpPasswordEnv = "SMTP_PASSWORD"
	openAIAPIKeyEnv = "OPENAI_API_KEY"
	recipientEnv    = "DIGEST_RECIPIENT"
)

// Config holds all settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	IMAP      IMAPConfig      `yaml:"imap"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Digest    DigestConfig    `yaml:"digest"`
	State     StateConfig     `yaml:"state"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Sources   []SourceRule    `yaml:"sources"`
}

// LoggingConfig selects the slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IMAPConfig describes the watched mailbox account.
type IMAPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ArchiveFolder string `yaml:"archive_folder"`
}

// Addr returns the host:port dial address.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPConfig describes the outbound-mail account for digest delivery.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromName    string `yaml:"from_name"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
}

// Addr returns the host:port dial address.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OpenAIConfig defines the optional external scoring endpoint. An empty
// APIKey disables scoring entirely.
type OpenAIConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// DigestConfig controls the rendered digest delivery.
type DigestConfig struct {
	Recipient string `yaml:"recipient"`
}

// StateConfig locates the dedup snapshot file.
type StateConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig defines the periodic trigger. When disabled the process
// performs a single run and exits.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PollInterval string `yaml:"poll_interval"`
}

// Interval resolves the poll interval, defaulting to one hour.
func (s SchedulerConfig) Interval() time.Duration {
	return parseDuration(s.PollInterval, time.Hour)
}

// TimeoutsConfig bounds every network-facing operation.
type TimeoutsConfig struct {
	Mailbox string `yaml:"mailbox"`
	Fetch   string `yaml:"fetch"`
	Score   string `yaml:"score"`
	Send    string `yaml:"send"`
}

func (t TimeoutsConfig) MailboxDuration() time.Duration {
	return parseDuration(t.Mailbox, 30*time.Second)
}

func (t TimeoutsConfig) FetchDuration() time.Duration {
	return parseDuration(t.Fetch, 10*time.Second)
}

func (t TimeoutsConfig) ScoreDuration() time.Duration {
	return parseDuration(t.Score, 20*time.Second)
}

func (t TimeoutsConfig) SendDuration() time.Duration {
	return parseDuration(t.Send, 30*time.Second)
}

// SourceRule maps inbound senders to a configured newsletter source.
// Rules are evaluated in declaration order; the first enabled match wins.
type SourceRule struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	FromPattern string `yaml:"from_pattern"`
	Priority    int    `yaml:"priority"`
	Enabled     *bool  `yaml:"enabled"`
	Folder      string `yaml:"folder"`
}

// IsEnabled reports whether the rule participates in matching. Rules are
// enabled unless the config says otherwise.
func (r SourceRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Load reads YAML configuration from path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(imapHostEnv); v != "" {
		c.IMAP.Host = v
	}
	if v := os.Getenv(imapUserEnv); v != "" {
		c.IMAP.Username = v
	}
	if v := os.Getenv(imapPasswordEnv); v != "" {
		c.IMAP.Password = v
	}
	if v := os.Getenv(smtpHostEnv); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv(smtpUserEnv); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv(recipientEnv); v != "" {
		c.Digest.Recipient = v
	}
}

func (c *Config) normalize() {
	if c.IMAP.Port == 0 {
		c.IMAP.Port = 993
	}
	if c.IMAP.ArchiveFolder == "" {
		c.IMAP.ArchiveFolder = defaultArchiveFolder
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.IMAP.Username
	}
	if c.SMTP.Password == "" {
		c.SMTP.Password = c.IMAP.Password
	}
	if c.Digest.Recipient == "" {
		c.Digest.Recipient = c.IMAP.Username
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
	}
	for i := range c.Sources {
		if c.Sources[i].Folder == "" {
			c.Sources[i].Folder = defaultFolder
		}
		if c.Sources[i].Priority < 1 {
			c.Sources[i].Priority = defaultPriority
		}
	}
}

// Validate checks the settings a run cannot proceed without.
func (c Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("config: imap.host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("config: imap.username is required")
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("config: smtp.host is required")
	}
	if c.Digest.Recipient == "" {
		return fmt.Errorf("config: digest.recipient is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source rule is required")
	}
	seen := map[string]bool{}
	for _, rule := range c.Sources {
		if rule.ID == "" {
			return fmt.Errorf("config: source rule without id")
		}
		if seen[rule.ID] {
			return fmt.Errorf("config: duplicate source rule id %q", rule.ID)
		}
		seen[rule.ID] = true
	}
	return nil
}

// EnabledSources returns the enabled rules in declaration order.
func (c Config) EnabledSources() []SourceRule {
	rules := make([]SourceRule, 0, len(c.Sources))
	for _, rule := range c.Sources {
		if rule.IsEnabled() {
			rules = append(rules, rule)
		}
	}
	return rules
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		OpenAI: OpenAIConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		State: StateConfig{Path: defaultStatePath},
	}
}
