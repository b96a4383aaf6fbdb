package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SyncConfig controls the sync engine's cycle cadence and limits.
type SyncConfig struct {
	// IntervalMinutes is how often a sync cycle runs.
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`

	// MaxEmailsPerSync bounds the batch fetched in one cycle.
	MaxEmailsPerSync int `mapstructure:"max_emails_per_sync" yaml:"max_emails_per_sync"`

	// Workers bounds concurrent classification/extraction calls, which
	// translate directly into outstanding LLM requests.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// RetryCeiling is the number of failed classification attempts after
	// which an email is marked permanently unclassified.
	RetryCeiling int `mapstructure:"retry_ceiling" yaml:"retry_ceiling"`
}

// Interval returns the cycle period as a duration.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LLMConfig selects and tunes the language-model backend.
type LLMConfig struct {
	// Provider is one of "anthropic", "openai", "gemini".
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// GmailConfig holds OAuth file locations for the Gmail adapter.
type GmailConfig struct {
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	TokenPath       string `mapstructure:"token_path" yaml:"token_path"`
}

// IMAPConfig holds connection settings for the IMAP/SMTP adapter.
// The account password lives in the system keyring, not here.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// MailConfig selects the provider adapter.
type MailConfig struct {
	// Provider is one of "gmail", "imap".
	Provider string      `mapstructure:"provider" yaml:"provider"`
	Gmail    GmailConfig `mapstructure:"gmail" yaml:"gmail"`
	IMAP     IMAPConfig  `mapstructure:"imap" yaml:"imap"`
}

// ClassificationConfig holds the optional review gate. When
// ReviewThreshold is > 0, classifications below it are stored but no
// label is written to the provider; a review notification is recorded
// instead.
type ClassificationConfig struct {
	ReviewThreshold float64 `mapstructure:"review_threshold" yaml:"review_threshold"`
}

// ConversationConfig bounds the in-memory conversation window.
type ConversationConfig struct {
	WindowTurns int `mapstructure:"window_turns" yaml:"window_turns"`
}

// ReminderConfig controls meeting reminder scheduling.
type ReminderConfig struct {
	LeadMinutes int `mapstructure:"lead_minutes" yaml:"lead_minutes"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DBPath         string               `mapstructure:"db_path" yaml:"db_path"`
	Sync           SyncConfig           `mapstructure:"sync" yaml:"sync"`
	LLM            LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Mail           MailConfig           `mapstructure:"mail" yaml:"mail"`
	Classification ClassificationConfig `mapstructure:"classification" yaml:"classification"`
	Conversation   ConversationConfig   `mapstructure:"conversation" yaml:"conversation"`
	Reminder       ReminderConfig       `mapstructure:"reminder" yaml:"reminder"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/emailagent/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "emailagent", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath: filepath.Join("data", "emails.db"),
		Sync: SyncConfig{
			IntervalMinutes:  5,
			MaxEmailsPerSync: 50,
			Workers:          4,
			RetryCeiling:     3,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "",
			MaxTokens: 1024,
		},
		Mail: MailConfig{
			Provider: "gmail",
			Gmail: GmailConfig{
				CredentialsPath: "credentials.json",
				TokenPath:       "token.json",
			},
		},
		Conversation: ConversationConfig{WindowTurns: 20},
		Reminder:     ReminderConfig{LeadMinutes: 15},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", filepath.Join("data", "emails.db"))
	v.SetDefault("sync.interval_minutes", 5)
	v.SetDefault("sync.max_emails_per_sync", 50)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.retry_ceiling", 3)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("mail.provider", "gmail")
	v.SetDefault("mail.gmail.credentials_path", "credentials.json")
	v.SetDefault("mail.gmail.token_path", "token.json")
	v.SetDefault("classification.review_threshold", 0.0)
	v.SetDefault("conversation.window_turns", 20)
	v.SetDefault("reminder.lead_minutes", 15)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("sync", cfg.Sync)
	v.Set("llm", cfg.LLM)
	v.Set("mail", cfg.Mail)
	v.Set("classification", cfg.Classification)
	v.Set("conversation", cfg.Conversation)
	v.Set("reminder", cfg.Reminder)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
