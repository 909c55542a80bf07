package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSubjectFilter selects "money received" notifications in the inbox.
const DefaultSubjectFilter = "subject:'You received money with Zelle(R)'"

// Mail source kinds.
const (
	MailSourceGmail = "gmail"
	MailSourceFile  = "file"
	MailSourceNone  = "none"
)

type Config struct {
	Port     string `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	SeedFile string `yaml:"seed_file"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Poll PollConfig `yaml:"poll"`
	Mail MailConfig `yaml:"mail"`
}

type PollConfig struct {
	Interval      time.Duration `yaml:"interval"`
	SubjectFilter string        `yaml:"subject_filter"`
	// PersistUnparseable stores messages with no extractable fields as
	// null-field receipts so they are skipped on later polls.
	PersistUnparseable bool `yaml:"persist_unparseable"`
	// ExitOnUnauthenticated makes the first poll fatal when the mailbox
	// has no usable credentials.
	ExitOnUnauthenticated bool `yaml:"exit_on_unauthenticated"`
}

type MailConfig struct {
	Source          string `yaml:"source"`
	MailboxFile     string `yaml:"mailbox_file"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

func defaults() *Config {
	return &Config{
		Port:            "8080",
		DBPath:          "receipts.db",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Poll: PollConfig{
			Interval:           time.Hour,
			SubjectFilter:      DefaultSubjectFilter,
			PersistUnparseable: true,
		},
		Mail: MailConfig{
			Source:          MailSourceNone,
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DBPath, "DB_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.SeedFile, "SEED_FILE")
	setString(&c.Poll.SubjectFilter, "POLL_SUBJECT_FILTER")
	setString(&c.Mail.Source, "MAIL_SOURCE")
	setString(&c.Mail.MailboxFile, "MAILBOX_FILE")
	setString(&c.Mail.CredentialsFile, "GMAIL_CREDENTIALS_FILE")
	setString(&c.Mail.TokenFile, "GMAIL_TOKEN_FILE")

	if err := setDuration(&c.Poll.Interval, "POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}
	if err := setBool(&c.Poll.PersistUnparseable, "PERSIST_UNPARSEABLE"); err != nil {
		return err
	}
	if err := setBool(&c.Poll.ExitOnUnauthenticated, "EXIT_ON_UNAUTHENTICATED"); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Poll.Interval)
	}
	switch c.Mail.Source {
	case MailSourceGmail, MailSourceNone:
	case MailSourceFile:
		if c.Mail.MailboxFile == "" {
			return fmt.Errorf("mail source %q requires a mailbox file", c.Mail.Source)
		}
	default:
		return fmt.Errorf("unknown mail source %q", c.Mail.Source)
	}
	return nil
}

// --- helpers ---

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
