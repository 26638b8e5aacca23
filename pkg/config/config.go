// Package config loads the samplecove service configuration.
//
// The configuration is read once at startup and treated as immutable for
// the lifetime of the process; every subsystem receives it by reference.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Default values applied when the corresponding key is not set.
const (
	DefaultListenAddress = "127.0.0.1:8080"
	DefaultDatabasePath  = "samplecove.db"
	DefaultStorageDir    = "samples"
	DefaultSMTPPort      = 25
)

// Config holds the service configuration. Read-only after Load.
type Config struct {
	// SecretKey signs every token minted by the token service.
	SecretKey string `mapstructure:"secret_key"`

	// MailFrom is the sender address for notification mail.
	MailFrom string `mapstructure:"mail_from"`

	// MailSMTP is the SMTP relay as "host" or "host:port" (default port 25).
	MailSMTP string `mapstructure:"mail_smtp"`

	// BaseURL is the externally visible URL used in mail templates.
	BaseURL string `mapstructure:"base_url"`

	// AdminLogin is the login allowed through maintenance mode.
	AdminLogin string `mapstructure:"admin_login"`

	// RecaptchaSecret enables captcha verification on registration when set.
	RecaptchaSecret string `mapstructure:"recaptcha_secret"`

	// EnableRegistration opens the self-service registration endpoint.
	EnableRegistration bool `mapstructure:"enable_registration"`

	// EnableMaintenance refuses logins from everyone but AdminLogin.
	EnableMaintenance bool `mapstructure:"enable_maintenance"`

	// ListenAddress is the HTTP bind address.
	ListenAddress string `mapstructure:"listen_address"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `mapstructure:"database_path"`

	// StorageDir is the root directory for uploaded file content.
	StorageDir string `mapstructure:"storage_dir"`

	// MailTemplatesDir overrides the embedded mail templates when set.
	MailTemplatesDir string `mapstructure:"mail_templates_dir"`
}

// Load reads configuration from the given file (optional) and from
// SAMPLECOVE_* environment variables, then validates required keys.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("samplecove")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", DefaultListenAddress)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("storage_dir", DefaultStorageDir)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	required := map[string]string{
		"secret_key":  c.SecretKey,
		"mail_from":   c.MailFrom,
		"mail_smtp":   c.MailSMTP,
		"base_url":    c.BaseURL,
		"admin_login": c.AdminLogin,
	}
	for key, value := range required {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SMTPAddr splits MailSMTP into host and port, defaulting the port to 25.
func (c *Config) SMTPAddr() (host string, port int) {
	host = c.MailSMTP
	port = DefaultSMTPPort
	if i := strings.LastIndex(c.MailSMTP, ":"); i >= 0 {
		host = c.MailSMTP[:i]
		if _, err := fmt.Sscanf(c.MailSMTP[i+1:], "%d", &port); err != nil {
			port = DefaultSMTPPort
		}
	}
	return host, port
}
