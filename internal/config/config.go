// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultPort is the SMTP submission port.
const defaultPort = 587

// Backends lists the backend tags the bridge knows how to deliver through.
var Backends = []string{"smtp", "sendgrid", "mailgun", "ses", "graph", "resend", "stdout"}

var (
	// hostBackends need transport.host (server, domain, region or tenant).
	hostBackends = []string{"smtp", "mailgun", "ses", "graph"}
	// usernameBackends need transport.username (API key or client id).
	usernameBackends = []string{"sendgrid", "mailgun", "resend", "graph"}
)

// Config holds the complete application configuration.
type Config struct {
	Backend   string          `yaml:"backend" validate:"required,oneof=smtp sendgrid mailgun ses graph resend stdout"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig holds the shared connection settings every backend reads
// its own fields from.
type TransportConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	SMTPEnabled bool   `yaml:"smtp_enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks that the backend is known and that the transport carries
// the fields that backend reads.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(backendRequirements, Config{})

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("invalid config: %w", err)
		}

		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}

func backendRequirements(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	if slices.Contains(hostBackends, c.Backend) && c.Transport.Host == "" {
		sl.ReportError(c.Transport.Host, "Transport.Host", "Host", "required_for_backend", c.Backend)
	}
	if slices.Contains(usernameBackends, c.Backend) && c.Transport.Username == "" {
		sl.ReportError(c.Transport.Username, "Transport.Username", "Username", "required_for_backend", c.Backend)
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Backend = "smtp"
	c.Transport.Port = defaultPort
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("MAIL_BACKEND"); v != "" {
		c.Backend = v
	}

	if v := os.Getenv("MAIL_HOST"); v != "" {
		c.Transport.Host = v
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Transport.Port = port
		}
	}
	if v := os.Getenv("MAIL_USERNAME"); v != "" {
		c.Transport.Username = v
	}
	if v := os.Getenv("MAIL_PASSWORD"); v != "" {
		c.Transport.Password = v
	}
	if v := os.Getenv("MAIL_SMTP_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Transport.SMTPEnabled = enabled
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
