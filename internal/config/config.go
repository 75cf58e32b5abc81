package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andy/invoicepay/internal/logger"
)

type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// Invoice settings
	Invoice InvoiceConfig `yaml:"invoice"`

	// Payment provider settings
	Gateway GatewayConfig `yaml:"gateway"`

	// Webhook listener
	Webhook WebhookConfig `yaml:"webhook"`

	// Background reconciliation of pending intents
	Worker WorkerConfig `yaml:"worker"`

	// Outcome fan-out
	Notify NotifyConfig `yaml:"notify"`

	Log logger.Config `yaml:"log"`

	// User info for invoices
	User UserConfig `yaml:"user"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlcipher or memory
	Path   string `yaml:"path"`   // Path to SQLCipher database
}

type InvoiceConfig struct {
	DefaultDueDays        int    `yaml:"default_due_days"`        // Days until invoice due
	NumberPrefix          string `yaml:"number_prefix"`           // Invoice number prefix (e.g., "INV")
	Currency              string `yaml:"currency"`                // ISO code for new invoices
	OutputDir             string `yaml:"output_dir"`              // Directory for generated PDFs
	OutboxDir             string `yaml:"outbox_dir"`              // Directory for outgoing emails
	AcceptPartialPayments bool   `yaml:"accept_partial_payments"` // Mark paid when less than the total arrives
}

type GatewayConfig struct {
	Provider       string        `yaml:"provider"` // simulated or stripe
	Timeout        time.Duration `yaml:"timeout"`  // Per attempt
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// Simulated provider only
	DeclineRate float64       `yaml:"decline_rate"`
	Latency     time.Duration `yaml:"latency"`
	LinkBaseURL string        `yaml:"link_base_url"`

	// Stripe provider only. The key is normally supplied by STRIPE_SECRET_KEY
	// or the keyring.
	StripeSecretKey     string `yaml:"stripe_secret_key,omitempty"`
	StripePaymentMethod string `yaml:"stripe_payment_method"`
}

type WebhookConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret,omitempty"` // Stripe signing secret; empty disables verification
}

type WorkerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	Concurrency int           `yaml:"concurrency"`
}

type NotifyConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	AMQPURL      string   `yaml:"amqp_url,omitempty"`
	AMQPQueue    string   `yaml:"amqp_queue"`
}

type UserConfig struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Address string `yaml:"address"`
	Phone   string `yaml:"phone"`
}

// Dir returns ~/.config/invoicepay
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir unavailable
		homeDir = "."
	}
	return filepath.Join(homeDir, ".config", "invoicepay")
}

// DefaultConfigPath returns ~/.config/invoicepay/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	dir := Dir()

	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlcipher",
			Path:   filepath.Join(dir, "invoicepay.db"),
		},
		Invoice: InvoiceConfig{
			DefaultDueDays: 30,
			NumberPrefix:   "INV",
			Currency:       "USD",
			OutputDir:      filepath.Join(dir, "invoices"),
			OutboxDir:      filepath.Join(dir, "outbox"),
		},
		Gateway: GatewayConfig{
			Provider:            "simulated",
			Timeout:             10 * time.Second,
			MaxAttempts:         3,
			InitialBackoff:      200 * time.Millisecond,
			MaxBackoff:          5 * time.Second,
			DeclineRate:         0,
			LinkBaseURL:         "https://pay.invoicepay.local/l",
			StripePaymentMethod: "pm_card_visa",
		},
		Webhook: WebhookConfig{
			Addr: "127.0.0.1:8088",
		},
		Worker: WorkerConfig{
			Interval:    time.Minute,
			StaleAfter:  10 * time.Minute,
			Concurrency: 4,
		},
		Notify: NotifyConfig{
			KafkaTopic: "invoicepay.outcomes",
			AMQPQueue:  "invoicepay.outcomes",
		},
		Log: logger.DefaultConfig(),
	}
}

// Load loads config from the given path, or returns defaults if file doesn't exist
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads from the default config path and applies environment
// overrides. Each resolver runs after the environment and before validation,
// e.g. to fill secrets from the keyring.
func LoadDefault(resolvers ...func(*Config)) (*Config, error) {
	cfg, err := Load(DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	for _, resolve := range resolvers {
		resolve(cfg)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from the environment. Secrets belong here or in
// the keyring rather than in the YAML file.
func (c *Config) ApplyEnv() {
	c.Gateway.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", c.Gateway.StripeSecretKey)
	c.Webhook.Secret = getEnv("STRIPE_WEBHOOK_SECRET", c.Webhook.Secret)
	c.Gateway.Provider = getEnv("INVOICEPAY_GATEWAY", c.Gateway.Provider)
	c.Webhook.Addr = getEnv("INVOICEPAY_WEBHOOK_ADDR", c.Webhook.Addr)
	c.Database.Path = getEnv("INVOICEPAY_DB_PATH", c.Database.Path)
	c.Log.Level = getEnv("INVOICEPAY_LOG_LEVEL", c.Log.Level)
	c.Notify.AMQPURL = getEnv("INVOICEPAY_AMQP_URL", c.Notify.AMQPURL)

	if brokers := os.Getenv("INVOICEPAY_KAFKA_BROKERS"); brokers != "" {
		c.Notify.KafkaBrokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Notify.KafkaBrokers = append(c.Notify.KafkaBrokers, b)
			}
		}
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlcipher", "memory":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	switch c.Gateway.Provider {
	case "simulated":
	case "stripe":
		if c.Gateway.StripeSecretKey == "" {
			return fmt.Errorf("gateway.provider is stripe but no STRIPE_SECRET_KEY is set")
		}
	default:
		return fmt.Errorf("gateway.provider: unknown provider %q", c.Gateway.Provider)
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be at least 1")
	}
	if c.Gateway.DeclineRate < 0 || c.Gateway.DeclineRate > 1 {
		return fmt.Errorf("gateway.decline_rate must be between 0 and 1")
	}
	if c.Invoice.DefaultDueDays < 0 {
		return fmt.Errorf("invoice.default_due_days cannot be negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	return nil
}

// Save writes the config to the given path. Secrets are not written.
func (c *Config) Save(path string) error {
	// Create parent directories if they don't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	out := *c
	out.Gateway.StripeSecretKey = ""
	out.Webhook.Secret = ""
	out.Notify.AMQPURL = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDirectories creates all necessary directories (for database, invoices, etc.)
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Invoice.OutputDir, c.Invoice.OutboxDir}
	if c.Database.Driver == "sqlcipher" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
