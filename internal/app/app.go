package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/andy/invoicepay/internal/config"
	"github.com/andy/invoicepay/internal/crypto"
	"github.com/andy/invoicepay/internal/db"
	"github.com/andy/invoicepay/internal/gateway"
	"github.com/andy/invoicepay/internal/logger"
	"github.com/andy/invoicepay/internal/notify"
	"github.com/andy/invoicepay/internal/repository"
	"github.com/andy/invoicepay/internal/server"
	"github.com/andy/invoicepay/internal/service"
	"github.com/andy/invoicepay/internal/webhook"
	"github.com/andy/invoicepay/internal/worker"
)

// App is the dependency injection container for all application components
type App struct {
	Config *config.Config
	DB     *db.DB // nil with the memory driver

	// Repositories
	InvoiceRepo repository.InvoiceRepository
	PaymentRepo repository.PaymentRepository

	// Collaborators
	Gateway  *gateway.Adapter
	Notifier notify.Notifier

	// Services
	InvoiceService service.InvoiceService
	WebhookService service.WebhookService
	ReportService  service.ReportService
	Reconciler     *worker.Reconciler

	closers []io.Closer
}

// New creates a new App instance, initializing all dependencies.
// It handles:
// 1. Loading config and filling secrets from the keyring
// 2. Setting up logging and opening the database
// 3. Creating repositories, the gateway and the notifier fan-out
// 4. Creating services
func New(ctx context.Context) (*App, error) {
	keyring := crypto.NewKeyring()

	cfg, err := config.LoadDefault(secretsFrom(keyring))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates an App with a provided config (useful for testing)
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logs, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a := &App{Config: cfg, closers: []io.Closer{logs}}

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	processor, err := newProcessor(cfg.Gateway)
	if err != nil {
		a.Close()
		return nil, err
	}

	issuer := gateway.Issuer{
		Name:    cfg.User.Name,
		Email:   cfg.User.Email,
		Address: cfg.User.Address,
		Phone:   cfg.User.Phone,
	}

	a.Gateway = gateway.NewAdapter(
		processor,
		a.PaymentRepo,
		gateway.NewOutboxMailer(cfg.Invoice.OutboxDir, cfg.User.Email, logger.WithComponent("mailer")),
		gateway.NewPDFRenderer(cfg.Invoice.OutputDir, issuer),
		gateway.RetryConfig{
			Timeout:        cfg.Gateway.Timeout,
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
		},
		logger.WithComponent("gateway"),
	)
	a.Notifier = a.newNotifier()

	opts := service.Options{
		NumberPrefix:          cfg.Invoice.NumberPrefix,
		Currency:              cfg.Invoice.Currency,
		DefaultDueDays:        cfg.Invoice.DefaultDueDays,
		AcceptPartialPayments: cfg.Invoice.AcceptPartialPayments,
		Issuer:                issuer,
	}

	a.InvoiceService = service.NewInvoiceService(a.InvoiceRepo, a.Gateway, a.Notifier, opts, logger.WithComponent("invoices"))
	a.WebhookService = service.NewWebhookService(
		a.InvoiceRepo,
		a.PaymentRepo,
		webhook.NewVerifier(cfg.Webhook.Secret),
		a.Notifier,
		opts,
		logger.WithComponent("webhooks"),
	)
	a.ReportService = service.NewReportService(a.InvoiceRepo, nil)
	a.Reconciler = worker.NewReconciler(a.PaymentRepo, a.Gateway, a.WebhookService, worker.Options{
		Interval:    cfg.Worker.Interval,
		StaleAfter:  cfg.Worker.StaleAfter,
		Concurrency: cfg.Worker.Concurrency,
	}, logger.WithComponent("reconciler"))

	return a, nil
}

func (a *App) openStore() error {
	if a.Config.Database.Driver == "memory" {
		a.InvoiceRepo = repository.NewMemoryInvoiceRepo()
		a.PaymentRepo = repository.NewMemoryPaymentRepo()
		return nil
	}

	keyring := crypto.NewKeyring()

	// Try to get existing encryption key
	password, err := keyring.Get(crypto.DBKeyName)
	if err != nil {
		// No key exists, prompt user to set one
		fmt.Println("Setting up database encryption for the first time...")
		password, err = promptForPassword()
		if err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}

		if err := keyring.Set(crypto.DBKeyName, password); err != nil {
			return fmt.Errorf("failed to store encryption key: %w", err)
		}
	}

	database, err := db.Open(a.Config.Database.Path, password)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.RunMigrations(); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.DB = database
	a.InvoiceRepo = repository.NewInvoiceRepo(database)
	a.PaymentRepo = repository.NewPaymentRepo(database)
	return nil
}

func newProcessor(cfg config.GatewayConfig) (gateway.Processor, error) {
	switch cfg.Provider {
	case "stripe":
		return gateway.NewStripe(cfg.StripeSecretKey, cfg.StripePaymentMethod), nil
	case "simulated", "":
		policy := gateway.Approve()
		if cfg.DeclineRate > 0 {
			policy = gateway.RandomDecline(cfg.DeclineRate, rand.New(rand.NewSource(time.Now().UnixNano())))
		}
		return gateway.NewSimulated(policy, cfg.LinkBaseURL, cfg.Latency), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
}

// newNotifier fans outcomes out to the log and to whichever brokers are
// configured. A broker that cannot be reached is skipped with a warning.
func (a *App) newNotifier() notify.Notifier {
	log := logger.WithComponent("notify")
	sinks := notify.Multi{notify.NewLogNotifier(log)}

	if len(a.Config.Notify.KafkaBrokers) > 0 {
		k := notify.NewKafkaNotifier(a.Config.Notify.KafkaBrokers, a.Config.Notify.KafkaTopic)
		sinks = append(sinks, k)
		a.closers = append(a.closers, k)
	}

	if a.Config.Notify.AMQPURL != "" {
		q, err := notify.NewAMQPNotifier(a.Config.Notify.AMQPURL, a.Config.Notify.AMQPQueue)
		if err != nil {
			log.Warn().Err(err).Msg("AMQP notifications disabled")
		} else {
			sinks = append(sinks, q)
			a.closers = append(a.closers, q)
		}
	}

	return sinks
}

// Server returns the HTTP server for webhooks and the invoice API
func (a *App) Server() *server.Server {
	return server.NewServer(a.InvoiceService, a.WebhookService, logger.WithComponent("http"))
}

// Reset deletes every invoice, intent and link
func (a *App) Reset(ctx context.Context) error {
	if a.DB == nil {
		return errors.New("the memory store keeps nothing between runs")
	}
	return a.DB.Truncate(ctx, db.Tables...)
}

// Close cleanly shuts down the application
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	// Log output closes last
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// SaveConfig saves the current configuration to disk
func (a *App) SaveConfig() error {
	return a.Config.Save(config.DefaultConfigPath())
}

// secretsFrom fills secrets the environment did not provide from the keyring
func secretsFrom(keyring crypto.Keyring) func(*config.Config) {
	return func(cfg *config.Config) {
		if cfg.Gateway.StripeSecretKey == "" {
			if key, err := keyring.Get(crypto.StripeKeyName); err == nil {
				cfg.Gateway.StripeSecretKey = key
			}
		}
		if cfg.Webhook.Secret == "" {
			if secret, err := keyring.Get(crypto.WebhookSecretName); err == nil {
				cfg.Webhook.Secret = secret
			}
		}
	}
}

// promptForPassword prompts user for a new database password (first run)
// This should be called when keyring has no stored key
func promptForPassword() (string, error) {
	fmt.Println()
	fmt.Println("Your invoices and payment records will be encrypted with a password.")
	fmt.Println("This password will be stored securely in your system keyring.")
	fmt.Println()
	fmt.Print("Enter a password for database encryption: ")

	// Read password securely (no echo)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}

	fmt.Println()
	fmt.Println("✓ Database encryption configured successfully")
	fmt.Println()

	return string(password), nil
}
