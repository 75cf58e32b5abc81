package crypto

import "strings"

// Keyring stores named secrets outside the config file
type Keyring interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	IsAvailable() bool
}

const (
	ServiceName = "invoicepay"

	DBKeyName         = "db-encryption-key"
	StripeKeyName     = "stripe-secret-key"
	WebhookSecretName = "stripe-webhook-secret"
)

// NewKeyring returns the best available keyring implementation
func NewKeyring() Keyring {
	return newPlatformKeyring()
}

// EnvName is the environment variable that stands in for a secret when no OS
// keyring is available, e.g. db-encryption-key -> INVOICEPAY_DB_ENCRYPTION_KEY
func EnvName(name string) string {
	return "INVOICEPAY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
