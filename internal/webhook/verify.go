package webhook

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/andy/invoicepay/internal/domain"
)

// SignatureHeader carries the Stripe signature
const SignatureHeader = "Stripe-Signature"

// Verifier checks payload signatures. With an empty secret every payload is
// accepted.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

func (v *Verifier) Verify(payload []byte, signature string) error {
	if !v.Enabled() {
		return nil
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, v.secret, v.tolerance); err != nil {
		return &domain.ValidationError{Field: SignatureHeader, Message: fmt.Sprintf("signature rejected: %v", err)}
	}
	return nil
}
