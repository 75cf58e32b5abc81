package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/andy/invoicepay/internal/domain"
)

// Stripe implements Processor against the Stripe API
type Stripe struct {
	client *client.API
	// paymentMethod is attached on confirm; test mode uses pm_card_visa
	paymentMethod string
}

// NewStripe creates a Stripe processor with the provided secret key
func NewStripe(secretKey, paymentMethod string) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Stripe{client: sc, paymentMethod: paymentMethod}
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String("Invoice " + req.InvoiceNumber),
	}
	params.AddMetadata("invoice_id", req.InvoiceID)
	params.AddMetadata("invoice_number", req.InvoiceNumber)
	// A retried create returns the first intent instead of a second charge
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromStripeIntent(pi, req.InvoiceID), nil
}

func (s *Stripe) ConfirmIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if s.paymentMethod != "" {
		params.PaymentMethod = stripe.String(s.paymentMethod)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	// Network success is not payment success
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		reason := string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return nil, &domain.PaymentDeclinedError{Reason: reason}
	}
	return fromStripeIntent(pi, ""), nil
}

func (s *Stripe) GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromStripeIntent(pi, ""), nil
}

// CreateLink creates a one-off price for the invoice amount and a payment link for it
func (s *Stripe) CreateLink(ctx context.Context, req LinkRequest) (*domain.PaymentLink, error) {
	name := req.Description
	if name == "" {
		name = "Invoice " + req.InvoiceNumber
	}

	priceParams := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(req.AmountMinor),
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(name),
		},
	}
	priceParams.Context = ctx

	price, err := s.client.Prices.New(priceParams)
	if err != nil {
		return nil, mapStripeError(err)
	}

	linkParams := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{
			{Price: stripe.String(price.ID), Quantity: stripe.Int64(1)},
		},
		// Carried onto the intent so webhooks can find the invoice
		PaymentIntentData: &stripe.PaymentLinkPaymentIntentDataParams{
			Metadata: map[string]string{"invoice_id": req.InvoiceID},
		},
	}
	linkParams.AddMetadata("invoice_id", req.InvoiceID)
	linkParams.Context = ctx

	pl, err := s.client.PaymentLinks.New(linkParams)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return &domain.PaymentLink{
		ID:        pl.ID,
		InvoiceID: req.InvoiceID,
		URL:       pl.URL,
		Active:    pl.Active,
		CreatedAt: time.Now(),
	}, nil
}

func (s *Stripe) DeactivateLink(ctx context.Context, linkID string) error {
	params := &stripe.PaymentLinkParams{Active: stripe.Bool(false)}
	params.Context = ctx

	if _, err := s.client.PaymentLinks.Update(linkID, params); err != nil {
		return mapStripeError(err)
	}
	return nil
}

func fromStripeIntent(pi *stripe.PaymentIntent, invoiceID string) *domain.PaymentIntent {
	if invoiceID == "" {
		invoiceID = pi.Metadata["invoice_id"]
	}
	out := &domain.PaymentIntent{
		ID:                  pi.ID,
		InvoiceID:           invoiceID,
		AmountMinorUnits:    pi.Amount,
		AmountReceivedMinor: pi.AmountReceived,
		Currency:            strings.ToUpper(string(pi.Currency)),
		CreatedAt:           time.Unix(pi.Created, 0),
		UpdatedAt:           time.Now(),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = domain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = domain.IntentStatusFailed
		out.FailureReason = "canceled"
	default:
		// processing, requires_action and friends stay pending
		out.Status = domain.IntentStatusRequiresPaymentMethod
		if pi.LastPaymentError != nil {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return out
}

// mapStripeError converts stripe-go errors into domain errors so the
// service layer never sees provider types
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined, stripe.ErrorCodeExpiredCard,
			stripe.ErrorCodeBalanceInsufficient, stripe.ErrorCodeIncorrectCVC:
			return &domain.PaymentDeclinedError{Reason: stripeErr.Msg}
		case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout:
			return domain.Unavailable(err)
		}
		if stripeErr.Type == stripe.ErrorTypeCard {
			return &domain.PaymentDeclinedError{Reason: stripeErr.Msg}
		}
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return domain.Unavailable(err)
		}
		return fmt.Errorf("stripe request rejected: %w", err)
	}
	if IsRetryable(err) {
		return domain.Unavailable(err)
	}
	return fmt.Errorf("gateway internal error: %w", err)
}
