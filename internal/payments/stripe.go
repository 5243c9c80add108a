package payments

import (
	"context"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Client is the hold/capture/release surface the coordinator drives:
// a hold for the estimated fare when a driver is assigned, capture of
// the final fare at completion, release on cancellation.
type Client interface {
	Hold(ctx context.Context, amountARS float64, paymentRef string) (string, error)
	Capture(ctx context.Context, holdID string, amountARS float64) error
	Release(ctx context.Context, holdID string) error
}

// StripeClient implements Client on Stripe PaymentIntents with manual
// capture.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold the
// estimated fare. Amounts are in ARS; Stripe wants centavos.
func (s *StripeClient) Hold(ctx context.Context, amountARS float64, paymentRef string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toCentavos(amountARS)),
		Currency: stripe.String("ars"),
	}
	if paymentRef != "" {
		params.Customer = stripe.String(paymentRef)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent at the actual fare.
func (s *StripeClient) Capture(ctx context.Context, holdID string, amountARS float64) error {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(toCentavos(amountARS)),
	}
	_, err := paymentintent.Capture(holdID, params)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeClient) Release(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}

func toCentavos(ars float64) int64 {
	return int64(math.Round(ars * 100))
}
