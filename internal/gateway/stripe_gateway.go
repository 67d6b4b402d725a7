package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeConfig configures the Stripe Checkout adapter.
type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration
	// APIURL overrides the Stripe endpoint, used against stripe-mock and in tests.
	APIURL string
}

// StripeGateway opens Stripe Checkout Sessions in payment mode.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a Stripe client with a bounded HTTP timeout and no SDK level retries.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("missing STRIPE_SECRET_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeGateway{
		api: client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
	}, nil
}

// Name implements CheckoutGateway.
func (g *StripeGateway) Name() string { return "stripe" }

// CreateSession implements CheckoutGateway.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductLabel),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.OrderID, 10)),
	}
	for k, v := range req.Metadata() {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey())
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, unavailable(g.Name(), "create_session", err)
	}

	session := &Session{URL: s.URL, SessionID: s.ID}
	if s.PaymentIntent != nil {
		session.PaymentIntentID = s.PaymentIntent.ID
	}
	return session, nil
}

// RetrieveSession implements CheckoutGateway.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, unavailable(g.Name(), "retrieve_session", err)
	}

	status := &SessionStatus{
		SessionID:     s.ID,
		PaymentStatus: PaymentStatusUnpaid,
		Expired:       s.Status == stripe.CheckoutSessionStatusExpired,
		Metadata:      s.Metadata,
	}
	if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status.PaymentStatus = PaymentStatusPaid
	}
	if s.PaymentIntent != nil {
		status.PaymentIntentID = s.PaymentIntent.ID
	}
	return status, nil
}
