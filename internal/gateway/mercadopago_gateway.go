package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/mercadopago/sdk-go/pkg/requester"
)

const (
	mercadoPagoApproved       = "approved"
	mercadoPagoIdempotencyHdr = "X-Idempotency-Key"
)

type idempotencyKeyCtx struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// idempotentRequester replaces the SDK's per-request random idempotency
// header with the order-derived key carried on the request context.
type idempotentRequester struct {
	next requester.Requester
}

func (r idempotentRequester) Do(req *http.Request) (*http.Response, error) {
	if key, ok := req.Context().Value(idempotencyKeyCtx{}).(string); ok && key != "" {
		req.Header.Set(mercadoPagoIdempotencyHdr, key)
	}
	return r.next.Do(req)
}

type preferenceAPI interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
	Get(ctx context.Context, id string) (*preference.Response, error)
}

type paymentSearchAPI interface {
	Search(ctx context.Context, request payment.SearchRequest) (*payment.SearchResponse, error)
}

// MercadoPagoGateway maps checkout sessions onto Checkout Pro preferences.
// The preference id is the session id and the order id travels as external_reference.
type MercadoPagoGateway struct {
	preferences preferenceAPI
	payments    paymentSearchAPI
	timeout     time.Duration
}

// NewMercadoPagoGateway builds the SDK clients from an access token.
func NewMercadoPagoGateway(accessToken string, timeout time.Duration) (*MercadoPagoGateway, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return newMercadoPagoGateway(accessToken, timeout, &http.Client{Timeout: timeout})
}

func newMercadoPagoGateway(accessToken string, timeout time.Duration, next requester.Requester) (*MercadoPagoGateway, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("missing MERCADOPAGO_ACCESS_TOKEN")
	}
	cfg, err := config.New(accessToken, config.WithHTTPClient(idempotentRequester{next: next}))
	if err != nil {
		return nil, fmt.Errorf("create mercadopago config: %w", err)
	}
	return &MercadoPagoGateway{
		preferences: preference.NewClient(cfg),
		payments:    payment.NewClient(cfg),
		timeout:     timeout,
	}, nil
}

// Name implements CheckoutGateway.
func (g *MercadoPagoGateway) Name() string { return "mercadopago" }

// CreateSession implements CheckoutGateway.
func (g *MercadoPagoGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, cancel := context.WithTimeout(withIdempotencyKey(ctx, req.IdempotencyKey()), g.timeout)
	defer cancel()

	metadata := make(map[string]any, 3)
	for k, v := range req.Metadata() {
		metadata[k] = v
	}

	resp, err := g.preferences.Create(ctx, preference.Request{
		Items: []preference.ItemRequest{
			{
				ID:         strconv.FormatInt(req.ClassroomID, 10),
				Title:      req.ProductLabel,
				CurrencyID: strings.ToUpper(req.Currency),
				Quantity:   1,
				UnitPrice:  float64(req.AmountCents) / 100,
			},
		},
		BackURLs: &preference.BackURLsRequest{
			Success: req.SuccessURL,
			Pending: req.SuccessURL,
			Failure: req.CancelURL,
		},
		AutoReturn:        "approved",
		ExternalReference: strconv.FormatInt(req.OrderID, 10),
		Metadata:          metadata,
	})
	if err != nil {
		return nil, unavailable(g.Name(), "create_session", err)
	}

	return &Session{URL: resp.InitPoint, SessionID: resp.ID}, nil
}

// RetrieveSession implements CheckoutGateway. The preference is paid once any
// payment carrying its external reference is approved.
func (g *MercadoPagoGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pref, err := g.preferences.Get(ctx, sessionID)
	if err != nil {
		return nil, unavailable(g.Name(), "retrieve_session", err)
	}

	status := &SessionStatus{
		SessionID:     pref.ID,
		PaymentStatus: PaymentStatusUnpaid,
		Metadata:      map[string]string{},
	}
	for k, v := range pref.Metadata {
		status.Metadata[k] = fmt.Sprint(v)
	}
	// Mercado Pago rewrites metadata keys to snake_case; the external reference is authoritative.
	if pref.ExternalReference != "" {
		status.Metadata[MetadataOrderID] = pref.ExternalReference
	}
	if pref.ExternalReference == "" {
		return status, nil
	}

	result, err := g.payments.Search(ctx, payment.SearchRequest{
		Filters: map[string]string{"external_reference": pref.ExternalReference},
	})
	if err != nil {
		return nil, unavailable(g.Name(), "search_payments", err)
	}
	for _, p := range result.Results {
		if p.Status == mercadoPagoApproved {
			status.PaymentStatus = PaymentStatusPaid
			status.PaymentIntentID = fmt.Sprintf("%d", p.ID)
			break
		}
	}
	return status, nil
}
