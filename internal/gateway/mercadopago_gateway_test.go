package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePreferences struct {
	created preference.Request
	stored  *preference.Response
	err     error
}

func (f *fakePreferences) Create(ctx context.Context, req preference.Request) (*preference.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = req
	return &preference.Response{ID: "pref_1", InitPoint: "https://mp.test/init/pref_1"}, nil
}

func (f *fakePreferences) Get(ctx context.Context, id string) (*preference.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stored, nil
}

type fakePaymentSearch struct {
	gotFilters map[string]string
	results    []payment.Response
}

func (f *fakePaymentSearch) Search(ctx context.Context, req payment.SearchRequest) (*payment.SearchResponse, error) {
	f.gotFilters = req.Filters
	return &payment.SearchResponse{Results: f.results}, nil
}

func TestMercadoPagoCreateSession(t *testing.T) {
	prefs := &fakePreferences{}
	gw := &MercadoPagoGateway{preferences: prefs, payments: &fakePaymentSearch{}, timeout: time.Second}

	session, err := gw.CreateSession(context.Background(), sampleRequest(42))
	require.NoError(t, err)

	assert.Equal(t, "pref_1", session.SessionID)
	assert.Equal(t, "https://mp.test/init/pref_1", session.URL)
	assert.Equal(t, "42", prefs.created.ExternalReference)
	require.Len(t, prefs.created.Items, 1)
	assert.InDelta(t, 39.0, prefs.created.Items[0].UnitPrice, 1e-9)
	assert.Equal(t, "EUR", prefs.created.Items[0].CurrencyID)
	assert.Equal(t, "42", prefs.created.Metadata[MetadataOrderID])
}

func TestMercadoPagoRetrieveSessionPaid(t *testing.T) {
	search := &fakePaymentSearch{results: []payment.Response{{ID: 99, Status: "rejected"}, {ID: 100, Status: "approved"}}}
	gw := &MercadoPagoGateway{
		preferences: &fakePreferences{stored: &preference.Response{ID: "pref_1", ExternalReference: "42"}},
		payments:    search,
		timeout:     time.Second,
	}

	status, err := gw.RetrieveSession(context.Background(), "pref_1")
	require.NoError(t, err)
	assert.True(t, status.Paid())
	assert.Equal(t, "100", status.PaymentIntentID)
	assert.Equal(t, map[string]string{"external_reference": "42"}, search.gotFilters)
	id, ok := status.OrderID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestMercadoPagoRetrieveSessionUnpaid(t *testing.T) {
	gw := &MercadoPagoGateway{
		preferences: &fakePreferences{stored: &preference.Response{ID: "pref_1", ExternalReference: "42"}},
		payments:    &fakePaymentSearch{results: []payment.Response{{ID: 1, Status: "pending"}}},
		timeout:     time.Second,
	}

	status, err := gw.RetrieveSession(context.Background(), "pref_1")
	require.NoError(t, err)
	assert.False(t, status.Paid())
}

func TestMercadoPagoWrapsErrors(t *testing.T) {
	gw := &MercadoPagoGateway{preferences: &fakePreferences{err: errors.New("401 invalid token")}, payments: &fakePaymentSearch{}, timeout: time.Second}

	_, err := gw.CreateSession(context.Background(), sampleRequest(1))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	_, err = gw.RetrieveSession(context.Background(), "pref_1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

type recordedCall struct {
	method string
	key    string
}

// wireRequester stands in for the HTTP transport under the SDK.
type wireRequester struct {
	calls []recordedCall
}

func (w *wireRequester) Do(req *http.Request) (*http.Response, error) {
	w.calls = append(w.calls, recordedCall{method: req.Method, key: req.Header.Get(mercadoPagoIdempotencyHdr)})
	body := `{"id":"pref_1","init_point":"https://mp.test/init/pref_1","external_reference":"7"}`
	status := http.StatusCreated
	if req.Method == http.MethodGet {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestMercadoPagoCreateSessionSendsOrderIdempotencyKey(t *testing.T) {
	wire := &wireRequester{}
	gw, err := newMercadoPagoGateway("TEST-token", time.Second, wire)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		session, err := gw.CreateSession(context.Background(), sampleRequest(7))
		require.NoError(t, err)
		assert.Equal(t, "pref_1", session.SessionID)
	}

	require.Len(t, wire.calls, 2)
	for _, call := range wire.calls {
		assert.Equal(t, http.MethodPost, call.method)
		assert.Equal(t, "order_7_create_checkout", call.key)
	}
}

func TestMercadoPagoIdempotencyKeyIsPerOrder(t *testing.T) {
	wire := &wireRequester{}
	gw, err := newMercadoPagoGateway("TEST-token", time.Second, wire)
	require.NoError(t, err)

	_, err = gw.CreateSession(context.Background(), sampleRequest(7))
	require.NoError(t, err)
	_, err = gw.CreateSession(context.Background(), sampleRequest(8))
	require.NoError(t, err)

	require.Len(t, wire.calls, 2)
	assert.Equal(t, IdempotencyKey(7), wire.calls[0].key)
	assert.Equal(t, IdempotencyKey(8), wire.calls[1].key)
}

func TestIdempotentRequesterLeavesUnkeyedRequests(t *testing.T) {
	wire := &wireRequester{}
	req, err := http.NewRequest(http.MethodGet, "https://api.mercadopago.com/checkout/preferences/pref_1", nil)
	require.NoError(t, err)

	resp, err := idempotentRequester{next: wire}.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, wire.calls, 1)
	assert.Empty(t, wire.calls[0].key)
}
