package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is an in-memory provider for local runs and tests.
// It honours idempotency keys the way real providers do: a repeated key returns the original session.
type MockGateway struct {
	mu          sync.Mutex
	baseURL     string
	seq         int
	byKey       map[string]*Session
	sessions    map[string]*SessionStatus
	createErr   error
	retrieveErr error
}

// NewMockGateway builds a mock whose checkout URLs start with baseURL.
func NewMockGateway(baseURL string) *MockGateway {
	if baseURL == "" {
		baseURL = "http://localhost:3000/mock-checkout"
	}
	return &MockGateway{
		baseURL:  baseURL,
		byKey:    make(map[string]*Session),
		sessions: make(map[string]*SessionStatus),
	}
}

// Name implements CheckoutGateway.
func (g *MockGateway) Name() string { return "mock" }

// CreateSession implements CheckoutGateway.
func (g *MockGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, unavailable(g.Name(), "create_session", g.createErr)
	}
	if existing, ok := g.byKey[req.IdempotencyKey()]; ok {
		copied := *existing
		return &copied, nil
	}

	g.seq++
	id := fmt.Sprintf("cs_mock_%d", g.seq)
	session := &Session{
		URL:             fmt.Sprintf("%s/%s", g.baseURL, id),
		SessionID:       id,
		PaymentIntentID: fmt.Sprintf("pi_mock_%d", g.seq),
	}
	g.byKey[req.IdempotencyKey()] = session
	g.sessions[id] = &SessionStatus{
		SessionID:       id,
		PaymentStatus:   PaymentStatusUnpaid,
		PaymentIntentID: session.PaymentIntentID,
		Metadata:        req.Metadata(),
	}
	copied := *session
	return &copied, nil
}

// RetrieveSession implements CheckoutGateway.
func (g *MockGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, unavailable(g.Name(), "retrieve_session", g.retrieveErr)
	}
	status, ok := g.sessions[sessionID]
	if !ok {
		return nil, unavailable(g.Name(), "retrieve_session", fmt.Errorf("no such session %q", sessionID))
	}
	copied := *status
	copied.Metadata = make(map[string]string, len(status.Metadata))
	for k, v := range status.Metadata {
		copied.Metadata[k] = v
	}
	return &copied, nil
}

// Pay marks a session as paid.
func (g *MockGateway) Pay(sessionID string) bool {
	return g.update(sessionID, func(s *SessionStatus) { s.PaymentStatus = PaymentStatusPaid })
}

// Expire marks a session as expired.
func (g *MockGateway) Expire(sessionID string) bool {
	return g.update(sessionID, func(s *SessionStatus) { s.Expired = true })
}

// FailWith makes subsequent calls fail as an unreachable provider would. Nil clears it.
func (g *MockGateway) FailWith(createErr, retrieveErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = createErr
	g.retrieveErr = retrieveErr
}

// SessionCount returns how many distinct sessions were opened.
func (g *MockGateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *MockGateway) update(sessionID string, fn func(*SessionStatus)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if ok {
		fn(s)
	}
	return ok
}
