package provider

import (
	"context"
	"sync"
)

// MockGateway is a scripted Gateway for tests. Results are consumed in FIFO
// order per call type; when the script runs dry the defaults are returned.
type MockGateway struct {
	mu sync.Mutex

	PurchaseScript []PurchaseResult
	StatusScript   []StatusResult

	DefaultPurchase PurchaseResult
	DefaultStatus   StatusResult

	PurchaseCalls []PurchaseRequest
	StatusCalls   []string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		DefaultPurchase: PurchaseResult{Outcome: OutcomeAccepted, ProviderRef: "mock-ref"},
		DefaultStatus:   StatusResult{Status: StatusUnknown},
	}
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) Purchase(ctx context.Context, req PurchaseRequest) PurchaseResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PurchaseCalls = append(m.PurchaseCalls, req)
	if len(m.PurchaseScript) > 0 {
		out := m.PurchaseScript[0]
		m.PurchaseScript = m.PurchaseScript[1:]
		return out
	}
	return m.DefaultPurchase
}

func (m *MockGateway) QueryStatus(ctx context.Context, providerRef string) StatusResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, providerRef)
	if len(m.StatusScript) > 0 {
		out := m.StatusScript[0]
		m.StatusScript = m.StatusScript[1:]
		return out
	}
	return m.DefaultStatus
}

// PurchaseCallCount returns how many purchase attempts the mock has seen.
func (m *MockGateway) PurchaseCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PurchaseCalls)
}
