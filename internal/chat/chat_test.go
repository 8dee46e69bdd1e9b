package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/registry"
)

// MockStore 模拟消息存储
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error) {
	args := m.Called(ctx, senderID, receiverID, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatMessage), args.Error(1)
}

func (m *MockStore) Health() error { return nil }
func (m *MockStore) Close() error  { return nil }

// fakeConn 记录收到的事件
type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Enqueue(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (l fakeLimiter) Allow(context.Context, string) (bool, error) {
	return l.allowed, l.err
}

type fixture struct {
	registry *registry.Registry
	store    *MockStore
	metrics  *monitoring.Metrics
	conns    map[string]*fakeConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		registry: registry.New(zap.NewNop()),
		store:    &MockStore{},
		metrics:  monitoring.NewMetricsWithRegistry(prometheus.NewRegistry()),
		conns:    make(map[string]*fakeConn),
	}
}

// connect 注册连接，identity 为空时保持未认证
func (f *fixture) connect(t *testing.T, connID string, identity domain.Identity) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: connID}
	require.NoError(t, f.registry.Register(conn))
	if !identity.IsZero() {
		require.NoError(t, f.registry.Bind(connID, identity))
	}
	f.conns[connID] = conn
	return conn
}

func (f *fixture) relay(limiter SendLimiter, cfg RelayConfig) *Relay {
	return NewRelay(f.registry, f.store, limiter, cfg, f.metrics, zap.NewNop())
}

var (
	u1 = domain.Identity{ID: "u1", DisplayName: "Asha"}
	u2 = domain.Identity{ID: "u2", DisplayName: "Ravi"}
)

func persisted(id, sender, receiver, body string) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}
