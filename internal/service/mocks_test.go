package service

import (
	"context"
	"sync"
	"time"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order, discount decimal.Decimal) error {
	args := m.Called(ctx, order, discount)
	return args.Error(0)
}

func (m *mockNotifier) SendStatusUpdate(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	args := m.Called(ctx, order, from)
	return args.Error(0)
}

// fakeLocker is an in-process stand-in for the Redis lock
type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]string
	failed bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return "", false, context.DeadlineExceeded
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := key + "-token"
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *fakeLocker) hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "someone-else"
}
