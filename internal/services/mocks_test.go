package services

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

// withChiURLParam injects a chi route parameter for handlers tested outside
// the router.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockPublisher stands in for the Kafka publisher in tests.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, message interface{}) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}

// MockPinStore stands in for the PIN hash lookup in tests.
type MockPinStore struct {
	mock.Mock
}

func (m *MockPinStore) PinHash(ctx context.Context, account string) (string, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Error(1)
}
