// Package testutil holds testify mocks of the handshake's collaborators.
package testutil

import (
	"context"
	"time"

	"github.com/dgellow/oauth-signin/internal/idp"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements handshake.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Type() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) AuthorizationRequest(redirectURI, state string) idp.AuthorizationRequest {
	args := m.Called(redirectURI, state)
	return args.Get(0).(idp.AuthorizationRequest)
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenResponse), args.Error(1)
}

func (m *MockProvider) FetchProfile(ctx context.Context, accessToken string) ([]byte, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockReplayGuard implements storage.ReplayGuard.
type MockReplayGuard struct {
	mock.Mock
}

func (m *MockReplayGuard) Consume(ctx context.Context, nonce string, expiresAt time.Time) error {
	args := m.Called(ctx, nonce, expiresAt)
	return args.Error(0)
}

func (m *MockReplayGuard) Close() error {
	args := m.Called()
	return args.Error(0)
}
