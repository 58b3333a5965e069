package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/srg/bluest/transport"
)

// MockTransport is a mock transport.Transport.
type MockTransport struct {
	mock.Mock
}

var _ transport.Transport = (*MockTransport)(nil)

func (m *MockTransport) Scan(ctx context.Context, handler func(transport.Advertisement)) error {
	return m.Called(ctx, handler).Error(0)
}

func (m *MockTransport) Connect(ctx context.Context, address string, onLinkLost func(error)) error {
	return m.Called(ctx, address, onLinkLost).Error(0)
}

func (m *MockTransport) Disconnect(ctx context.Context, address string) error {
	return m.Called(ctx, address).Error(0)
}

func (m *MockTransport) DiscoverCharacteristics(ctx context.Context, address string) ([]string, error) {
	args := m.Called(ctx, address)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransport) Subscribe(ctx context.Context, address, charID string, handler func([]byte)) error {
	return m.Called(ctx, address, charID, handler).Error(0)
}

func (m *MockTransport) Unsubscribe(ctx context.Context, address, charID string) error {
	return m.Called(ctx, address, charID).Error(0)
}

func (m *MockTransport) Read(ctx context.Context, address, charID string) ([]byte, error) {
	args := m.Called(ctx, address, charID)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransport) Write(ctx context.Context, address, charID string, data []byte) error {
	return m.Called(ctx, address, charID, data).Error(0)
}
