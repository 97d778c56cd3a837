package mocks

import (
	"context"

	"design-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// ClientUpdatePublisher is a testify mock for messaging.ClientUpdatePublisher.
type ClientUpdatePublisher struct {
	mock.Mock
}

func (m *ClientUpdatePublisher) PublishClientUpdate(ctx context.Context, update models.ClientDesignUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}
