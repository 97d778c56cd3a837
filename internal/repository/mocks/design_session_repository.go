package mocks

import (
	"context"

	"design-server/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// DesignSessionRepository is a testify mock for repository.DesignSessionRepository.
type DesignSessionRepository struct {
	mock.Mock
}

func (m *DesignSessionRepository) Create(ctx context.Context, session *models.DesignSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *DesignSessionRepository) Update(ctx context.Context, session *models.DesignSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *DesignSessionRepository) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.DesignSession, error) {
	args := m.Called(ctx, id, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DesignSession), args.Error(1)
}

func (m *DesignSessionRepository) ListDrafts(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]models.DesignSession, string, error) {
	args := m.Called(ctx, ownerID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]models.DesignSession), args.String(1), args.Error(2)
}

func (m *DesignSessionRepository) Archive(ctx context.Context, id, ownerID uuid.UUID) error {
	args := m.Called(ctx, id, ownerID)
	return args.Error(0)
}

func (m *DesignSessionRepository) FindGenerating(ctx context.Context) ([]*models.DesignSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DesignSession), args.Error(1)
}
