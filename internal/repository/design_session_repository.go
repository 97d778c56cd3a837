package repository

import (
	"context"
	"errors"

	"design-server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidCursor signals a malformed pagination cursor.
var ErrInvalidCursor = errors.New("invalid cursor format")

// DBTX accepts either a pgxpool.Pool or a pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DesignSessionRepository persists resumable design sessions.
type DesignSessionRepository interface {
	Create(ctx context.Context, session *models.DesignSession) error
	Update(ctx context.Context, session *models.DesignSession) error

	// GetByID loads a session, verifying it belongs to ownerID.
	GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.DesignSession, error)

	// ListDrafts returns the owner's non-archived sessions, newest first, with
	// cursor pagination. cursor is an opaque string from a previous call.
	ListDrafts(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]models.DesignSession, string, error)

	// Archive marks a session archived. Sessions are never hard-deleted so a
	// submitted product can keep referencing its source session.
	Archive(ctx context.Context, id, ownerID uuid.UUID) error

	// FindGenerating returns sessions stuck in the generating status, used for
	// crash recovery at startup.
	FindGenerating(ctx context.Context) ([]*models.DesignSession, error)
}
