package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"design-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Compile-time check
var _ DesignSessionRepository = (*pgDesignSessionRepository)(nil)

type pgDesignSessionRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgDesignSessionRepository creates a PostgreSQL-backed session repository.
func NewPgDesignSessionRepository(db DBTX, logger *zap.Logger) DesignSessionRepository {
	return &pgDesignSessionRepository{
		db:     db,
		logger: logger.Named("PgDesignSessionRepo"),
	}
}

// designSessionRow mirrors the design_sessions table for scany.
type designSessionRow struct {
	ID               uuid.UUID `db:"id"`
	OwnerID          uuid.UUID `db:"owner_id"`
	Status           string    `db:"status"`
	Step             string    `db:"step"`
	Prompt           *string   `db:"prompt"`
	Style            *string   `db:"style"`
	Color            *string   `db:"color"`
	ProductType      *string   `db:"product_type"`
	GeneratedImages  []byte    `db:"generated_images"`
	SelectedImageURL *string   `db:"selected_image_url"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *designSessionRow) toModel() (*models.DesignSession, error) {
	var images []models.GeneratedImage
	if len(r.GeneratedImages) > 0 && string(r.GeneratedImages) != "null" {
		if err := json.Unmarshal(r.GeneratedImages, &images); err != nil {
			return nil, fmt.Errorf("failed to decode generated_images for session %s: %w", r.ID, err)
		}
	}
	s := &models.DesignSession{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Status:           models.SessionStatus(r.Status),
		Step:             models.WorkflowStep(r.Step),
		GeneratedImages:  images,
		SelectedImageURL: r.SelectedImageURL,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.Prompt != nil {
		s.Prompt = *r.Prompt
	}
	if r.Style != nil {
		s.Style = *r.Style
	}
	if r.Color != nil {
		s.Color = *r.Color
	}
	if r.ProductType != nil {
		s.ProductType = *r.ProductType
	}
	return s, nil
}

func imagesJSON(session *models.DesignSession) ([]byte, error) {
	images := session.GeneratedImages
	if images == nil {
		images = []models.GeneratedImage{}
	}
	return json.Marshal(images)
}

// Create inserts a new session row.
func (r *pgDesignSessionRepository) Create(ctx context.Context, session *models.DesignSession) error {
	query := `
        INSERT INTO design_sessions
            (id, owner_id, status, step, prompt, style, color, product_type, generated_images, selected_image_url, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	logFields := []zap.Field{zap.String("sessionID", session.ID.String()), zap.String("ownerID", session.OwnerID.String())}
	r.logger.Debug("Creating design session", logFields...)

	images, err := imagesJSON(session)
	if err != nil {
		return fmt.Errorf("failed to encode generated images: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		session.ID,
		session.OwnerID,
		session.Status,
		session.Step,
		session.Prompt,
		session.Style,
		session.Color,
		session.ProductType,
		images,
		session.SelectedImageURL,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create design session", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to create design session: %w", err)
	}
	r.logger.Info("Design session created", logFields...)
	return nil
}

// Update rewrites all mutable fields of the session row.
func (r *pgDesignSessionRepository) Update(ctx context.Context, session *models.DesignSession) error {
	query := `
        UPDATE design_sessions
        SET status = $2, step = $3, prompt = $4, style = $5, color = $6, product_type = $7,
            generated_images = $8, selected_image_url = $9, updated_at = $10
        WHERE id = $1
    `
	logFields := []zap.Field{zap.String("sessionID", session.ID.String())}
	r.logger.Debug("Updating design session", logFields...)

	images, err := imagesJSON(session)
	if err != nil {
		return fmt.Errorf("failed to encode generated images: %w", err)
	}

	tag, err := r.db.Exec(ctx, query,
		session.ID,
		session.Status,
		session.Step,
		session.Prompt,
		session.Style,
		session.Color,
		session.ProductType,
		images,
		session.SelectedImageURL,
		session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update design session", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to update design session %s: %w", session.ID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Design session not found for update", logFields...)
		return models.ErrNotFound
	}
	return nil
}

// GetByID loads one session scoped to its owner.
func (r *pgDesignSessionRepository) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.DesignSession, error) {
	query := `
        SELECT id, owner_id, status, step, prompt, style, color, product_type, generated_images, selected_image_url, created_at, updated_at
        FROM design_sessions
        WHERE id = $1 AND owner_id = $2
    `
	logFields := []zap.Field{zap.String("sessionID", id.String()), zap.String("ownerID", ownerID.String())}
	r.logger.Debug("Getting design session by ID", logFields...)

	var row designSessionRow
	err := pgxscan.Get(ctx, r.db, &row, query, id, ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Design session not found for owner", logFields...)
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get design session", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to get design session %s: %w", id, err)
	}
	return row.toModel()
}

// ListDrafts returns non-archived sessions with keyset pagination on
// (updated_at, id) descending.
func (r *pgDesignSessionRepository) ListDrafts(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]models.DesignSession, string, error) {
	logFields := []zap.Field{zap.String("ownerID", ownerID.String()), zap.Int("limit", limit)}
	r.logger.Debug("Listing design sessions", logFields...)

	query := `
        SELECT id, owner_id, status, step, prompt, style, color, product_type, generated_images, selected_image_url, created_at, updated_at
        FROM design_sessions
        WHERE owner_id = $1 AND status != $2
    `
	args := []any{ownerID, models.StatusArchived}

	if cursor != "" {
		cursorTime, cursorID, err := decodeCursor(cursor)
		if err != nil {
			r.logger.Warn("Invalid cursor provided", append(logFields, zap.Error(err))...)
			return nil, "", ErrInvalidCursor
		}
		query += ` AND (updated_at, id) < ($3, $4)`
		args = append(args, cursorTime, cursorID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC, id DESC LIMIT %d`, limit)

	var rows []designSessionRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		r.logger.Error("Failed to list design sessions", append(logFields, zap.Error(err))...)
		return nil, "", fmt.Errorf("failed to list design sessions: %w", err)
	}

	sessions := make([]models.DesignSession, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, "", err
		}
		sessions = append(sessions, *s)
	}

	nextCursor := ""
	if len(sessions) == limit && limit > 0 {
		last := sessions[len(sessions)-1]
		nextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	return sessions, nextCursor, nil
}

// Archive flips a session to the archived status, keeping the row.
func (r *pgDesignSessionRepository) Archive(ctx context.Context, id, ownerID uuid.UUID) error {
	query := `
        UPDATE design_sessions
        SET status = $3, updated_at = now()
        WHERE id = $1 AND owner_id = $2
    `
	logFields := []zap.Field{zap.String("sessionID", id.String()), zap.String("ownerID", ownerID.String())}

	tag, err := r.db.Exec(ctx, query, id, ownerID, models.StatusArchived)
	if err != nil {
		r.logger.Error("Failed to archive design session", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to archive design session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Design session not found for archive", logFields...)
		return models.ErrNotFound
	}
	r.logger.Info("Design session archived", logFields...)
	return nil
}

// FindGenerating returns sessions left in the generating status.
func (r *pgDesignSessionRepository) FindGenerating(ctx context.Context) ([]*models.DesignSession, error) {
	query := `
        SELECT id, owner_id, status, step, prompt, style, color, product_type, generated_images, selected_image_url, created_at, updated_at
        FROM design_sessions
        WHERE status = $1
    `
	var rows []designSessionRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, models.StatusGenerating); err != nil {
		r.logger.Error("Failed to find generating sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to find generating sessions: %w", err)
	}

	sessions := make([]*models.DesignSession, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func encodeCursor(t time.Time, id uuid.UUID) string {
	raw := fmt.Sprintf("%s|%s", t.UTC().Format(time.RFC3339Nano), id)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	return t, id, nil
}
