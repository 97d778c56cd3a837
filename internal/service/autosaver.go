package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"design-server/internal/models"
	"design-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Autosaver debounces session writes: rapid edits to the same session collapse
// into a single store write after the configured quiet period. Sessions with
// no meaningful content yet (neither prompt nor style) are not persisted.
type Autosaver struct {
	repo   repository.DesignSessionRepository
	delay  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingSave
}

type pendingSave struct {
	timer   *time.Timer
	session *models.DesignSession
}

// NewAutosaver creates an Autosaver with the given debounce delay.
func NewAutosaver(repo repository.DesignSessionRepository, delay time.Duration, logger *zap.Logger) *Autosaver {
	return &Autosaver{
		repo:    repo,
		delay:   delay,
		logger:  logger.Named("Autosaver"),
		pending: make(map[uuid.UUID]*pendingSave),
	}
}

// Schedule records the session's current state for a debounced write. Each
// call restarts the quiet period and replaces the captured snapshot.
func (a *Autosaver) Schedule(session *models.DesignSession) {
	if session.Prompt == "" && session.Style == "" {
		a.logger.Debug("Skipping autosave for session without meaningful fields",
			zap.String("sessionID", session.ID.String()))
		return
	}

	snapshot := *session
	id := session.ID

	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.pending[id]; ok {
		p.timer.Stop()
		p.session = &snapshot
		p.timer.Reset(a.delay)
		return
	}
	p := &pendingSave{session: &snapshot}
	p.timer = time.AfterFunc(a.delay, func() { a.flush(id) })
	a.pending[id] = p
}

// Cancel drops any pending write for the session.
func (a *Autosaver) Cancel(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[id]; ok {
		p.timer.Stop()
		delete(a.pending, id)
	}
}

// Flush writes the pending snapshot immediately, if one exists.
func (a *Autosaver) Flush(id uuid.UUID) {
	a.mu.Lock()
	p, ok := a.pending[id]
	if ok {
		p.timer.Stop()
	}
	a.mu.Unlock()
	if ok {
		a.flush(id)
	}
}

// Close flushes every pending snapshot. Used on shutdown.
func (a *Autosaver) Close() {
	a.mu.Lock()
	ids := make([]uuid.UUID, 0, len(a.pending))
	for id, p := range a.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.flush(id)
	}
}

func (a *Autosaver) flush(id uuid.UUID) {
	a.mu.Lock()
	p, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session := p.session
	session.UpdatedAt = time.Now().UTC()

	err := a.repo.Update(ctx, session)
	if errors.Is(err, models.ErrNotFound) {
		err = a.repo.Create(ctx, session)
	}
	if err != nil {
		a.logger.Error("Autosave write failed",
			zap.String("sessionID", id.String()), zap.Error(err))
		return
	}
	a.logger.Debug("Autosaved session", zap.String("sessionID", id.String()))
	autosaveWritesTotal.Inc()
}
