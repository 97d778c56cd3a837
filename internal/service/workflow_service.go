package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"design-server/internal/clients"
	"design-server/internal/config"
	"design-server/internal/messaging"
	"design-server/internal/models"
	"design-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the authenticated caller of a workflow operation. Token is the
// raw bearer token, forwarded to collaborator services so the ledger and the
// generation backend authorize against the same principal.
type Identity struct {
	UserID uuid.UUID
	Token  string
}

// DraftUpdate carries partial edits to a draft session. Nil fields are left
// untouched.
type DraftUpdate struct {
	Prompt      *string
	Style       *string
	Color       *string
	ProductType *string
}

// sessionRuntime is the in-memory state of an active session: the in-flight
// generation flag, the undo stack for tool edits, and the narration queue.
// It is rebuilt lazily after a restart; only the persisted session survives.
type sessionRuntime struct {
	mu          sync.Mutex
	generating  bool
	editHistory []string
	narrator    *NarrationQueue
}

// WorkflowService drives the guided design workflow: prompt, style, color,
// generation, tool edits, and submission. All state transitions are persisted
// through the session repository; credits are charged through the ledger
// before any paid operation runs.
type WorkflowService struct {
	repo      repository.DesignSessionRepository
	ledger    clients.LedgerClient
	generator clients.GenerationClient
	runner    *clients.JobRunner
	publisher messaging.ClientUpdatePublisher
	voice     clients.VoiceClient
	autosaver *Autosaver
	cfg       *config.Config
	logger    *zap.Logger

	mu       sync.Mutex
	runtimes map[uuid.UUID]*sessionRuntime
}

// NewWorkflowService wires the workflow together.
func NewWorkflowService(
	repo repository.DesignSessionRepository,
	ledger clients.LedgerClient,
	generator clients.GenerationClient,
	runner *clients.JobRunner,
	publisher messaging.ClientUpdatePublisher,
	voice clients.VoiceClient,
	autosaver *Autosaver,
	cfg *config.Config,
	logger *zap.Logger,
) *WorkflowService {
	return &WorkflowService{
		repo:      repo,
		ledger:    ledger,
		generator: generator,
		runner:    runner,
		publisher: publisher,
		voice:     voice,
		autosaver: autosaver,
		cfg:       cfg,
		logger:    logger.Named("WorkflowService"),
		runtimes:  make(map[uuid.UUID]*sessionRuntime),
	}
}

// runtime returns the session's in-memory state, creating it on first use.
func (s *WorkflowService) runtime(sessionID uuid.UUID, identity Identity) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.runtimes[sessionID]; ok {
		return rt
	}
	deliver := func(ctx context.Context, text, audioURL string) error {
		update := models.ClientDesignUpdate{
			SessionID:  sessionID.String(),
			UserID:     identity.UserID.String(),
			UpdateType: models.UpdateTypeNarration,
			Narration:  &text,
			AudioURL:   &audioURL,
		}
		return s.publisher.PublishClientUpdate(ctx, update)
	}
	rt := &sessionRuntime{
		narrator: NewNarrationQueue(s.voice, deliver, s.cfg.NarrationPlaybackWait, s.logger),
	}
	s.runtimes[sessionID] = rt
	return rt
}

func (s *WorkflowService) dropRuntime(sessionID uuid.UUID, clearNarration bool) {
	s.mu.Lock()
	rt, ok := s.runtimes[sessionID]
	if ok {
		delete(s.runtimes, sessionID)
	}
	s.mu.Unlock()
	if ok && clearNarration {
		rt.narrator.Clear()
	}
}

// StartWithPrompt creates a new session from the user's idea and advances it
// to the style step.
func (s *WorkflowService) StartWithPrompt(ctx context.Context, identity Identity, prompt, productType string) (*models.DesignSession, error) {
	s.logger.Info("StartWithPrompt called", zap.String("userID", identity.UserID.String()))

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, models.ErrEmptyPrompt
	}

	now := time.Now().UTC()
	session := &models.DesignSession{
		ID:          uuid.New(),
		OwnerID:     identity.UserID,
		Status:      models.StatusDraft,
		Step:        models.StepStyle,
		Prompt:      prompt,
		ProductType: productType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	rt := s.runtime(session.ID, identity)
	rt.narrator.Enqueue("Great idea! Now pick a style that fits your vision.")
	return session, nil
}

// ChooseStyle records the style and advances the session to the color step.
func (s *WorkflowService) ChooseStyle(ctx context.Context, identity Identity, sessionID uuid.UUID, style string) (*models.DesignSession, error) {
	s.logger.Info("ChooseStyle called", zap.String("sessionID", sessionID.String()), zap.String("style", style))

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepStyle && session.Step != models.StepColor {
		return nil, models.ErrInvalidStep
	}
	if strings.TrimSpace(style) == "" {
		return nil, models.ErrInvalidInput
	}

	session.Style = style
	session.Step = models.StepColor
	s.autosaver.Schedule(session)

	rt := s.runtime(sessionID, identity)
	rt.narrator.Enqueue("Nice choice. Last step before the magic: pick a color direction.")
	return session, nil
}

// ChooseColor records the color, charges the generation fee and kicks off the
// image generation in the background. The session is persisted in the
// generating status before the call returns.
func (s *WorkflowService) ChooseColor(ctx context.Context, identity Identity, sessionID uuid.UUID, color string) (*models.DesignSession, error) {
	s.logger.Info("ChooseColor called", zap.String("sessionID", sessionID.String()), zap.String("color", color))

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepColor {
		return nil, models.ErrInvalidStep
	}
	if strings.TrimSpace(color) == "" {
		return nil, models.ErrInvalidInput
	}

	rt := s.runtime(sessionID, identity)
	rt.mu.Lock()
	if rt.generating {
		rt.mu.Unlock()
		return nil, models.ErrGenerationInProgress
	}
	rt.generating = true
	rt.mu.Unlock()

	cost := s.cfg.CostFor(models.JobKindGenerate)
	if err := s.charge(ctx, identity, rt, cost, string(models.JobKindGenerate)); err != nil {
		rt.mu.Lock()
		rt.generating = false
		rt.mu.Unlock()
		return nil, err
	}

	session.Color = color
	session.Status = models.StatusGenerating
	session.Step = models.StepGenerating
	session.UpdatedAt = time.Now().UTC()

	s.autosaver.Cancel(sessionID)
	if err := s.repo.Update(ctx, session); err != nil {
		rt.mu.Lock()
		rt.generating = false
		rt.mu.Unlock()
		return nil, err
	}

	rt.narrator.Enqueue("Generating your designs now. This usually takes under a minute.")

	snapshot := *session
	go s.runGeneration(identity, rt, &snapshot)

	return session, nil
}

// runGeneration drives the submit/poll cycle off the request goroutine and
// persists the outcome.
func (s *WorkflowService) runGeneration(identity Identity, rt *sessionRuntime, session *models.DesignSession) {
	budget := s.cfg.PollInterval*time.Duration(s.cfg.PollMaxAttempts) + s.cfg.HTTPClientTimeout*2
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	defer func() {
		rt.mu.Lock()
		rt.generating = false
		rt.mu.Unlock()
	}()

	prompt := session.Prompt
	if session.Color != "" {
		prompt = fmt.Sprintf("%s, %s color palette", session.Prompt, session.Color)
	}
	req := models.GenerationRequest{
		Prompt:   prompt,
		Style:    session.Style,
		Category: session.ProductType,
		Count:    s.cfg.GenerationImageCount,
	}

	urls, err := s.runner.Run(ctx, identity.Token, func(ctx context.Context) (*clients.SubmitResult, error) {
		return s.generator.SubmitGeneration(ctx, identity.Token, req)
	})
	if err != nil {
		s.finishGenerationFailure(ctx, identity, rt, session, err)
		return
	}

	for _, u := range urls {
		session.GeneratedImages = append(session.GeneratedImages, models.GeneratedImage{URL: u})
	}
	session.Status = models.StatusCompleted
	session.Step = models.StepComplete
	session.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, session); err != nil {
		s.logger.Error("CRITICAL: generated images could not be persisted",
			zap.String("sessionID", session.ID.String()), zap.Error(err))
		generationJobsTotal.WithLabelValues(string(models.JobKindGenerate), "persist_error").Inc()
		return
	}

	generationJobsTotal.WithLabelValues(string(models.JobKindGenerate), "ok").Inc()
	rt.narrator.Enqueue("Your designs are ready! Take a look and pick your favorite.")
	s.publishSessionUpdate(ctx, session, urls, nil)
}

func (s *WorkflowService) finishGenerationFailure(ctx context.Context, identity Identity, rt *sessionRuntime, session *models.DesignSession, cause error) {
	outcome := "error"
	switch {
	case errors.Is(cause, models.ErrGenerationTimeout):
		outcome = "timeout"
	case errors.Is(cause, models.ErrGenerationFailed):
		outcome = "failed"
	case errors.Is(cause, models.ErrNoOutput):
		outcome = "no_output"
	}
	generationJobsTotal.WithLabelValues(string(models.JobKindGenerate), outcome).Inc()
	s.logger.Warn("Generation did not produce images",
		zap.String("sessionID", session.ID.String()), zap.String("outcome", outcome), zap.Error(cause))

	// Return the user to the color step so they can retry. Credits spent on
	// the failed attempt are not refunded; the narration says so.
	session.Status = models.StatusDraft
	session.Step = models.StepColor
	session.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		s.logger.Error("Failed to persist session after generation failure",
			zap.String("sessionID", session.ID.String()), zap.Error(err))
	}

	rt.narrator.Enqueue("Sorry, that generation didn't work out and the credits for the attempt were used. Tweak the color or try again.")
	details := cause.Error()
	s.publishSessionUpdate(ctx, session, nil, &details)
}

// ApplyTool runs a paid enhancement on the currently selected image. On
// success the edited image replaces the original in place and the previous
// version goes onto the undo stack.
func (s *WorkflowService) ApplyTool(ctx context.Context, identity Identity, sessionID uuid.UUID, kind models.JobKind, params map[string]string) (*models.DesignSession, error) {
	s.logger.Info("ApplyTool called", zap.String("sessionID", sessionID.String()), zap.String("kind", string(kind)))

	if !kind.IsTool() {
		return nil, models.ErrInvalidInput
	}

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepComplete {
		return nil, models.ErrInvalidStep
	}
	if session.SelectedImageURL == nil {
		return nil, models.ErrNoImageSelected
	}

	rt := s.runtime(sessionID, identity)
	rt.mu.Lock()
	if rt.generating {
		rt.mu.Unlock()
		return nil, models.ErrGenerationInProgress
	}
	rt.generating = true
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		rt.generating = false
		rt.mu.Unlock()
	}()

	if err := s.charge(ctx, identity, rt, s.cfg.CostFor(kind), string(kind)); err != nil {
		return nil, err
	}

	currentURL := *session.SelectedImageURL

	rt.mu.Lock()
	rt.editHistory = append(rt.editHistory, currentURL)
	rt.mu.Unlock()

	req := models.ToolRequest{ImageURL: currentURL, Operation: kind, Params: params}
	urls, err := s.runner.Run(ctx, identity.Token, func(ctx context.Context) (*clients.SubmitResult, error) {
		return s.generator.SubmitTool(ctx, identity.Token, req)
	})
	if err != nil {
		rt.mu.Lock()
		rt.editHistory = rt.editHistory[:len(rt.editHistory)-1]
		rt.mu.Unlock()
		generationJobsTotal.WithLabelValues(string(kind), "error").Inc()
		rt.narrator.Enqueue("That edit didn't go through and the credits for the attempt were used. The image is unchanged.")
		return nil, err
	}

	newURL := urls[0]
	session.ReplaceImage(currentURL, newURL)
	session.SelectedImageURL = &newURL
	session.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, session); err != nil {
		// Keep the undo stack consistent with the persisted session.
		session.ReplaceImage(newURL, currentURL)
		session.SelectedImageURL = &currentURL
		rt.mu.Lock()
		rt.editHistory = rt.editHistory[:len(rt.editHistory)-1]
		rt.mu.Unlock()
		return nil, err
	}

	generationJobsTotal.WithLabelValues(string(kind), "ok").Inc()
	rt.narrator.Enqueue("Done! The edited version replaced the original.")
	s.publishSessionUpdate(ctx, session, []string{newURL}, nil)
	return session, nil
}

// UndoEdit restores the previous version of the selected image.
func (s *WorkflowService) UndoEdit(ctx context.Context, identity Identity, sessionID uuid.UUID) (*models.DesignSession, error) {
	s.logger.Info("UndoEdit called", zap.String("sessionID", sessionID.String()))

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.SelectedImageURL == nil {
		return nil, models.ErrNoImageSelected
	}

	rt := s.runtime(sessionID, identity)
	rt.mu.Lock()
	if len(rt.editHistory) == 0 {
		rt.mu.Unlock()
		return nil, models.ErrNothingToUndo
	}
	previous := rt.editHistory[len(rt.editHistory)-1]
	rt.editHistory = rt.editHistory[:len(rt.editHistory)-1]
	rt.mu.Unlock()

	current := *session.SelectedImageURL
	session.ReplaceImage(current, previous)
	session.SelectedImageURL = &previous
	session.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SelectImage marks one of the generated images as the working image.
// Selecting a different image discards the undo history of the old one.
func (s *WorkflowService) SelectImage(ctx context.Context, identity Identity, sessionID uuid.UUID, imageURL string) (*models.DesignSession, error) {
	s.logger.Info("SelectImage called", zap.String("sessionID", sessionID.String()))

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasImage(imageURL) {
		return nil, models.ErrImageNotInSession
	}

	if session.SelectedImageURL == nil || *session.SelectedImageURL != imageURL {
		rt := s.runtime(sessionID, identity)
		rt.mu.Lock()
		rt.editHistory = nil
		rt.mu.Unlock()
	}

	session.SelectedImageURL = &imageURL
	session.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Submit finalizes the session. Submitted sessions are read-only forever.
func (s *WorkflowService) Submit(ctx context.Context, identity Identity, sessionID uuid.UUID) (*models.DesignSession, error) {
	s.logger.Info("Submit called", zap.String("sessionID", sessionID.String()))

	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	if session.SelectedImageURL == nil {
		return nil, models.ErrNoImageSelected
	}

	session.Status = models.StatusSubmitted
	session.UpdatedAt = time.Now().UTC()

	s.autosaver.Cancel(sessionID)
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}

	rt := s.runtime(sessionID, identity)
	rt.narrator.Enqueue("Submitted! Your design is on its way to production.")
	s.publishSessionUpdate(ctx, session, nil, nil)

	// The session is terminal now; drop the runtime but let the queued
	// narrations play out.
	s.dropRuntime(sessionID, false)
	return session, nil
}

// Remix starts a fresh session seeded with the source session's prompt. The
// source is archived unless it was submitted.
func (s *WorkflowService) Remix(ctx context.Context, identity Identity, sessionID uuid.UUID) (*models.DesignSession, error) {
	s.logger.Info("Remix called", zap.String("sessionID", sessionID.String()))

	source, err := s.repo.GetByID(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	remix := &models.DesignSession{
		ID:          uuid.New(),
		OwnerID:     identity.UserID,
		Status:      models.StatusDraft,
		Step:        models.StepStyle,
		Prompt:      source.Prompt,
		ProductType: source.ProductType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, remix); err != nil {
		return nil, err
	}

	if source.Status != models.StatusSubmitted {
		if err := s.repo.Archive(ctx, source.ID, identity.UserID); err != nil {
			s.logger.Warn("Failed to archive remix source",
				zap.String("sessionID", source.ID.String()), zap.Error(err))
		}
		s.dropRuntime(source.ID, true)
	}

	rt := s.runtime(remix.ID, identity)
	rt.narrator.Enqueue("Starting fresh with the same idea. Pick a style.")
	return remix, nil
}

// Delete archives a session and tears down its runtime, including any queued
// narrations.
func (s *WorkflowService) Delete(ctx context.Context, identity Identity, sessionID uuid.UUID) error {
	s.logger.Info("Delete called", zap.String("sessionID", sessionID.String()))

	s.autosaver.Cancel(sessionID)
	if err := s.repo.Archive(ctx, sessionID, identity.UserID); err != nil {
		return err
	}
	s.dropRuntime(sessionID, true)
	return nil
}

// Resume loads a session for continued work. The credit balance cache is
// reconciled and a session stranded in the generating status by a crash is
// repaired back to the color step.
func (s *WorkflowService) Resume(ctx context.Context, identity Identity, sessionID uuid.UUID) (*models.DesignSession, error) {
	s.logger.Info("Resume called", zap.String("sessionID", sessionID.String()))

	session, err := s.repo.GetByID(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Reconcile(ctx, identity.Token, identity.UserID.String()); err != nil {
		s.logger.Warn("Balance reconcile on resume failed",
			zap.String("userID", identity.UserID.String()), zap.Error(err))
	}

	rt := s.runtime(sessionID, identity)
	rt.mu.Lock()
	inFlight := rt.generating
	rt.mu.Unlock()

	if session.Status == models.StatusGenerating && !inFlight {
		session.Status = models.StatusDraft
		session.Step = models.StepColor
		session.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, session); err != nil {
			return nil, err
		}
		s.logger.Info("Repaired session stranded in generating status",
			zap.String("sessionID", sessionID.String()))
	}
	return session, nil
}

// ListDrafts returns the user's resumable sessions, newest first.
func (s *WorkflowService) ListDrafts(ctx context.Context, identity Identity, cursor string, limit int) ([]models.DesignSession, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListDrafts(ctx, identity.UserID, cursor, limit)
}

// UpdateDraft applies partial edits to a draft with debounced persistence.
func (s *WorkflowService) UpdateDraft(ctx context.Context, identity Identity, sessionID uuid.UUID, update DraftUpdate) (*models.DesignSession, error) {
	session, err := s.loadEditable(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}

	if update.Prompt != nil {
		session.Prompt = *update.Prompt
	}
	if update.Style != nil {
		session.Style = *update.Style
	}
	if update.Color != nil {
		session.Color = *update.Color
	}
	if update.ProductType != nil {
		session.ProductType = *update.ProductType
	}

	s.autosaver.Schedule(session)
	return session, nil
}

// GetBalance exposes the user's credit balance for the UI header.
func (s *WorkflowService) GetBalance(ctx context.Context, identity Identity) (int, error) {
	return s.ledger.GetBalance(ctx, identity.Token, identity.UserID.String())
}

// RecoverStuckSessions repairs sessions left in the generating status by a
// previous process. Called once at startup.
func (s *WorkflowService) RecoverStuckSessions(ctx context.Context) error {
	stuck, err := s.repo.FindGenerating(ctx)
	if err != nil {
		return err
	}
	for _, session := range stuck {
		session.Status = models.StatusDraft
		session.Step = models.StepColor
		session.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, session); err != nil {
			s.logger.Error("Failed to repair stuck session",
				zap.String("sessionID", session.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("Recovered session stuck in generating status",
			zap.String("sessionID", session.ID.String()))
	}
	return nil
}

// Close flushes pending autosaves. Used on shutdown.
func (s *WorkflowService) Close() {
	s.autosaver.Close()
}

// charge debits the ledger and narrates a rejection without advancing state.
// An obvious shortfall in the advisory cached balance is rejected locally,
// without a debit call; the server's 402 remains the authority whenever the
// cache lets the attempt through or cannot be read.
func (s *WorkflowService) charge(ctx context.Context, identity Identity, rt *sessionRuntime, amount int, reason string) error {
	if cached, err := s.ledger.GetBalance(ctx, identity.Token, identity.UserID.String()); err == nil && cached < amount {
		ibe := &models.InsufficientBalanceError{Required: amount, Current: cached}
		s.narrateShortfall(rt, ibe)
		return ibe
	}

	_, err := s.ledger.Debit(ctx, identity.Token, identity.UserID.String(), amount, reason)
	if err != nil {
		var ibe *models.InsufficientBalanceError
		if errors.As(err, &ibe) {
			s.narrateShortfall(rt, ibe)
		}
		return err
	}
	creditsDebitedTotal.Add(float64(amount))
	return nil
}

func (s *WorkflowService) narrateShortfall(rt *sessionRuntime, ibe *models.InsufficientBalanceError) {
	debitRejectionsTotal.Inc()
	rt.narrator.Enqueue(fmt.Sprintf(
		"You need %d more credits for this. Top up and we'll pick up right where we left off.",
		ibe.Shortfall()))
}

// loadEditable loads a session owned by the caller and rejects locked ones.
func (s *WorkflowService) loadEditable(ctx context.Context, identity Identity, sessionID uuid.UUID) (*models.DesignSession, error) {
	session, err := s.repo.GetByID(ctx, sessionID, identity.UserID)
	if err != nil {
		return nil, err
	}
	if session.IsLocked() {
		return nil, models.ErrSessionLocked
	}
	return session, nil
}

func (s *WorkflowService) publishSessionUpdate(ctx context.Context, session *models.DesignSession, imageURLs []string, errDetails *string) {
	update := models.ClientDesignUpdate{
		SessionID:    session.ID.String(),
		UserID:       session.OwnerID.String(),
		UpdateType:   models.UpdateTypeSession,
		Status:       string(session.Status),
		Step:         string(session.Step),
		ImageURLs:    imageURLs,
		ErrorDetails: errDetails,
	}
	if err := s.publisher.PublishClientUpdate(ctx, update); err != nil {
		s.logger.Warn("Failed to publish client update",
			zap.String("sessionID", session.ID.String()), zap.Error(err))
	}
}
