package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"design-server/internal/clients"
	clientmocks "design-server/internal/clients/mocks"
	"design-server/internal/config"
	msgmocks "design-server/internal/messaging/mocks"
	"design-server/internal/models"
	repomocks "design-server/internal/repository/mocks"
	"design-server/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noWaitClock struct{}

func (noWaitClock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type workflowFixture struct {
	repo     *repomocks.DesignSessionRepository
	ledger   *clientmocks.LedgerClient
	gen      *clientmocks.GenerationClient
	pub      *msgmocks.ClientUpdatePublisher
	voice    *clientmocks.VoiceClient
	svc      *service.WorkflowService
	identity service.Identity
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	cfg := &config.Config{
		PollInterval:          time.Millisecond,
		PollMaxAttempts:       3,
		AutosaveDebounce:      10 * time.Millisecond,
		NarrationPlaybackWait: time.Second,
		GenerationImageCount:  2,
		HTTPClientTimeout:     time.Second,
		CostGenerate:          10,
		CostRemoveBackground:  2,
		CostUpscale:           2,
		CostReimagine:         5,
	}

	f := &workflowFixture{
		repo:   new(repomocks.DesignSessionRepository),
		ledger: new(clientmocks.LedgerClient),
		gen:    new(clientmocks.GenerationClient),
		pub:    new(msgmocks.ClientUpdatePublisher),
		voice:  new(clientmocks.VoiceClient),
		identity: service.Identity{
			UserID: uuid.New(),
			Token:  "test-token",
		},
	}

	f.voice.On("Synthesize", mock.Anything, mock.Anything).Return("http://audio/clip.mp3", nil).Maybe()
	f.pub.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil).Maybe()

	logger := zap.NewNop()
	runner := clients.NewJobRunner(f.gen, cfg.PollInterval, cfg.PollMaxAttempts, noWaitClock{}, logger)
	autosaver := service.NewAutosaver(f.repo, cfg.AutosaveDebounce, logger)

	f.svc = service.NewWorkflowService(
		f.repo, f.ledger, f.gen, runner, f.pub, f.voice, autosaver, cfg, logger,
	)
	return f
}

// fundAccount stubs the advisory cached balance so charges reach the ledger.
func (f *workflowFixture) fundAccount(balance int) {
	f.ledger.On("GetBalance", mock.Anything, f.identity.Token, f.identity.UserID.String()).
		Return(balance, nil).Maybe()
}

func (f *workflowFixture) sessionAt(step models.WorkflowStep, status models.SessionStatus) *models.DesignSession {
	session := &models.DesignSession{
		ID:      uuid.New(),
		OwnerID: f.identity.UserID,
		Status:  status,
		Step:    step,
		Prompt:  "a fox logo",
		Style:   "minimalist",
	}
	f.repo.On("GetByID", mock.Anything, session.ID, f.identity.UserID).Return(session, nil)
	return session
}

func TestWorkflowService_StartWithPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("empty prompt is rejected", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.svc.StartWithPrompt(ctx, f.identity, "   ", "tshirt")
		assert.ErrorIs(t, err, models.ErrEmptyPrompt)
		f.repo.AssertNotCalled(t, "Create")
	})

	t.Run("valid prompt creates a draft at the style step", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Prompt == "a fox logo" &&
				s.Status == models.StatusDraft &&
				s.Step == models.StepStyle &&
				s.OwnerID == f.identity.UserID
		})).Return(nil).Once()

		session, err := f.svc.StartWithPrompt(ctx, f.identity, "  a fox logo  ", "tshirt")

		require.NoError(t, err)
		assert.Equal(t, models.StepStyle, session.Step)
		f.repo.AssertExpectations(t)
	})
}

func TestWorkflowService_ChooseColor_GeneratesImages(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	session := f.sessionAt(models.StepColor, models.StatusDraft)
	f.fundAccount(100)

	f.ledger.On("Debit", mock.Anything, f.identity.Token, f.identity.UserID.String(), 10, "generate").
		Return(90, nil).Once()
	f.gen.On("SubmitGeneration", mock.Anything, f.identity.Token, mock.MatchedBy(func(req models.GenerationRequest) bool {
		return strings.Contains(req.Prompt, "a fox logo") &&
			strings.Contains(req.Prompt, "forest green") &&
			req.Style == "minimalist" && req.Count == 2
	})).Return(&clients.SubmitResult{JobID: "job-1"}, nil).Once()
	f.gen.On("PollJob", mock.Anything, f.identity.Token, "job-1").
		Return(&clients.JobOutcome{Status: models.JobStatusPending}, nil).Once()
	f.gen.On("PollJob", mock.Anything, f.identity.Token, "job-1").
		Return(&clients.JobOutcome{
			Status:    models.JobStatusSucceeded,
			ImageURLs: []string{"http://img/a.png", "http://img/b.png"},
		}, nil).Once()

	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
		return s.Status == models.StatusGenerating && s.Step == models.StepGenerating
	})).Return(nil).Once()

	done := make(chan struct{})
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
		return s.Status == models.StatusCompleted && s.Step == models.StepComplete
	})).Run(func(args mock.Arguments) { close(done) }).Return(nil).Once()

	result, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")

	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, result.Status)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never completed")
	}
	f.repo.AssertExpectations(t)
	f.gen.AssertExpectations(t)
}

func TestWorkflowService_ChooseColor_InsufficientCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("cached shortfall is rejected without a debit call", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepColor, models.StatusDraft)

		// The advisory cache already shows the charge cannot succeed.
		f.fundAccount(5)

		_, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")

		var ibe *models.InsufficientBalanceError
		require.ErrorAs(t, err, &ibe)
		assert.Equal(t, 10, ibe.Required)
		assert.Equal(t, 5, ibe.Current)
		assert.Equal(t, 5, ibe.Shortfall())

		f.ledger.AssertNotCalled(t, "Debit")
		f.gen.AssertNotCalled(t, "SubmitGeneration")
		f.repo.AssertNotCalled(t, "Update")
		assert.Equal(t, models.StepColor, session.Step)
		assert.Equal(t, models.StatusDraft, session.Status)
	})

	t.Run("stale cache passes through and the ledger's 402 decides", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepColor, models.StatusDraft)

		// The cache claims enough credits; the server knows better.
		f.fundAccount(100)
		f.ledger.On("Debit", mock.Anything, f.identity.Token, f.identity.UserID.String(), 10, "generate").
			Return(3, &models.InsufficientBalanceError{Required: 10, Current: 3}).Once()

		_, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")

		var ibe *models.InsufficientBalanceError
		require.ErrorAs(t, err, &ibe)
		assert.Equal(t, 7, ibe.Shortfall())

		// The session stays at the color step, no generation starts.
		assert.Equal(t, models.StepColor, session.Step)
		assert.Equal(t, models.StatusDraft, session.Status)
		f.gen.AssertNotCalled(t, "SubmitGeneration")
		f.repo.AssertNotCalled(t, "Update")
	})

	t.Run("unreadable cache falls through to the ledger", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepColor, models.StatusDraft)

		f.ledger.On("GetBalance", mock.Anything, mock.Anything, mock.Anything).
			Return(0, models.ErrUpstream).Once()
		f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 10, "generate").
			Return(90, nil).Once()
		f.gen.On("SubmitGeneration", mock.Anything, mock.Anything, mock.Anything).
			Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a.png"}}, nil).Once()

		done := make(chan struct{})
		f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Status == models.StatusGenerating
		})).Return(nil).Once()
		f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Status == models.StatusCompleted
		})).Run(func(args mock.Arguments) { close(done) }).Return(nil).Once()

		_, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("generation never completed")
		}
		f.ledger.AssertExpectations(t)
	})
}

func TestWorkflowService_ChooseColor_TimeoutReturnsToColor(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	session := f.sessionAt(models.StepColor, models.StatusDraft)
	f.fundAccount(100)

	f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 10, "generate").Return(90, nil).Once()
	f.gen.On("SubmitGeneration", mock.Anything, mock.Anything, mock.Anything).
		Return(&clients.SubmitResult{JobID: "job-slow"}, nil).Once()
	f.gen.On("PollJob", mock.Anything, mock.Anything, "job-slow").
		Return(&clients.JobOutcome{Status: models.JobStatusPending}, nil)

	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
		return s.Status == models.StatusGenerating
	})).Return(nil).Once()

	reverted := make(chan struct{})
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
		return s.Status == models.StatusDraft && s.Step == models.StepColor
	})).Run(func(args mock.Arguments) { close(reverted) }).Return(nil).Once()

	_, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")
	require.NoError(t, err)

	select {
	case <-reverted:
	case <-time.After(2 * time.Second):
		t.Fatal("session was never reverted after the timeout")
	}

	// The poll budget is respected exactly; no extra poll after the last one.
	f.gen.AssertNumberOfCalls(t, "PollJob", 3)
	assert.Empty(t, session.GeneratedImages)
}

func TestWorkflowService_ChooseColor_ReentrancyGuard(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	session := f.sessionAt(models.StepColor, models.StatusDraft)
	f.fundAccount(100)

	f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 10, "generate").Return(90, nil).Once()

	submitted := make(chan struct{})
	release := make(chan struct{})
	f.gen.On("SubmitGeneration", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(submitted)
			<-release
		}).
		Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a.png"}}, nil).Once()
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.ChooseColor(ctx, f.identity, session.ID, "forest green")
	require.NoError(t, err)
	<-submitted

	// Second attempt while the first generation is still running.
	session.Step = models.StepColor
	_, err = f.svc.ChooseColor(ctx, f.identity, session.ID, "crimson")
	assert.ErrorIs(t, err, models.ErrGenerationInProgress)

	close(release)
	f.ledger.AssertNumberOfCalls(t, "Debit", 1)
}

func TestWorkflowService_ApplyTool(t *testing.T) {
	ctx := context.Background()

	newCompletedSession := func(f *workflowFixture) *models.DesignSession {
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)
		session.GeneratedImages = []models.GeneratedImage{
			{URL: "http://img/a.png"},
			{URL: "http://img/b.png"},
		}
		selected := "http://img/a.png"
		session.SelectedImageURL = &selected
		return session
	}

	t.Run("successful edit replaces the image in place", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := newCompletedSession(f)
		f.fundAccount(100)

		f.ledger.On("Debit", mock.Anything, f.identity.Token, f.identity.UserID.String(), 2, "removeBackground").
			Return(88, nil).Once()
		f.gen.On("SubmitTool", mock.Anything, f.identity.Token, mock.MatchedBy(func(req models.ToolRequest) bool {
			return req.ImageURL == "http://img/a.png" && req.Operation == models.JobKindRemoveBackground
		})).Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a-nobg.png"}}, nil).Once()
		f.repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

		result, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindRemoveBackground, nil)

		require.NoError(t, err)
		assert.Equal(t, "http://img/a-nobg.png", *result.SelectedImageURL)
		assert.True(t, result.HasImage("http://img/a-nobg.png"))
		assert.False(t, result.HasImage("http://img/a.png"))
		assert.Equal(t, models.StepComplete, result.Step)
	})

	t.Run("undo restores the previous version", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := newCompletedSession(f)
		f.fundAccount(100)

		f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 2, "upscale").Return(88, nil).Once()
		f.gen.On("SubmitTool", mock.Anything, mock.Anything, mock.Anything).
			Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a-big.png"}}, nil).Once()
		f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindUpscale, nil)
		require.NoError(t, err)

		result, err := f.svc.UndoEdit(ctx, f.identity, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "http://img/a.png", *result.SelectedImageURL)
		assert.True(t, result.HasImage("http://img/a.png"))
		assert.False(t, result.HasImage("http://img/a-big.png"))
	})

	t.Run("failed edit pops the history entry and keeps the image", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := newCompletedSession(f)
		f.fundAccount(100)

		f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 5, "reimagine").Return(85, nil).Once()
		f.gen.On("SubmitTool", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, models.ErrGenerationFailed).Once()

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindReimagine, nil)
		require.ErrorIs(t, err, models.ErrGenerationFailed)

		assert.Equal(t, "http://img/a.png", *session.SelectedImageURL)
		assert.Equal(t, models.StepComplete, session.Step)

		// The failed attempt left nothing to undo.
		_, err = f.svc.UndoEdit(ctx, f.identity, session.ID)
		assert.ErrorIs(t, err, models.ErrNothingToUndo)
	})

	t.Run("failed persistence also pops the history entry", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := newCompletedSession(f)
		f.fundAccount(100)

		f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 2, "upscale").Return(88, nil).Once()
		f.gen.On("SubmitTool", mock.Anything, mock.Anything, mock.Anything).
			Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a-big.png"}}, nil).Once()
		f.repo.On("Update", mock.Anything, mock.Anything).Return(assert.AnError).Once()

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindUpscale, nil)
		require.Error(t, err)

		// The in-memory session matches what is persisted.
		assert.Equal(t, "http://img/a.png", *session.SelectedImageURL)
		assert.True(t, session.HasImage("http://img/a.png"))
		assert.False(t, session.HasImage("http://img/a-big.png"))

		_, err = f.svc.UndoEdit(ctx, f.identity, session.ID)
		assert.ErrorIs(t, err, models.ErrNothingToUndo)
	})

	t.Run("requires a selected image", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindUpscale, nil)
		assert.ErrorIs(t, err, models.ErrNoImageSelected)
		f.ledger.AssertNotCalled(t, "Debit")
	})

	t.Run("generate is not a tool", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindGenerate, nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestWorkflowService_SelectImage(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an image not in the session", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)
		session.GeneratedImages = []models.GeneratedImage{{URL: "http://img/a.png"}}

		_, err := f.svc.SelectImage(ctx, f.identity, session.ID, "http://img/evil.png")
		assert.ErrorIs(t, err, models.ErrImageNotInSession)
	})

	t.Run("selecting a different image resets the undo history", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)
		session.GeneratedImages = []models.GeneratedImage{
			{URL: "http://img/a.png"},
			{URL: "http://img/b.png"},
		}
		selected := "http://img/a.png"
		session.SelectedImageURL = &selected
		f.fundAccount(100)

		f.ledger.On("Debit", mock.Anything, mock.Anything, mock.Anything, 2, "upscale").Return(88, nil).Once()
		f.gen.On("SubmitTool", mock.Anything, mock.Anything, mock.Anything).
			Return(&clients.SubmitResult{ImageURLs: []string{"http://img/a-big.png"}}, nil).Once()
		f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

		_, err := f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindUpscale, nil)
		require.NoError(t, err)

		_, err = f.svc.SelectImage(ctx, f.identity, session.ID, "http://img/b.png")
		require.NoError(t, err)

		_, err = f.svc.UndoEdit(ctx, f.identity, session.ID)
		assert.ErrorIs(t, err, models.ErrNothingToUndo)
	})
}

func TestWorkflowService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a selected image", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)

		_, err := f.svc.Submit(ctx, f.identity, session.ID)
		assert.ErrorIs(t, err, models.ErrNoImageSelected)
	})

	t.Run("submitted session becomes read-only", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepComplete, models.StatusCompleted)
		session.GeneratedImages = []models.GeneratedImage{{URL: "http://img/a.png"}}
		selected := "http://img/a.png"
		session.SelectedImageURL = &selected

		f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Status == models.StatusSubmitted
		})).Return(nil).Once()

		result, err := f.svc.Submit(ctx, f.identity, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSubmitted, result.Status)

		_, err = f.svc.ChooseStyle(ctx, f.identity, session.ID, "vintage")
		assert.ErrorIs(t, err, models.ErrSessionLocked)

		_, err = f.svc.ApplyTool(ctx, f.identity, session.ID, models.JobKindUpscale, nil)
		assert.ErrorIs(t, err, models.ErrSessionLocked)
	})
}

func TestWorkflowService_Remix(t *testing.T) {
	ctx := context.Background()

	t.Run("clones only the prompt and archives the draft source", func(t *testing.T) {
		f := newWorkflowFixture(t)
		source := f.sessionAt(models.StepComplete, models.StatusCompleted)
		source.Color = "forest green"
		source.GeneratedImages = []models.GeneratedImage{{URL: "http://img/a.png"}}

		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Prompt == source.Prompt &&
				s.ID != source.ID &&
				s.Status == models.StatusDraft &&
				s.Step == models.StepStyle &&
				s.Color == "" &&
				len(s.GeneratedImages) == 0
		})).Return(nil).Once()
		f.repo.On("Archive", mock.Anything, source.ID, f.identity.UserID).Return(nil).Once()

		remix, err := f.svc.Remix(ctx, f.identity, source.ID)

		require.NoError(t, err)
		assert.NotEqual(t, source.ID, remix.ID)
		f.repo.AssertExpectations(t)
	})

	t.Run("submitted source survives a remix", func(t *testing.T) {
		f := newWorkflowFixture(t)
		source := f.sessionAt(models.StepComplete, models.StatusSubmitted)

		f.repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := f.svc.Remix(ctx, f.identity, source.ID)

		require.NoError(t, err)
		f.repo.AssertNotCalled(t, "Archive")
	})
}

func TestWorkflowService_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("reconciles the balance cache", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepStyle, models.StatusDraft)

		f.ledger.On("Reconcile", mock.Anything, f.identity.Token, f.identity.UserID.String()).
			Return(42, nil).Once()

		_, err := f.svc.Resume(ctx, f.identity, session.ID)
		require.NoError(t, err)
		f.ledger.AssertExpectations(t)
	})

	t.Run("repairs a session stranded in generating", func(t *testing.T) {
		f := newWorkflowFixture(t)
		session := f.sessionAt(models.StepGenerating, models.StatusGenerating)

		f.ledger.On("Reconcile", mock.Anything, mock.Anything, mock.Anything).Return(42, nil).Once()
		f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
			return s.Status == models.StatusDraft && s.Step == models.StepColor
		})).Return(nil).Once()

		result, err := f.svc.Resume(ctx, f.identity, session.ID)

		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, result.Status)
		assert.Equal(t, models.StepColor, result.Step)
		f.repo.AssertExpectations(t)
	})
}

func TestWorkflowService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	sessionID := uuid.New()
	f.repo.On("Archive", mock.Anything, sessionID, f.identity.UserID).Return(nil).Once()

	err := f.svc.Delete(ctx, f.identity, sessionID)
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestWorkflowService_RecoverStuckSessions(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	stuck := []*models.DesignSession{
		{ID: uuid.New(), Status: models.StatusGenerating, Step: models.StepGenerating},
		{ID: uuid.New(), Status: models.StatusGenerating, Step: models.StepGenerating},
	}
	f.repo.On("FindGenerating", mock.Anything).Return(stuck, nil).Once()
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(s *models.DesignSession) bool {
		return s.Status == models.StatusDraft && s.Step == models.StepColor
	})).Return(nil).Twice()

	err := f.svc.RecoverStuckSessions(ctx)
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}
