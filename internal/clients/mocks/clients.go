package mocks

import (
	"context"

	"design-server/internal/clients"
	"design-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// GenerationClient is a testify mock for clients.GenerationClient.
type GenerationClient struct {
	mock.Mock
}

func (m *GenerationClient) SubmitGeneration(ctx context.Context, token string, req models.GenerationRequest) (*clients.SubmitResult, error) {
	args := m.Called(ctx, token, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.SubmitResult), args.Error(1)
}

func (m *GenerationClient) SubmitTool(ctx context.Context, token string, req models.ToolRequest) (*clients.SubmitResult, error) {
	args := m.Called(ctx, token, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.SubmitResult), args.Error(1)
}

func (m *GenerationClient) PollJob(ctx context.Context, token string, jobID string) (*clients.JobOutcome, error) {
	args := m.Called(ctx, token, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.JobOutcome), args.Error(1)
}

// LedgerClient is a testify mock for clients.LedgerClient.
type LedgerClient struct {
	mock.Mock
}

func (m *LedgerClient) GetBalance(ctx context.Context, token string, ownerID string) (int, error) {
	args := m.Called(ctx, token, ownerID)
	return args.Int(0), args.Error(1)
}

func (m *LedgerClient) Debit(ctx context.Context, token string, ownerID string, amount int, reason string) (int, error) {
	args := m.Called(ctx, token, ownerID, amount, reason)
	return args.Int(0), args.Error(1)
}

func (m *LedgerClient) Reconcile(ctx context.Context, token string, ownerID string) (int, error) {
	args := m.Called(ctx, token, ownerID)
	return args.Int(0), args.Error(1)
}

// VoiceClient is a testify mock for clients.VoiceClient.
type VoiceClient struct {
	mock.Mock
}

func (m *VoiceClient) Synthesize(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}
