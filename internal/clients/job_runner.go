package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"design-server/internal/models"

	"go.uber.org/zap"
)

// Clock abstracts waiting between polls so tests can run the loop instantly.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock returns a Clock backed by time.Timer.
func RealClock() Clock {
	return realClock{}
}

// JobRunner drives a submit-then-poll cycle against the generation backend.
// The poll loop is bounded: after maxAttempts polls without a terminal status
// the run ends with ErrGenerationTimeout, which is distinct from a reported
// job failure.
type JobRunner struct {
	client      GenerationClient
	interval    time.Duration
	maxAttempts int
	clock       Clock
	logger      *zap.Logger
}

// NewJobRunner creates a runner. A nil clock falls back to RealClock.
func NewJobRunner(client GenerationClient, interval time.Duration, maxAttempts int, clock Clock, logger *zap.Logger) *JobRunner {
	if clock == nil {
		clock = RealClock()
	}
	return &JobRunner{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		clock:       clock,
		logger:      logger.Named("JobRunner"),
	}
}

// Run submits the job and waits for its images. Synchronous results are
// returned immediately; async jobs are polled at the configured interval up
// to maxAttempts times.
func (r *JobRunner) Run(ctx context.Context, token string, submit func(ctx context.Context) (*SubmitResult, error)) ([]string, error) {
	result, err := submit(ctx)
	if err != nil {
		return nil, err
	}

	if len(result.ImageURLs) > 0 {
		return result.ImageURLs, nil
	}
	if result.JobID == "" {
		return nil, models.ErrNoOutput
	}

	r.logger.Info("Polling generation job", zap.String("jobID", result.JobID))

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		outcome, err := r.client.PollJob(ctx, token, result.JobID)
		if err != nil {
			return nil, err
		}

		switch outcome.Status {
		case models.JobStatusSucceeded:
			if len(outcome.ImageURLs) == 0 {
				return nil, models.ErrNoOutput
			}
			r.logger.Info("Generation job succeeded",
				zap.String("jobID", result.JobID), zap.Int("attempts", attempt))
			return outcome.ImageURLs, nil
		case models.JobStatusFailed:
			r.logger.Warn("Generation job failed",
				zap.String("jobID", result.JobID), zap.String("providerError", outcome.Error))
			return nil, fmt.Errorf("%w: %s", models.ErrGenerationFailed, outcome.Error)
		}

		if attempt == r.maxAttempts {
			break
		}
		if err := r.clock.Sleep(ctx, r.interval); err != nil {
			return nil, err
		}
	}

	r.logger.Warn("Generation job timed out",
		zap.String("jobID", result.JobID), zap.Int("maxAttempts", r.maxAttempts))
	return nil, models.ErrGenerationTimeout
}

// IsTerminalFailure reports whether err ends the generation turn for good,
// as opposed to transport errors that a retry might clear.
func IsTerminalFailure(err error) bool {
	return errors.Is(err, models.ErrGenerationTimeout) ||
		errors.Is(err, models.ErrGenerationFailed) ||
		errors.Is(err, models.ErrNoOutput)
}
