package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/repositories"
)

// staleThreshold is how long an in-progress attempt must have been running
// before the sweeper considers it at all. Tests never run longer than this,
// so anything older is either expired or abandoned.
const staleThreshold = time.Hour

type sweeperService struct {
	repo     repositories.Repository
	db       *gorm.DB
	logger   *slog.Logger
	attempts AttemptService
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewSweeperService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, attempts AttemptService, interval time.Duration) SweeperService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &sweeperService{
		repo:     repo,
		db:       db,
		logger:   logger,
		attempts: attempts,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *sweeperService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("Starting attempt expiry sweeper", "interval", s.interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Sweeper context cancelled")
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if result, err := s.Sweep(ctx); err != nil {
					s.logger.Error("Sweep pass failed", "error", err)
				} else if result.Scanned > 0 {
					s.logger.Info("Sweep pass completed",
						"scanned", result.Scanned,
						"finalized", result.Finalized,
						"failed", result.Failed)
				}
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for the current pass to finish.
func (s *sweeperService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("Attempt expiry sweeper stopped")
}

// Sweep finalizes in-progress attempts whose time has run out. A failure on
// one attempt does not block the rest of the pass.
func (s *sweeperService) Sweep(ctx context.Context) (*SweepResult, error) {
	currentTime := s.now()
	cutoff := currentTime.Add(-staleThreshold)

	stale, err := s.repo.Attempt().GetStaleInProgress(ctx, s.db, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale attempts: %w", err)
	}

	result := &SweepResult{Scanned: len(stale)}
	for _, attempt := range stale {
		if !attempt.IsExpiredAt(currentTime) {
			continue
		}

		finalized, err := s.attempts.FinalizeExpired(ctx, attempt, currentTime)
		if err != nil {
			result.Failed++
			s.logger.Error("Failed to finalize expired attempt",
				"attempt_id", attempt.ID,
				"test_id", attempt.TestID,
				"error", err)
			continue
		}
		if finalized {
			result.Finalized++
		}
	}

	return result, nil
}
