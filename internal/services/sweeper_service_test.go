package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sapedu/testing-service/internal/models"
)

func newSweeperForTest(t *testing.T, repo *MockRepository, now func() time.Time) (*sweeperService, *attemptService) {
	t.Helper()
	attempts := newAttemptServiceForTest(t, repo, nil, now)
	sweeper := &sweeperService{
		repo:     repo,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		attempts: attempts,
		interval: time.Minute,
		now:      now,
	}
	return sweeper, attempts
}

func TestSweeperService_Sweep(t *testing.T) {
	repo := NewMockRepository()
	seedTestWithQuestions(t, repo)
	repo.AddUser(&models.User{ID: "student-3", Role: models.RoleStudent})

	// Long test so an attempt can be stale without being expired
	repo.AddTest(&models.Test{
		ID:        2,
		CourseID:  10,
		Title:     "Three Hour Exam",
		CreatedBy: "teacher-1",
		Duration:  180,
		Status:    models.TestActive,
	})

	now := func() time.Time { return testClock }
	sweeper, _ := newSweeperForTest(t, repo, now)
	ctx := context.Background()

	// Expired with a saved answer, should end up graded
	expired := &models.TestAttempt{
		TestID:    1,
		StudentID: "student-1",
		Status:    models.AttemptInProgress,
		StartedAt: testClock.Add(-2 * time.Hour),
		Duration:  30 * 60,
	}
	repo.AddAttempt(expired)
	if err := repo.Answer().Upsert(ctx, nil, &models.AttemptAnswer{
		AttemptID:  expired.ID,
		QuestionID: 1,
		Position:   1,
		Answer:     answerJSON(t, models.ScalarAnswer("B")),
	}); err != nil {
		t.Fatalf("Failed to seed answer: %v", err)
	}

	// Expired without answers, should end up submitted
	empty := &models.TestAttempt{
		TestID:    1,
		StudentID: "student-2",
		Status:    models.AttemptInProgress,
		StartedAt: testClock.Add(-90 * time.Minute),
		Duration:  30 * 60,
	}
	repo.AddAttempt(empty)

	// Stale but still within its three hour budget, must be left alone
	running := &models.TestAttempt{
		TestID:    2,
		StudentID: "student-3",
		Status:    models.AttemptInProgress,
		StartedAt: testClock.Add(-80 * time.Minute),
		Duration:  180 * 60,
	}
	repo.AddAttempt(running)

	// Too recent for the stale window, not even scanned
	fresh := &models.TestAttempt{
		TestID:    1,
		StudentID: "student-3",
		Status:    models.AttemptInProgress,
		StartedAt: testClock.Add(-10 * time.Minute),
		Duration:  30 * 60,
	}
	repo.AddAttempt(fresh)

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if result.Scanned != 3 {
		t.Errorf("Expected 3 scanned attempts, got %d", result.Scanned)
	}
	if result.Finalized != 2 {
		t.Errorf("Expected 2 finalized attempts, got %d", result.Finalized)
	}
	if result.Failed != 0 {
		t.Errorf("Expected no failures, got %d", result.Failed)
	}

	graded := repo.GetAttempt(expired.ID)
	if graded.Status != models.AttemptGraded {
		t.Errorf("Expected expired attempt with answers graded, got %s", graded.Status)
	}
	if graded.Score != 2 || graded.TotalPoints != 5 {
		t.Errorf("Expected grade 2/5, got %v/%v", graded.Score, graded.TotalPoints)
	}
	if !graded.AutoSubmitted || graded.TimeRemaining != 0 || graded.TimeSpent != 30*60 {
		t.Errorf("Unexpected timing fields: %+v", graded)
	}

	submitted := repo.GetAttempt(empty.ID)
	if submitted.Status != models.AttemptSubmitted {
		t.Errorf("Expected empty expired attempt submitted, got %s", submitted.Status)
	}

	if repo.GetAttempt(running.ID).Status != models.AttemptInProgress {
		t.Error("Stale but unexpired attempt must stay in progress")
	}
	if repo.GetAttempt(fresh.ID).Status != models.AttemptInProgress {
		t.Error("Fresh attempt must stay in progress")
	}
}

func TestSweeperService_Sweep_Idempotent(t *testing.T) {
	repo := NewMockRepository()
	seedTestWithQuestions(t, repo)

	now := func() time.Time { return testClock }
	sweeper, _ := newSweeperForTest(t, repo, now)
	ctx := context.Background()

	attempt := &models.TestAttempt{
		TestID:    1,
		StudentID: "student-1",
		Status:    models.AttemptInProgress,
		StartedAt: testClock.Add(-2 * time.Hour),
		Duration:  30 * 60,
	}
	repo.AddAttempt(attempt)

	first, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}
	if first.Finalized != 1 {
		t.Fatalf("Expected 1 finalized, got %d", first.Finalized)
	}

	second, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if second.Scanned != 0 || second.Finalized != 0 {
		t.Errorf("Second sweep must find nothing, got %+v", second)
	}
}

func TestSweeperService_StartStop(t *testing.T) {
	repo := NewMockRepository()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	attempts := newAttemptServiceForTest(t, repo, nil, nil)

	sweeper := NewSweeperService(repo, nil, logger, attempts, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)
	// Double start is a no-op
	sweeper.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	// Double stop is a no-op
	sweeper.Stop()
}
