package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/events"
	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
	"github.com/sapedu/testing-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	now       func() time.Time
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher) AttemptService {
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		now:       time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting test attempt",
		"test_id", req.TestID,
		"student_id", studentID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// Get test details
	test, err := s.repo.Test().GetByID(ctx, s.db, req.TestID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	currentTime := s.now()
	if !test.IsAvailableAt(currentTime) {
		return nil, ErrTestNotAvailable
	}

	// Cheap pre-check before hitting the unique index
	hasAttempt, err := s.repo.Attempt().HasAttempt(ctx, s.db, req.TestID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing attempt: %w", err)
	}
	if hasAttempt {
		return nil, ErrTestAlreadyAttempted
	}

	attempt := &models.TestAttempt{
		TestID:        req.TestID,
		StudentID:     studentID,
		Status:        models.AttemptInProgress,
		StartedAt:     currentTime,
		Duration:      test.Duration * 60, // minutes to seconds
		TimeRemaining: test.Duration * 60,
	}

	if err := s.repo.Attempt().Create(ctx, s.db, attempt); err != nil {
		// Unique index on (test_id, student_id) closes the race between
		// two concurrent starts
		if repositories.IsDuplicateError(err) {
			return nil, ErrTestAlreadyAttempted
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.Info("Test attempt started successfully",
		"attempt_id", attempt.ID,
		"test_id", req.TestID,
		"student_id", studentID)

	return s.buildAttemptResponse(ctx, attempt, nil, studentID)
}

func (s *attemptService) SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) error {
	s.logger.Info("Saving answer",
		"attempt_id", attemptID,
		"question_id", req.QuestionID,
		"student_id", studentID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return err
	}

	// Get attempt
	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	// Verify ownership
	if attempt.StudentID != studentID {
		return NewPermissionError(studentID, attemptID, "attempt", "save_answer", "not owned by student")
	}

	// Check if attempt is active
	if attempt.Status != models.AttemptInProgress {
		return ErrAttemptNotActive
	}

	// Check if attempt has expired
	currentTime := s.now()
	if attempt.IsExpiredAt(currentTime) {
		if _, err := s.FinalizeExpired(ctx, attempt, currentTime); err != nil {
			s.logger.Error("Failed to finalize expired attempt", "attempt_id", attemptID, "error", err)
		}
		return ErrAttemptTimeExpired
	}

	// Question must belong to the test and the answer shape must match its type
	question, err := s.repo.Question().GetByID(ctx, s.db, req.QuestionID)
	if err != nil || question.TestID != attempt.TestID {
		return ErrQuestionNotFound
	}
	if err := validateAnswerVariant(question, req.Answer); err != nil {
		return err
	}

	answerJSON, err := answerValueJSON(req.Answer)
	if err != nil {
		return err
	}

	// New answers take the next position, existing ones keep theirs
	count, err := s.repo.Answer().CountByAttempt(ctx, s.db, attemptID)
	if err != nil {
		return fmt.Errorf("failed to count answers: %w", err)
	}

	answer := &models.AttemptAnswer{
		AttemptID:  attemptID,
		QuestionID: req.QuestionID,
		Position:   int(count) + 1,
		Answer:     answerJSON,
	}

	if err := s.repo.Answer().Upsert(ctx, s.db, answer); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}

	s.logger.Info("Answer saved successfully",
		"attempt_id", attemptID,
		"question_id", req.QuestionID)

	return nil
}

func (s *attemptService) Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Submitting test attempt",
		"attempt_id", req.AttemptID,
		"student_id", studentID,
		"answers_count", len(req.Answers))

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// Get attempt
	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, req.AttemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	// Verify ownership
	if attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, req.AttemptID, "attempt", "submit", "not owned by student")
	}

	// Check if already submitted
	if attempt.Status != models.AttemptInProgress {
		return nil, ErrAttemptAlreadySubmitted
	}

	// Load questions for grading
	test, err := s.repo.Test().GetByIDWithQuestions(ctx, s.db, attempt.TestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get test questions: %w", err)
	}
	questions := make([]*models.Question, len(test.Questions))
	for i := range test.Questions {
		questions[i] = &test.Questions[i]
	}

	// The submitted answer set fully replaces anything saved earlier.
	// Duplicate question IDs collapse to the last occurrence so the
	// replacement never violates the (attempt_id, question_id) index.
	answers := make([]*models.AttemptAnswer, 0, len(req.Answers))
	slotByQuestion := make(map[uint]int, len(req.Answers))
	for _, answerReq := range req.Answers {
		answerJSON, err := answerValueJSON(answerReq.Answer)
		if err != nil {
			return nil, err
		}
		if slot, seen := slotByQuestion[answerReq.QuestionID]; seen {
			answers[slot].Answer = answerJSON
			continue
		}
		answers = append(answers, &models.AttemptAnswer{
			AttemptID:  req.AttemptID,
			QuestionID: answerReq.QuestionID,
			Position:   len(answers) + 1,
			Answer:     answerJSON,
		})
		slotByQuestion[answerReq.QuestionID] = len(answers) - 1
	}

	grade, err := GradeAttempt(questions, answers)
	if err != nil {
		return nil, err
	}
	applyGrade(answers, grade)

	currentTime := s.now()
	timeSpent := int(currentTime.Sub(attempt.StartedAt).Seconds())
	timeRemaining := attempt.Duration - timeSpent
	if timeRemaining < 0 {
		timeRemaining = 0
	}

	// The conditional update must win before any answer rows change so a
	// concurrent sweep that already finalized the attempt leaves its
	// graded answers untouched
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		finalized, txErr := txRepo.Attempt().Finalize(ctx, nil, req.AttemptID, map[string]interface{}{
			"status":         models.AttemptGraded,
			"submitted_at":   currentTime,
			"time_spent":     timeSpent,
			"time_remaining": timeRemaining,
			"auto_submitted": false,
			"score":          grade.Score,
			"percentage":     grade.Percentage,
			"total_points":   grade.TotalPoints,
		})
		if txErr != nil {
			return txErr
		}
		if !finalized {
			return ErrAttemptAlreadySubmitted
		}

		return txRepo.Answer().ReplaceForAttempt(ctx, nil, req.AttemptID, answers)
	})
	if err != nil {
		if errors.Is(err, ErrAttemptAlreadySubmitted) {
			return nil, ErrAttemptAlreadySubmitted
		}
		return nil, fmt.Errorf("failed to submit attempt: %w", err)
	}

	s.logger.Info("Test attempt submitted and graded",
		"attempt_id", req.AttemptID,
		"student_id", studentID,
		"score", grade.Score,
		"percentage", grade.Percentage)

	s.publishEvent(ctx, events.EventAttemptGraded, map[string]interface{}{
		"attempt_id": req.AttemptID,
		"test_id":    attempt.TestID,
		"student_id": studentID,
		"score":      grade.Score,
		"percentage": grade.Percentage,
	})

	return s.GetByIDWithDetails(ctx, req.AttemptID, studentID)
}

// FinalizeExpired closes out an in-progress attempt whose time ran out.
// Attempts with saved answers are graded, empty ones rest at submitted.
// Returns false when a concurrent submit got there first.
func (s *attemptService) FinalizeExpired(ctx context.Context, attempt *models.TestAttempt, now time.Time) (bool, error) {
	if attempt.Status != models.AttemptInProgress {
		return false, nil
	}

	savedAnswers, err := s.repo.Answer().GetByAttempt(ctx, s.db, attempt.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get saved answers: %w", err)
	}

	updates := map[string]interface{}{
		"submitted_at":   now,
		"time_spent":     attempt.Duration,
		"time_remaining": 0,
		"auto_submitted": true,
	}

	var grade *GradeResult
	if len(savedAnswers) > 0 {
		test, err := s.repo.Test().GetByIDWithQuestions(ctx, s.db, attempt.TestID)
		if err != nil {
			return false, fmt.Errorf("failed to get test questions: %w", err)
		}
		questions := make([]*models.Question, len(test.Questions))
		for i := range test.Questions {
			questions[i] = &test.Questions[i]
		}

		grade, err = GradeAttempt(questions, savedAnswers)
		if err != nil {
			return false, fmt.Errorf("failed to grade expired attempt: %w", err)
		}

		updates["status"] = models.AttemptGraded
		updates["score"] = grade.Score
		updates["percentage"] = grade.Percentage
		updates["total_points"] = grade.TotalPoints
	} else {
		updates["status"] = models.AttemptSubmitted
	}

	var finalized bool
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var txErr error
		finalized, txErr = txRepo.Attempt().Finalize(ctx, nil, attempt.ID, updates)
		if txErr != nil || !finalized {
			return txErr
		}

		if grade != nil {
			applyGrade(savedAnswers, grade)
			return txRepo.Answer().UpdateBatch(ctx, nil, savedAnswers)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !finalized {
		return false, nil
	}

	s.logger.Info("Expired attempt finalized",
		"attempt_id", attempt.ID,
		"test_id", attempt.TestID,
		"graded", grade != nil)

	s.publishEvent(ctx, events.EventAttemptAutoSubmitted, map[string]interface{}{
		"attempt_id": attempt.ID,
		"test_id":    attempt.TestID,
		"student_id": attempt.StudentID,
		"graded":     grade != nil,
	})

	return true, nil
}

// ===== GET OPERATIONS =====

func (s *attemptService) GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	canAccess, err := s.canAccessAttempt(ctx, attempt, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, id, "attempt", "read", "not owner or insufficient permissions")
	}

	return s.buildAttemptResponse(ctx, attempt, nil, userID)
}

func (s *attemptService) GetByIDWithDetails(ctx context.Context, id uint, userID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt with details: %w", err)
	}

	canAccess, err := s.canAccessAttempt(ctx, attempt, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, id, "attempt", "read", "not owner or insufficient permissions")
	}

	answers := make([]*models.AttemptAnswer, len(attempt.Answers))
	for i := range attempt.Answers {
		answers[i] = &attempt.Answers[i]
	}

	return s.buildAttemptResponse(ctx, attempt, answers, userID)
}

// ===== LIST OPERATIONS =====

func (s *attemptService) GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	attempts, total, err := s.repo.Attempt().GetByStudent(ctx, s.db, studentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts by student: %w", err)
	}

	return s.buildAttemptListResponse(ctx, attempts, total, filters, studentID)
}

func (s *attemptService) GetByTest(ctx context.Context, testID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	// Only the test owner or admins can list attempts on a test
	canAccess, err := s.canAccessTest(ctx, testID, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, testID, "test", "view_attempts", "not owner or insufficient permissions")
	}

	attempts, total, err := s.repo.Attempt().GetByTest(ctx, s.db, testID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts by test: %w", err)
	}

	return s.buildAttemptListResponse(ctx, attempts, total, filters, userID)
}

// ===== RESULT PUBLICATION =====

func (s *attemptService) PublishResult(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error) {
	s.logger.Info("Publishing attempt result",
		"attempt_id", attemptID,
		"user_id", userID)

	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	canAccess, err := s.canAccessTest(ctx, attempt.TestID, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, attemptID, "attempt", "publish_result", "not test owner or insufficient permissions")
	}

	// Publishing twice is a no-op
	if attempt.ResultPublished {
		return s.buildAttemptResponse(ctx, attempt, nil, userID)
	}

	publishedAt := s.now()
	if err := s.repo.Attempt().MarkResultPublished(ctx, s.db, attemptID, publishedAt); err != nil {
		return nil, fmt.Errorf("failed to publish result: %w", err)
	}

	attempt.ResultPublished = true
	attempt.ResultPublishedAt = timePtr(publishedAt)

	s.logger.Info("Attempt result published",
		"attempt_id", attemptID,
		"student_id", attempt.StudentID)

	s.publishEvent(ctx, events.EventResultPublished, map[string]interface{}{
		"attempt_id": attemptID,
		"test_id":    attempt.TestID,
		"student_id": attempt.StudentID,
	})

	return s.buildAttemptResponse(ctx, attempt, nil, userID)
}
