package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/sapedu/testing-service/internal/events"
	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
)

// ===== PERMISSION HELPERS =====

func (s *attemptService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role, nil
}

func (s *attemptService) canAccessAttempt(ctx context.Context, attempt *models.TestAttempt, userID string) (bool, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	// Students can only access their own attempts
	if userRole == models.RoleStudent {
		return attempt.StudentID == userID, nil
	}

	if userRole == models.RoleAdmin {
		return true, nil
	}

	// Teachers can access attempts on their own tests
	if userRole == models.RoleTeacher {
		return s.canAccessTest(ctx, attempt.TestID, userID)
	}

	return false, nil
}

func (s *attemptService) canAccessTest(ctx context.Context, testID uint, userID string) (bool, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	if userRole == models.RoleAdmin {
		return true, nil
	}
	if userRole != models.RoleTeacher {
		return false, nil
	}

	test, err := s.repo.Test().GetByID(ctx, s.db, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrTestNotFound
		}
		return false, fmt.Errorf("failed to get test: %w", err)
	}

	return test.CreatedBy == userID, nil
}

// ===== RESPONSE BUILDING =====

// buildAttemptResponse shapes an attempt for the requesting user. Grading
// fields are withheld from students until the attempt is graded and its
// result has been published.
func (s *attemptService) buildAttemptResponse(ctx context.Context, attempt *models.TestAttempt, answers []*models.AttemptAnswer, userID string) (*AttemptResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	resultsVisible := userRole.CanViewUnpublishedResults() ||
		(attempt.Status == models.AttemptGraded && attempt.ResultPublished)

	response := &AttemptResponse{
		ID:              attempt.ID,
		TestID:          attempt.TestID,
		StudentID:       attempt.StudentID,
		Status:          attempt.Status,
		StartedAt:       attempt.StartedAt,
		SubmittedAt:     attempt.SubmittedAt,
		Duration:        attempt.Duration,
		TimeSpent:       attempt.TimeSpent,
		TimeRemaining:   attempt.TimeRemaining,
		AutoSubmitted:   attempt.AutoSubmitted,
		ResultPublished: attempt.ResultPublished,
		ResultsVisible:  resultsVisible,
		CanSubmit: attempt.Status == models.AttemptInProgress &&
			attempt.StudentID == userID &&
			!attempt.IsExpiredAt(s.now()),
	}

	if resultsVisible {
		response.Score = &attempt.Score
		response.Percentage = &attempt.Percentage
		response.TotalPoints = &attempt.TotalPoints
	}

	if answers != nil {
		results, err := s.buildAnswerResults(ctx, attempt, answers, resultsVisible)
		if err != nil {
			return nil, err
		}
		response.Answers = results
	}

	return response, nil
}

func (s *attemptService) buildAnswerResults(ctx context.Context, attempt *models.TestAttempt, answers []*models.AttemptAnswer, resultsVisible bool) ([]AnswerResult, error) {
	// Explanations come from the questions, fetched once per attempt
	var explanations map[uint]*string
	if resultsVisible {
		questions, err := s.repo.Question().GetByTest(ctx, s.db, attempt.TestID)
		if err != nil {
			return nil, fmt.Errorf("failed to get questions: %w", err)
		}
		explanations = make(map[uint]*string, len(questions))
		for _, q := range questions {
			explanations[q.ID] = q.Explanation
		}
	}

	results := make([]AnswerResult, 0, len(answers))
	for _, answer := range answers {
		result := AnswerResult{QuestionID: answer.QuestionID}

		if len(answer.Answer) > 0 {
			var value models.AnswerValue
			if err := json.Unmarshal(answer.Answer, &value); err != nil {
				return nil, fmt.Errorf("failed to parse stored answer: %w", err)
			}
			result.Answer = &value
		}

		if resultsVisible {
			earned := answer.Earned
			result.Earned = &earned
			result.IsCorrect = answer.IsCorrect
			result.Explanation = explanations[answer.QuestionID]
		}

		results = append(results, result)
	}

	return results, nil
}

func (s *attemptService) buildAttemptListResponse(ctx context.Context, attempts []*models.TestAttempt, total int64, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	responses := make([]*AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		response, err := s.buildAttemptResponse(ctx, attempt, nil, userID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}

	page := 1
	if filters.Limit > 0 {
		page = (filters.Offset / filters.Limit) + 1
	}

	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     page,
		Size:     len(responses),
	}, nil
}

// ===== ANSWER HELPERS =====

// validateAnswerVariant rejects answers whose shape does not match the
// question type before anything is stored
func validateAnswerVariant(question *models.Question, value models.AnswerValue) error {
	switch question.Type {
	case models.Checkbox:
		if !value.IsSet {
			return ValidationErrors{{
				Field:   "answer",
				Message: fmt.Sprintf("question %d expects a list of answers", question.ID),
				Rule:    "answer_variant",
			}}
		}
	case models.MultipleChoice, models.Dropdown, models.Written:
		if value.IsSet {
			return ValidationErrors{{
				Field:   "answer",
				Message: fmt.Sprintf("question %d expects a single answer", question.ID),
				Rule:    "answer_variant",
			}}
		}
	}
	return nil
}

func answerValueJSON(value models.AnswerValue) (datatypes.JSON, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return data, nil
}

// applyGrade copies grading results onto the stored answer rows
func applyGrade(answers []*models.AttemptAnswer, grade *GradeResult) {
	byQuestion := make(map[uint]GradedAnswer, len(grade.Answers))
	for _, graded := range grade.Answers {
		byQuestion[graded.QuestionID] = graded
	}

	for _, answer := range answers {
		if graded, ok := byQuestion[answer.QuestionID]; ok {
			answer.Earned = graded.Earned
			answer.IsCorrect = graded.IsCorrect
		}
	}
}

// ===== EVENTS =====

func (s *attemptService) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}

	event := events.NewEvent(eventType, data)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", eventType,
			"event_id", event.ID,
			"error", err)
	}
}
