package services

import (
	"context"
	"io"
	"time"

	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
	"github.com/sapedu/testing-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use validator request types
type CreateTestRequest = validator.TestCreateRequest
type UpdateTestRequest = validator.TestUpdateRequest
type CreateQuestionRequest = validator.QuestionCreateRequest

type TestResponse struct {
	*models.Test
	CanEdit      bool `json:"can_edit"`
	CanTake      bool `json:"can_take"`
	HasAttempted bool `json:"has_attempted"`
}

type TestListResponse struct {
	Tests []*TestResponse `json:"tests"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type ImportQuestionsResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ===== ATTEMPT RELATED DTOs =====

type StartAttemptRequest struct {
	TestID uint `json:"test_id" validate:"required"`
}

type SaveAnswerRequest struct {
	QuestionID uint               `json:"question_id" validate:"required"`
	Answer     models.AnswerValue `json:"answer"`
}

type SubmitAttemptRequest struct {
	AttemptID uint                `json:"attempt_id" validate:"required"`
	Answers   []SaveAnswerRequest `json:"answers" validate:"dive"`
}

// AnswerResult is a single answer as exposed to API consumers. Grading
// fields are omitted until the result is visible to the requesting user.
type AnswerResult struct {
	QuestionID  uint                `json:"question_id"`
	Answer      *models.AnswerValue `json:"answer,omitempty"`
	Earned      *float64            `json:"earned,omitempty"`
	IsCorrect   *bool               `json:"is_correct,omitempty"`
	Explanation *string             `json:"explanation,omitempty"`
}

type AttemptResponse struct {
	ID              uint                 `json:"id"`
	TestID          uint                 `json:"test_id"`
	StudentID       string               `json:"student_id"`
	Status          models.AttemptStatus `json:"status"`
	StartedAt       time.Time            `json:"started_at"`
	SubmittedAt     *time.Time           `json:"submitted_at,omitempty"`
	Duration        int                  `json:"duration"`
	TimeSpent       int                  `json:"time_spent"`
	TimeRemaining   int                  `json:"time_remaining"`
	AutoSubmitted   bool                 `json:"auto_submitted"`
	ResultPublished bool                 `json:"result_published"`
	ResultsVisible  bool                 `json:"results_visible"`
	Score           *float64             `json:"score,omitempty"`
	Percentage      *float64             `json:"percentage,omitempty"`
	TotalPoints     *float64             `json:"total_points,omitempty"`
	Answers         []AnswerResult       `json:"answers,omitempty"`
	CanSubmit       bool                 `json:"can_submit"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

// SweepResult reports a single pass of the expiry sweeper
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Finalized int `json:"finalized"`
	Failed    int `json:"failed"`
}

// ===== SERVICE INTERFACES =====

type TestService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateTestRequest, creatorID string) (*TestResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*TestResponse, error)
	GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*TestResponse, error)
	Update(ctx context.Context, id uint, req *UpdateTestRequest, userID string) (*TestResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// List operations
	List(ctx context.Context, filters repositories.TestFilters, userID string) (*TestListResponse, error)
	GetByCourse(ctx context.Context, courseID uint, filters repositories.TestFilters, userID string) (*TestListResponse, error)
	GetAvailable(ctx context.Context, studentID string) (*TestListResponse, error)

	// Question import
	ImportQuestions(ctx context.Context, testID uint, reader io.Reader, userID string) (*ImportQuestionsResult, error)

	// Permission checks
	CanAccess(ctx context.Context, testID uint, userID string) (bool, error)
	CanEdit(ctx context.Context, testID uint, userID string) (bool, error)
}

type AttemptService interface {
	// Core attempt operations
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error)
	SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) error
	Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error)

	// Get operations
	GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error)
	GetByIDWithDetails(ctx context.Context, id uint, userID string) (*AttemptResponse, error)

	// List operations
	GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)
	GetByTest(ctx context.Context, testID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)

	// Result publication
	PublishResult(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error)

	// Expiry handling
	FinalizeExpired(ctx context.Context, attempt *models.TestAttempt, now time.Time) (bool, error)
}

type SweeperService interface {
	// Start launches the periodic sweep loop until Stop is called
	Start(ctx context.Context)
	Stop()

	// Sweep runs a single pass over stale in-progress attempts
	Sweep(ctx context.Context) (*SweepResult, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Test() TestService
	Attempt() AttemptService
	Sweeper() SweeperService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
