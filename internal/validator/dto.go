package validator

import (
	"time"

	"github.com/sapedu/testing-service/internal/models"
)

// TestCreateRequest represents the request structure for creating tests
type TestCreateRequest struct {
	CourseID       uint                    `json:"course_id" validate:"required"`
	Title          string                  `json:"title" validate:"required,test_title"`
	Description    *string                 `json:"description" validate:"omitempty,max=1000"`
	Duration       int                     `json:"duration" validate:"required,test_duration"`
	AvailableFrom  *time.Time              `json:"available_from"`
	AvailableUntil *time.Time              `json:"available_until" validate:"omitempty,future_date"`
	Questions      []QuestionCreateRequest `json:"questions" validate:"omitempty,dive"`
}

// TestUpdateRequest represents the request structure for updating tests
type TestUpdateRequest struct {
	Title          *string            `json:"title" validate:"omitempty,test_title"`
	Description    *string            `json:"description" validate:"omitempty,max=1000"`
	Duration       *int               `json:"duration" validate:"omitempty,test_duration"`
	AvailableFrom  *time.Time         `json:"available_from"`
	AvailableUntil *time.Time         `json:"available_until"`
	Status         *models.TestStatus `json:"status" validate:"omitempty,oneof=draft active closed"`
}

// QuestionCreateRequest represents a question within a test
type QuestionCreateRequest struct {
	Type          models.QuestionType `json:"type" validate:"required,question_type"`
	Text          string              `json:"text" validate:"required,max=2000"`
	Points        float64             `json:"points" validate:"omitempty,points_range"`
	Options       []string            `json:"options" validate:"omitempty,max=20,dive,max=500"`
	CorrectAnswer *models.AnswerValue `json:"correct_answer"`
	Explanation   *string             `json:"explanation" validate:"omitempty,max=1000"`
}
