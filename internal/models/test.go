package models

import (
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	Dropdown       QuestionType = "dropdown"
	Checkbox       QuestionType = "checkbox"
	Written        QuestionType = "written"
)

// IsAutoGradeable reports whether answers of this type can be scored
// without a human in the loop.
func (qt QuestionType) IsAutoGradeable() bool {
	return qt != Written
}

func (qt QuestionType) IsValid() bool {
	switch qt {
	case MultipleChoice, Dropdown, Checkbox, Written:
		return true
	}
	return false
}

type TestStatus string

const (
	TestDraft  TestStatus = "draft"
	TestActive TestStatus = "active"
	TestClosed TestStatus = "closed"
)

// Test is a timed test owned by a teacher within a course.
type Test struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	CourseID    uint    `json:"course_id" gorm:"not null;index"`
	Title       string  `json:"title" gorm:"not null;size:255"`
	Description *string `json:"description" gorm:"type:text"`
	CreatedBy   string  `json:"created_by" gorm:"not null;index;size:255"`

	// Availability window; nil bounds are open-ended.
	AvailableFrom  *time.Time `json:"available_from"`
	AvailableUntil *time.Time `json:"available_until"`

	Duration    int        `json:"duration" gorm:"not null"` // minutes
	Status      TestStatus `json:"status" gorm:"default:draft;index"`
	TotalPoints float64    `json:"total_points"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:TestID"`
	Creator   User       `json:"creator" gorm:"foreignKey:CreatedBy"`
}

func (Test) TableName() string {
	return "tests"
}

// IsAvailableAt reports whether the test can be started at the given
// instant. Draft and closed tests are never available.
func (t *Test) IsAvailableAt(now time.Time) bool {
	if t.Status != TestActive {
		return false
	}
	if t.AvailableFrom != nil && now.Before(*t.AvailableFrom) {
		return false
	}
	if t.AvailableUntil != nil && now.After(*t.AvailableUntil) {
		return false
	}
	return true
}

// Question belongs to a test. CorrectAnswer holds either a single
// option value or a list of option values depending on the type.
type Question struct {
	ID       uint         `json:"id" gorm:"primaryKey"`
	TestID   uint         `json:"test_id" gorm:"not null;index"`
	Type     QuestionType `json:"type" gorm:"not null;size:32"`
	Text     string       `json:"text" gorm:"not null;type:text"`
	Points   float64      `json:"points" gorm:"default:1"`
	Position int          `json:"position" gorm:"not null"`

	Options       datatypes.JSON `json:"options" gorm:"type:jsonb"`        // []QuestionOption
	CorrectAnswer datatypes.JSON `json:"correct_answer" gorm:"type:jsonb"` // AnswerValue

	Explanation *string `json:"explanation" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "test_questions"
}

// QuestionOption is one selectable option of a choice question.
type QuestionOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}
