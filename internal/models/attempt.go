package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

// Attempt states move forward only: in_progress -> submitted -> graded.
const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGraded     AttemptStatus = "graded"
)

// TestAttempt is one student's single attempt at a test. A student may
// hold at most one attempt per test, enforced by the unique index.
type TestAttempt struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	TestID    uint          `json:"test_id" gorm:"not null;uniqueIndex:idx_test_student"`
	StudentID string        `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_test_student"`
	Status    AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing
	StartedAt     time.Time  `json:"started_at" gorm:"not null;index"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	Duration      int        `json:"duration" gorm:"not null"` // seconds
	TimeSpent     int        `json:"time_spent"`               // seconds
	TimeRemaining int        `json:"time_remaining"`           // seconds
	AutoSubmitted bool       `json:"auto_submitted"`

	// Scoring, populated when the attempt is graded
	Score       float64 `json:"score"`
	Percentage  float64 `json:"percentage"`
	TotalPoints float64 `json:"total_points"`

	// Result visibility gate
	ResultPublished   bool       `json:"result_published"`
	ResultPublishedAt *time.Time `json:"result_published_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test    Test            `json:"test" gorm:"foreignKey:TestID"`
	Student User            `json:"student" gorm:"foreignKey:StudentID"`
	Answers []AttemptAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

func (TestAttempt) TableName() string {
	return "test_attempts"
}

// ElapsedAt returns whole seconds between StartedAt and now.
func (a *TestAttempt) ElapsedAt(now time.Time) int {
	return int(now.Sub(a.StartedAt).Seconds())
}

// IsExpiredAt reports whether the attempt's time budget is spent.
func (a *TestAttempt) IsExpiredAt(now time.Time) bool {
	return a.ElapsedAt(now) >= a.Duration
}

// AttemptAnswer is a student's answer to one question of an attempt.
// Position preserves the order answers were first saved in.
type AttemptAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_question"`
	Position   int  `json:"position" gorm:"not null"`

	Answer datatypes.JSON `json:"answer" gorm:"type:jsonb"` // AnswerValue

	// Grading; IsCorrect stays nil until the attempt is graded and for
	// answers that are never auto-scored.
	Earned    float64 `json:"earned"`
	IsCorrect *bool   `json:"is_correct"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AttemptAnswer) TableName() string {
	return "attempt_answers"
}

// AnswerValue is a tagged variant: either a single scalar value or a
// set of values. On the wire a scalar is a JSON string and a set is a
// JSON array of strings; anything else fails to decode.
type AnswerValue struct {
	Scalar string   `json:"-"`
	Set    []string `json:"-"`
	IsSet  bool     `json:"-"`
}

func ScalarAnswer(v string) AnswerValue {
	return AnswerValue{Scalar: v}
}

func SetAnswer(vs ...string) AnswerValue {
	return AnswerValue{Set: vs, IsSet: true}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.IsSet {
		return json.Marshal(v.Set)
	}
	return json.Marshal(v.Scalar)
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		v.Scalar = scalar
		v.Set = nil
		v.IsSet = false
		return nil
	}

	var set []string
	if err := json.Unmarshal(data, &set); err == nil {
		v.Scalar = ""
		v.Set = set
		v.IsSet = true
		return nil
	}

	return fmt.Errorf("answer value must be a string or an array of strings")
}
