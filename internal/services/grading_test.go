package services

import (
	"encoding/json"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"github.com/sapedu/testing-service/internal/models"
)

func answerJSON(t *testing.T, value models.AnswerValue) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed to marshal answer value: %v", err)
	}
	return datatypes.JSON(data)
}

func TestGradeAttempt_MixedQuestionTypes(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.Dropdown, Points: 2, CorrectAnswer: answerJSON(t, models.ScalarAnswer("B"))},
		{ID: 2, Type: models.Written, Points: 3},
	}
	answers := []*models.AttemptAnswer{
		{QuestionID: 1, Answer: answerJSON(t, models.ScalarAnswer("B"))},
		{QuestionID: 2, Answer: answerJSON(t, models.ScalarAnswer("free text response"))},
	}

	result, err := GradeAttempt(questions, answers)
	if err != nil {
		t.Fatalf("GradeAttempt failed: %v", err)
	}

	if result.Score != 2 {
		t.Errorf("Expected score 2, got %v", result.Score)
	}
	if result.TotalPoints != 5 {
		t.Errorf("Expected total points 5, got %v", result.TotalPoints)
	}
	if result.Percentage != 40.00 {
		t.Errorf("Expected percentage 40.00, got %v", result.Percentage)
	}

	dropdown := result.Answers[0]
	if !dropdown.Graded || dropdown.IsCorrect == nil || !*dropdown.IsCorrect {
		t.Errorf("Expected dropdown answer graded correct, got %+v", dropdown)
	}
	if dropdown.Earned != 2 {
		t.Errorf("Expected dropdown to earn 2, got %v", dropdown.Earned)
	}

	written := result.Answers[1]
	if written.Graded {
		t.Error("Written answers must not be auto-graded")
	}
	if written.IsCorrect == nil || *written.IsCorrect {
		t.Errorf("Expected written answer marked not correct, got %+v", written.IsCorrect)
	}
	if written.Earned != 0 {
		t.Errorf("Expected written answer to earn 0, got %v", written.Earned)
	}
}

func TestGradeAttempt_CheckboxIgnoresOrder(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.Checkbox, Points: 4, CorrectAnswer: answerJSON(t, models.SetAnswer("A", "C"))},
	}

	tests := []struct {
		name    string
		answer  models.AnswerValue
		correct bool
		earned  float64
	}{
		{"same order", models.SetAnswer("A", "C"), true, 4},
		{"reversed order", models.SetAnswer("C", "A"), true, 4},
		{"missing selection", models.SetAnswer("A"), false, 0},
		{"extra selection", models.SetAnswer("A", "B", "C"), false, 0},
		{"wrong selection", models.SetAnswer("B", "D"), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := []*models.AttemptAnswer{
				{QuestionID: 1, Answer: answerJSON(t, tt.answer)},
			}
			result, err := GradeAttempt(questions, answers)
			if err != nil {
				t.Fatalf("GradeAttempt failed: %v", err)
			}

			graded := result.Answers[0]
			if graded.IsCorrect == nil || *graded.IsCorrect != tt.correct {
				t.Errorf("Expected correct=%v, got %+v", tt.correct, graded.IsCorrect)
			}
			if graded.Earned != tt.earned {
				t.Errorf("Expected earned %v, got %v", tt.earned, graded.Earned)
			}
		})
	}
}

func TestGradeAttempt_WrongScalarAnswer(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.MultipleChoice, Points: 2, CorrectAnswer: answerJSON(t, models.ScalarAnswer("A"))},
	}
	answers := []*models.AttemptAnswer{
		{QuestionID: 1, Answer: answerJSON(t, models.ScalarAnswer("B"))},
	}

	result, err := GradeAttempt(questions, answers)
	if err != nil {
		t.Fatalf("GradeAttempt failed: %v", err)
	}

	if result.Score != 0 {
		t.Errorf("Expected score 0, got %v", result.Score)
	}
	graded := result.Answers[0]
	if graded.IsCorrect == nil || *graded.IsCorrect {
		t.Errorf("Expected incorrect, got %+v", graded.IsCorrect)
	}
}

func TestGradeAttempt_UnknownQuestionPassesThrough(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.MultipleChoice, Points: 2, CorrectAnswer: answerJSON(t, models.ScalarAnswer("A"))},
	}
	answers := []*models.AttemptAnswer{
		{QuestionID: 1, Answer: answerJSON(t, models.ScalarAnswer("A"))},
		{QuestionID: 99, Answer: answerJSON(t, models.ScalarAnswer("anything"))},
	}

	result, err := GradeAttempt(questions, answers)
	if err != nil {
		t.Fatalf("GradeAttempt failed: %v", err)
	}

	if result.TotalPoints != 2 {
		t.Errorf("Unknown questions must not contribute points, got total %v", result.TotalPoints)
	}
	if result.Score != 2 {
		t.Errorf("Expected score 2, got %v", result.Score)
	}

	unknown := result.Answers[1]
	if unknown.Graded {
		t.Error("Unknown question answers must not be graded")
	}
	if unknown.IsCorrect != nil {
		t.Errorf("Expected nil IsCorrect for unknown question, got %v", *unknown.IsCorrect)
	}
	if unknown.Earned != 0 {
		t.Errorf("Expected earned 0 for unknown question, got %v", unknown.Earned)
	}
}

func TestGradeAttempt_VariantMismatch(t *testing.T) {
	tests := []struct {
		name     string
		question models.Question
		answer   models.AnswerValue
	}{
		{
			"set answer to scalar question",
			models.Question{ID: 1, Type: models.MultipleChoice, Points: 1, CorrectAnswer: answerJSON(t, models.ScalarAnswer("A"))},
			models.SetAnswer("A"),
		},
		{
			"scalar answer to checkbox question",
			models.Question{ID: 2, Type: models.Checkbox, Points: 1, CorrectAnswer: answerJSON(t, models.SetAnswer("A"))},
			models.ScalarAnswer("A"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.question
			answers := []*models.AttemptAnswer{
				{QuestionID: q.ID, Answer: answerJSON(t, tt.answer)},
			}
			_, err := GradeAttempt([]*models.Question{&q}, answers)
			if err == nil {
				t.Fatal("Expected variant mismatch error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Expected ValidationErrors, got %T: %v", err, err)
			}
		})
	}
}

func TestGradeAttempt_ZeroTotalPoints(t *testing.T) {
	result, err := GradeAttempt(nil, nil)
	if err != nil {
		t.Fatalf("GradeAttempt failed: %v", err)
	}
	if result.Percentage != 0 {
		t.Errorf("Expected percentage 0 for empty test, got %v", result.Percentage)
	}
	if result.TotalPoints != 0 {
		t.Errorf("Expected total points 0, got %v", result.TotalPoints)
	}
}

func TestGradeAttempt_MissingCorrectAnswer(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.MultipleChoice, Points: 1},
	}
	answers := []*models.AttemptAnswer{
		{QuestionID: 1, Answer: answerJSON(t, models.ScalarAnswer("A"))},
	}

	if _, err := GradeAttempt(questions, answers); err == nil {
		t.Fatal("Expected error for question without a configured correct answer")
	}
}

func TestGradeAttempt_Idempotent(t *testing.T) {
	questions := []*models.Question{
		{ID: 1, Type: models.Dropdown, Points: 2, CorrectAnswer: answerJSON(t, models.ScalarAnswer("B"))},
		{ID: 2, Type: models.Checkbox, Points: 3, CorrectAnswer: answerJSON(t, models.SetAnswer("A", "C"))},
		{ID: 3, Type: models.Written, Points: 5},
	}
	answers := []*models.AttemptAnswer{
		{QuestionID: 1, Answer: answerJSON(t, models.ScalarAnswer("B"))},
		{QuestionID: 2, Answer: answerJSON(t, models.SetAnswer("C", "A"))},
		{QuestionID: 3, Answer: answerJSON(t, models.ScalarAnswer("essay"))},
	}

	first, err := GradeAttempt(questions, answers)
	if err != nil {
		t.Fatalf("First grading failed: %v", err)
	}
	second, err := GradeAttempt(questions, answers)
	if err != nil {
		t.Fatalf("Second grading failed: %v", err)
	}

	if first.Score != second.Score || first.Percentage != second.Percentage || first.TotalPoints != second.TotalPoints {
		t.Errorf("Grading is not idempotent: first %+v, second %+v", first, second)
	}
	if first.Score != 5 {
		t.Errorf("Expected score 5, got %v", first.Score)
	}
	if first.Percentage != 50.00 {
		t.Errorf("Expected percentage 50.00, got %v", first.Percentage)
	}
}

func TestCalculatePercentage_Rounding(t *testing.T) {
	tests := []struct {
		score    float64
		total    float64
		expected float64
	}{
		{2, 5, 40.00},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 10, 0},
		{10, 10, 100},
		{5, 0, 0},
	}

	for _, tt := range tests {
		if got := calculatePercentage(tt.score, tt.total); got != tt.expected {
			t.Errorf("calculatePercentage(%v, %v) = %v, expected %v", tt.score, tt.total, got, tt.expected)
		}
	}
}
