package services

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/sapedu/testing-service/internal/models"
)

// GradedAnswer is the grading outcome for a single answer
type GradedAnswer struct {
	QuestionID uint
	Answer     models.AnswerValue
	Earned     float64
	IsCorrect  *bool
	Graded     bool
}

// GradeResult is the outcome of grading a whole attempt
type GradeResult struct {
	Score       float64
	TotalPoints float64
	Percentage  float64
	Answers     []GradedAnswer
}

// GradeAttempt scores a set of answers against the test's questions.
// Written questions are never auto-scored and always earn zero. Answers
// referencing unknown questions pass through ungraded. Grading the same
// input twice produces the same result.
func GradeAttempt(questions []*models.Question, answers []*models.AttemptAnswer) (*GradeResult, error) {
	byID := make(map[uint]*models.Question, len(questions))
	totalPoints := 0.0
	for _, q := range questions {
		byID[q.ID] = q
		totalPoints += q.Points
	}

	result := &GradeResult{
		TotalPoints: totalPoints,
		Answers:     make([]GradedAnswer, 0, len(answers)),
	}

	for _, answer := range answers {
		var value models.AnswerValue
		if len(answer.Answer) > 0 {
			if err := json.Unmarshal(answer.Answer, &value); err != nil {
				return nil, fmt.Errorf("failed to parse answer for question %d: %w", answer.QuestionID, err)
			}
		}

		question, ok := byID[answer.QuestionID]
		if !ok {
			result.Answers = append(result.Answers, GradedAnswer{
				QuestionID: answer.QuestionID,
				Answer:     value,
			})
			continue
		}

		graded, err := gradeAnswer(question, value)
		if err != nil {
			return nil, err
		}

		result.Score += graded.Earned
		result.Answers = append(result.Answers, graded)
	}

	result.Percentage = calculatePercentage(result.Score, totalPoints)
	return result, nil
}

func gradeAnswer(question *models.Question, value models.AnswerValue) (GradedAnswer, error) {
	graded := GradedAnswer{
		QuestionID: question.ID,
		Answer:     value,
	}

	if question.Type == models.Written {
		graded.IsCorrect = boolPtr(false)
		return graded, nil
	}

	correct, err := correctAnswerFor(question)
	if err != nil {
		return graded, err
	}

	var isCorrect bool
	switch question.Type {
	case models.MultipleChoice, models.Dropdown:
		if value.IsSet {
			return graded, ValidationErrors{{
				Field:   "answer",
				Message: fmt.Sprintf("question %d expects a single answer", question.ID),
				Rule:    "answer_variant",
			}}
		}
		isCorrect = value.Scalar == correct.Scalar

	case models.Checkbox:
		if !value.IsSet {
			return graded, ValidationErrors{{
				Field:   "answer",
				Message: fmt.Sprintf("question %d expects a list of answers", question.ID),
				Rule:    "answer_variant",
			}}
		}
		isCorrect = sameStringSet(value.Set, correct.Set)

	default:
		return graded, fmt.Errorf("unsupported question type %q", question.Type)
	}

	graded.Graded = true
	graded.IsCorrect = &isCorrect
	if isCorrect {
		graded.Earned = question.Points
	}

	return graded, nil
}

func correctAnswerFor(question *models.Question) (models.AnswerValue, error) {
	var correct models.AnswerValue
	if len(question.CorrectAnswer) == 0 {
		return correct, fmt.Errorf("question %d has no correct answer configured", question.ID)
	}
	if err := json.Unmarshal(question.CorrectAnswer, &correct); err != nil {
		return correct, fmt.Errorf("failed to parse correct answer for question %d: %w", question.ID, err)
	}
	return correct, nil
}

// sameStringSet compares two selections ignoring order
func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(sortStrings(a), sortStrings(b))
}

func sortStrings(arr []string) []string {
	sorted := make([]string, len(arr))
	copy(sorted, arr)
	sort.Strings(sorted)
	return sorted
}

// calculatePercentage rounds to two decimal places, zero when no points
func calculatePercentage(score, totalPoints float64) float64 {
	if totalPoints == 0 {
		return 0
	}
	return math.Round(score/totalPoints*100*100) / 100
}

func boolPtr(b bool) *bool {
	return &b
}
