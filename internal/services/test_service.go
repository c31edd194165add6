package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
	"github.com/sapedu/testing-service/internal/validator"
)

type testService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	now       func() time.Time
}

func NewTestService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) TestService {
	return &testService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		now:       time.Now,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *testService) Create(ctx context.Context, req *CreateTestRequest, creatorID string) (*TestResponse, error) {
	s.logger.Info("Creating test",
		"title", req.Title,
		"course_id", req.CourseID,
		"creator_id", creatorID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if err := validateQuestionRequests(req.Questions); err != nil {
		return nil, err
	}
	if err := validateAvailabilityWindow(req.AvailableFrom, req.AvailableUntil); err != nil {
		return nil, err
	}

	test := &models.Test{
		CourseID:       req.CourseID,
		Title:          req.Title,
		Description:    req.Description,
		CreatedBy:      creatorID,
		Duration:       req.Duration,
		AvailableFrom:  req.AvailableFrom,
		AvailableUntil: req.AvailableUntil,
		Status:         models.TestDraft,
	}

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Test().Create(ctx, nil, test); err != nil {
			return err
		}

		if len(req.Questions) == 0 {
			return nil
		}

		questions, totalPoints, err := buildQuestions(test.ID, req.Questions, 0)
		if err != nil {
			return err
		}
		if err := txRepo.Question().CreateBatch(ctx, nil, questions); err != nil {
			return err
		}

		test.TotalPoints = totalPoints
		return txRepo.Test().UpdateTotalPoints(ctx, nil, test.ID, totalPoints)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}

	s.logger.Info("Test created successfully",
		"test_id", test.ID,
		"questions", len(req.Questions))

	return s.buildTestResponse(ctx, test, creatorID)
}

func (s *testService) GetByID(ctx context.Context, id uint, userID string) (*TestResponse, error) {
	test, err := s.repo.Test().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	return s.buildTestResponse(ctx, test, userID)
}

func (s *testService) GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*TestResponse, error) {
	test, err := s.repo.Test().GetByIDWithQuestions(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	response, err := s.buildTestResponse(ctx, test, userID)
	if err != nil {
		return nil, err
	}

	// Students never see correct answers or explanations on the test itself
	if !response.CanEdit {
		for i := range test.Questions {
			test.Questions[i].CorrectAnswer = nil
			test.Questions[i].Explanation = nil
		}
	}

	return response, nil
}

func (s *testService) Update(ctx context.Context, id uint, req *UpdateTestRequest, userID string) (*TestResponse, error) {
	s.logger.Info("Updating test", "test_id", id, "user_id", userID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	test, err := s.repo.Test().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	canEdit, err := s.CanEdit(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, id, "test", "update", "not owner or insufficient permissions")
	}

	if req.Title != nil {
		test.Title = *req.Title
	}
	if req.Description != nil {
		test.Description = req.Description
	}
	if req.Duration != nil {
		test.Duration = *req.Duration
	}
	if req.AvailableFrom != nil {
		test.AvailableFrom = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		test.AvailableUntil = req.AvailableUntil
	}
	if req.Status != nil {
		test.Status = *req.Status
	}

	if err := validateAvailabilityWindow(test.AvailableFrom, test.AvailableUntil); err != nil {
		return nil, err
	}

	if err := s.repo.Test().Update(ctx, s.db, test); err != nil {
		return nil, fmt.Errorf("failed to update test: %w", err)
	}

	return s.buildTestResponse(ctx, test, userID)
}

func (s *testService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting test", "test_id", id, "user_id", userID)

	canEdit, err := s.CanEdit(ctx, id, userID)
	if err != nil {
		return err
	}
	if !canEdit {
		return NewPermissionError(userID, id, "test", "delete", "not owner or insufficient permissions")
	}

	if err := s.repo.Test().Delete(ctx, s.db, id); err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}

	return nil
}

// ===== LIST OPERATIONS =====

func (s *testService) List(ctx context.Context, filters repositories.TestFilters, userID string) (*TestListResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Teachers see their own tests, students only active ones
	switch userRole {
	case models.RoleTeacher:
		filters.CreatedBy = &userID
	case models.RoleStudent:
		active := models.TestActive
		filters.Status = &active
	}

	tests, total, err := s.repo.Test().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	return s.buildTestListResponse(ctx, tests, total, filters, userID)
}

func (s *testService) GetByCourse(ctx context.Context, courseID uint, filters repositories.TestFilters, userID string) (*TestListResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userRole == models.RoleStudent {
		active := models.TestActive
		filters.Status = &active
	}

	tests, total, err := s.repo.Test().GetByCourse(ctx, s.db, courseID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get tests by course: %w", err)
	}

	return s.buildTestListResponse(ctx, tests, total, filters, userID)
}

// GetAvailable returns tests currently open for taking, each flagged with
// whether the student has already used their attempt.
func (s *testService) GetAvailable(ctx context.Context, studentID string) (*TestListResponse, error) {
	tests, err := s.repo.Test().GetAvailable(ctx, s.db, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to get available tests: %w", err)
	}

	testIDs := make([]uint, len(tests))
	for i, test := range tests {
		testIDs[i] = test.ID
	}

	attempted, err := s.repo.Attempt().GetAttemptedTestIDs(ctx, s.db, studentID, testIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempted tests: %w", err)
	}

	responses := make([]*TestResponse, 0, len(tests))
	for _, test := range tests {
		responses = append(responses, &TestResponse{
			Test:         test,
			CanTake:      !attempted[test.ID],
			HasAttempted: attempted[test.ID],
		})
	}

	return &TestListResponse{
		Tests: responses,
		Total: int64(len(responses)),
		Page:  1,
		Size:  len(responses),
	}, nil
}

// ===== QUESTION IMPORT =====

// ImportQuestions reads questions from an Excel workbook and appends them to
// the test. Expected columns: type, text, points, options (pipe separated),
// correct answers (comma separated), explanation. The first row is a header.
func (s *testService) ImportQuestions(ctx context.Context, testID uint, reader io.Reader, userID string) (*ImportQuestionsResult, error) {
	s.logger.Info("Importing questions", "test_id", testID, "user_id", userID)

	canEdit, err := s.CanEdit(ctx, testID, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, testID, "test", "import_questions", "not owner or insufficient permissions")
	}

	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook rows: %w", err)
	}
	if len(rows) <= 1 {
		return &ImportQuestionsResult{}, nil
	}

	existing, err := s.repo.Question().GetByTest(ctx, s.db, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get existing questions: %w", err)
	}

	result := &ImportQuestionsResult{}
	requests := make([]CreateQuestionRequest, 0, len(rows)-1)
	for i, row := range rows[1:] {
		req, err := parseQuestionRow(row)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		requests = append(requests, *req)
	}

	if len(requests) == 0 {
		return result, nil
	}
	if err := validateQuestionRequests(requests); err != nil {
		return nil, err
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		questions, imported, err := buildQuestions(testID, requests, len(existing))
		if err != nil {
			return err
		}
		if err := txRepo.Question().CreateBatch(ctx, nil, questions); err != nil {
			return err
		}

		totalPoints := imported
		for _, q := range existing {
			totalPoints += q.Points
		}
		return txRepo.Test().UpdateTotalPoints(ctx, nil, testID, totalPoints)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import questions: %w", err)
	}

	result.Imported = len(requests)
	s.logger.Info("Questions imported",
		"test_id", testID,
		"imported", result.Imported,
		"skipped", result.Skipped)

	return result, nil
}

// ===== PERMISSION CHECKS =====

func (s *testService) CanAccess(ctx context.Context, testID uint, userID string) (bool, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	if userRole == models.RoleAdmin {
		return true, nil
	}

	test, err := s.repo.Test().GetByID(ctx, s.db, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrTestNotFound
		}
		return false, fmt.Errorf("failed to get test: %w", err)
	}

	if userRole == models.RoleTeacher {
		return test.CreatedBy == userID, nil
	}

	// Students can access any non-draft test
	return test.Status != models.TestDraft, nil
}

func (s *testService) CanEdit(ctx context.Context, testID uint, userID string) (bool, error) {
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

// ===== HELPERS =====

func (s *testService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role, nil
}

func (s *testService) buildTestResponse(ctx context.Context, test *models.Test, userID string) (*TestResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	response := &TestResponse{
		Test:    test,
		CanEdit: userRole == models.RoleAdmin || (userRole == models.RoleTeacher && test.CreatedBy == userID),
	}

	if userRole == models.RoleStudent && test.IsAvailableAt(s.now()) {
		attempted, err := s.repo.Attempt().HasAttempt(ctx, s.db, test.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check attempt: %w", err)
		}
		response.HasAttempted = attempted
		response.CanTake = !attempted
	}

	return response, nil
}

func (s *testService) buildTestListResponse(ctx context.Context, tests []*models.Test, total int64, filters repositories.TestFilters, userID string) (*TestListResponse, error) {
	responses := make([]*TestResponse, 0, len(tests))
	for _, test := range tests {
		response, err := s.buildTestResponse(ctx, test, userID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}

	page := 1
	if filters.Limit > 0 {
		page = (filters.Offset / filters.Limit) + 1
	}

	return &TestListResponse{
		Tests: responses,
		Total: total,
		Page:  page,
		Size:  len(responses),
	}, nil
}

// validateAvailabilityWindow rejects a window that can never open.
func validateAvailabilityWindow(from, until *time.Time) error {
	if from == nil || until == nil {
		return nil
	}
	if !from.Before(*until) {
		return ValidationErrors{{
			Field:   "available_until",
			Message: "availability window must end after it starts",
			Rule:    "availability_window",
		}}
	}
	return nil
}

// validateQuestionRequests enforces the per-type answer shape before
// anything is stored
func validateQuestionRequests(requests []CreateQuestionRequest) error {
	var errs ValidationErrors
	for i, req := range requests {
		field := fmt.Sprintf("questions[%d]", i)

		if req.Type == models.Written {
			continue
		}
		if req.CorrectAnswer == nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "auto gradeable questions require a correct answer",
				Rule:    "correct_answer",
			})
			continue
		}
		if req.Type == models.Checkbox && !req.CorrectAnswer.IsSet {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "checkbox questions require a list of correct answers",
				Rule:    "answer_variant",
			})
		}
		if req.Type != models.Checkbox && req.CorrectAnswer.IsSet {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "single answer questions require a single correct answer",
				Rule:    "answer_variant",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// buildQuestions converts requests into question rows, returning the rows
// and the points they contribute
func buildQuestions(testID uint, requests []CreateQuestionRequest, positionOffset int) ([]*models.Question, float64, error) {
	questions := make([]*models.Question, 0, len(requests))
	totalPoints := 0.0

	for i, req := range requests {
		points := req.Points
		if points == 0 {
			points = 1
		}

		question := &models.Question{
			TestID:      testID,
			Type:        req.Type,
			Text:        req.Text,
			Points:      points,
			Position:    positionOffset + i + 1,
			Explanation: req.Explanation,
		}

		if len(req.Options) > 0 {
			options := make([]models.QuestionOption, len(req.Options))
			for j, text := range req.Options {
				options[j] = models.QuestionOption{
					Text:      text,
					IsCorrect: isCorrectOption(text, req.CorrectAnswer),
				}
			}
			data, err := json.Marshal(options)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to marshal options: %w", err)
			}
			question.Options = datatypes.JSON(data)
		}

		if req.CorrectAnswer != nil {
			data, err := json.Marshal(req.CorrectAnswer)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to marshal correct answer: %w", err)
			}
			question.CorrectAnswer = datatypes.JSON(data)
		}

		questions = append(questions, question)
		totalPoints += points
	}

	return questions, totalPoints, nil
}

func isCorrectOption(text string, correct *models.AnswerValue) bool {
	if correct == nil {
		return false
	}
	if correct.IsSet {
		for _, v := range correct.Set {
			if v == text {
				return true
			}
		}
		return false
	}
	return correct.Scalar == text
}

// parseQuestionRow maps one worksheet row onto a question request
func parseQuestionRow(row []string) (*CreateQuestionRequest, error) {
	if len(row) < 2 {
		return nil, fmt.Errorf("missing required columns")
	}

	qType := models.QuestionType(strings.TrimSpace(strings.ToLower(cell(row, 0))))
	if !qType.IsValid() {
		return nil, fmt.Errorf("unknown question type %q", cell(row, 0))
	}

	text := strings.TrimSpace(cell(row, 1))
	if text == "" {
		return nil, fmt.Errorf("question text is empty")
	}

	req := &CreateQuestionRequest{
		Type:   qType,
		Text:   text,
		Points: 1,
	}

	if raw := strings.TrimSpace(cell(row, 2)); raw != "" {
		points, err := strconv.ParseFloat(raw, 64)
		if err != nil || points < 0 {
			return nil, fmt.Errorf("invalid points %q", raw)
		}
		req.Points = points
	}

	if raw := strings.TrimSpace(cell(row, 3)); raw != "" {
		for _, option := range strings.Split(raw, "|") {
			req.Options = append(req.Options, strings.TrimSpace(option))
		}
	}

	if raw := strings.TrimSpace(cell(row, 4)); raw != "" {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		var value models.AnswerValue
		if qType == models.Checkbox {
			value = models.SetAnswer(parts...)
		} else {
			value = models.ScalarAnswer(parts[0])
		}
		req.CorrectAnswer = &value
	}

	if raw := strings.TrimSpace(cell(row, 5)); raw != "" {
		req.Explanation = &raw
	}

	return req, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
