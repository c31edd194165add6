package services

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
)

// MockRepository is an in-memory Repository for service tests.
type MockRepository struct {
	mu sync.Mutex

	tests     map[uint]*models.Test
	questions map[uint]*models.Question
	attempts  map[uint]*models.TestAttempt
	answers   map[uint][]*models.AttemptAnswer // keyed by attempt ID
	users     map[string]*models.User

	nextAttemptID uint
	nextAnswerID  uint
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		tests:     make(map[uint]*models.Test),
		questions: make(map[uint]*models.Question),
		attempts:  make(map[uint]*models.TestAttempt),
		answers:   make(map[uint][]*models.AttemptAnswer),
		users:     make(map[string]*models.User),
	}
}

func (m *MockRepository) AddTest(test *models.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[test.ID] = test
}

func (m *MockRepository) AddQuestion(question *models.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[question.ID] = question
}

func (m *MockRepository) AddUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MockRepository) AddAttempt(attempt *models.TestAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt.ID == 0 {
		m.nextAttemptID++
		attempt.ID = m.nextAttemptID
	} else if attempt.ID > m.nextAttemptID {
		m.nextAttemptID = attempt.ID
	}
	m.attempts[attempt.ID] = attempt
}

func (m *MockRepository) GetAttempt(id uint) *models.TestAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

func (m *MockRepository) GetAnswers(attemptID uint) []*models.AttemptAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers[attemptID]
}

func (m *MockRepository) Test() repositories.TestRepository         { return &mockTestRepo{m} }
func (m *MockRepository) Question() repositories.QuestionRepository { return &mockQuestionRepo{m} }
func (m *MockRepository) Attempt() repositories.AttemptRepository   { return &mockAttemptRepo{m} }
func (m *MockRepository) Answer() repositories.AnswerRepository     { return &mockAnswerRepo{m} }
func (m *MockRepository) User() repositories.UserRepository         { return &mockUserRepo{m} }

func (m *MockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }
func (m *MockRepository) Close() error                   { return nil }

// ===== TEST REPO =====

type mockTestRepo struct{ m *MockRepository }

func (r *mockTestRepo) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if test.ID == 0 {
		test.ID = uint(len(r.m.tests) + 1)
	}
	r.m.tests[test.ID] = test
	return nil
}

func (r *mockTestRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	test, ok := r.m.tests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *test
	return &copied, nil
}

func (r *mockTestRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	test, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	test.Questions = nil
	for _, q := range r.m.questions {
		if q.TestID == id {
			test.Questions = append(test.Questions, *q)
		}
	}
	return test, nil
}

func (r *mockTestRepo) Update(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tests[test.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.m.tests[test.ID] = test
	return nil
}

func (r *mockTestRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.tests, id)
	return nil
}

func (r *mockTestRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Test
	for _, test := range r.m.tests {
		if filters.Status != nil && test.Status != *filters.Status {
			continue
		}
		if filters.CourseID != nil && test.CourseID != *filters.CourseID {
			continue
		}
		if filters.CreatedBy != nil && test.CreatedBy != *filters.CreatedBy {
			continue
		}
		copied := *test
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (r *mockTestRepo) GetByCourse(ctx context.Context, tx *gorm.DB, courseID uint, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	filters.CourseID = &courseID
	return r.List(ctx, tx, filters)
}

func (r *mockTestRepo) GetAvailable(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Test, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Test
	for _, test := range r.m.tests {
		if test.IsAvailableAt(now) {
			copied := *test
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *mockTestRepo) UpdateTotalPoints(ctx context.Context, tx *gorm.DB, id uint, totalPoints float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	test, ok := r.m.tests[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	test.TotalPoints = totalPoints
	return nil
}

// ===== QUESTION REPO =====

type mockQuestionRepo struct{ m *MockRepository }

func (r *mockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if question.ID == 0 {
		question.ID = uint(len(r.m.questions) + 1)
	}
	r.m.questions[question.ID] = question
	return nil
}

func (r *mockQuestionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	for _, q := range questions {
		if err := r.Create(ctx, tx, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	question, ok := r.m.questions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *question
	return &copied, nil
}

func (r *mockQuestionRepo) GetByTest(ctx context.Context, tx *gorm.DB, testID uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Question
	for _, q := range r.m.questions {
		if q.TestID == testID {
			copied := *q
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *mockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.questions[question.ID] = question
	return nil
}

func (r *mockQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.questions, id)
	return nil
}

// ===== ATTEMPT REPO =====

type mockAttemptRepo struct{ m *MockRepository }

func (r *mockAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.attempts {
		if existing.TestID == attempt.TestID && existing.StudentID == attempt.StudentID {
			return gorm.ErrDuplicatedKey
		}
	}
	r.m.nextAttemptID++
	attempt.ID = r.m.nextAttemptID
	copied := *attempt
	r.m.attempts[attempt.ID] = &copied
	return nil
}

func (r *mockAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (r *mockAttemptRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	attempt, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if test, ok := r.m.tests[attempt.TestID]; ok {
		attempt.Test = *test
	}
	for _, a := range r.m.answers[id] {
		attempt.Answers = append(attempt.Answers, *a)
	}
	return attempt, nil
}

func (r *mockAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.attempts[attempt.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *attempt
	r.m.attempts[attempt.ID] = &copied
	return nil
}

func (r *mockAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.TestAttempt
	for _, attempt := range r.m.attempts {
		if filters.Status != nil && attempt.Status != *filters.Status {
			continue
		}
		if filters.TestID != nil && attempt.TestID != *filters.TestID {
			continue
		}
		if filters.StudentID != nil && attempt.StudentID != *filters.StudentID {
			continue
		}
		copied := *attempt
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (r *mockAttemptRepo) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	filters.StudentID = &studentID
	return r.List(ctx, tx, filters)
}

func (r *mockAttemptRepo) GetByTest(ctx context.Context, tx *gorm.DB, testID uint, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	filters.TestID = &testID
	return r.List(ctx, tx, filters)
}

func (r *mockAttemptRepo) GetByTestAndStudent(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (*models.TestAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, attempt := range r.m.attempts {
		if attempt.TestID == testID && attempt.StudentID == studentID {
			copied := *attempt
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAttemptRepo) HasAttempt(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (bool, error) {
	_, err := r.GetByTestAndStudent(ctx, tx, testID, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *mockAttemptRepo) GetAttemptedTestIDs(ctx context.Context, tx *gorm.DB, studentID string, testIDs []uint) (map[uint]bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[uint]bool, len(testIDs))
	for _, id := range testIDs {
		wanted[id] = true
	}
	out := make(map[uint]bool)
	for _, attempt := range r.m.attempts {
		if attempt.StudentID == studentID && wanted[attempt.TestID] {
			out[attempt.TestID] = true
		}
	}
	return out, nil
}

func (r *mockAttemptRepo) GetStaleInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*models.TestAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.TestAttempt
	for _, attempt := range r.m.attempts {
		if attempt.Status == models.AttemptInProgress && !attempt.StartedAt.After(cutoff) {
			copied := *attempt
			if test, ok := r.m.tests[attempt.TestID]; ok {
				copied.Test = *test
			}
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *mockAttemptRepo) Finalize(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok || attempt.Status != models.AttemptInProgress {
		return false, nil
	}
	for key, value := range updates {
		switch key {
		case "status":
			attempt.Status = value.(models.AttemptStatus)
		case "submitted_at":
			at := value.(time.Time)
			attempt.SubmittedAt = &at
		case "time_spent":
			attempt.TimeSpent = value.(int)
		case "time_remaining":
			attempt.TimeRemaining = value.(int)
		case "auto_submitted":
			attempt.AutoSubmitted = value.(bool)
		case "score":
			attempt.Score = value.(float64)
		case "percentage":
			attempt.Percentage = value.(float64)
		case "total_points":
			attempt.TotalPoints = value.(float64)
		}
	}
	return true, nil
}

func (r *mockAttemptRepo) MarkResultPublished(ctx context.Context, tx *gorm.DB, id uint, publishedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if attempt.ResultPublished {
		return nil
	}
	attempt.ResultPublished = true
	attempt.ResultPublishedAt = &publishedAt
	return nil
}

// ===== ANSWER REPO =====

type mockAnswerRepo struct{ m *MockRepository }

func (r *mockAnswerRepo) Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, existing := range r.m.answers[answer.AttemptID] {
		if existing.QuestionID == answer.QuestionID {
			answer.ID = existing.ID
			answer.Position = existing.Position
			copied := *answer
			r.m.answers[answer.AttemptID][i] = &copied
			return nil
		}
	}
	r.m.nextAnswerID++
	answer.ID = r.m.nextAnswerID
	copied := *answer
	r.m.answers[answer.AttemptID] = append(r.m.answers[answer.AttemptID], &copied)
	return nil
}

func (r *mockAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*models.AttemptAnswer, 0, len(r.m.answers[attemptID]))
	for _, a := range r.m.answers[attemptID] {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (r *mockAnswerRepo) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.answers[attemptID] {
		if a.QuestionID == questionID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAnswerRepo) ReplaceForAttempt(ctx context.Context, tx *gorm.DB, attemptID uint, answers []*models.AttemptAnswer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	replaced := make([]*models.AttemptAnswer, 0, len(answers))
	for _, a := range answers {
		r.m.nextAnswerID++
		a.ID = r.m.nextAnswerID
		a.AttemptID = attemptID
		copied := *a
		replaced = append(replaced, &copied)
	}
	r.m.answers[attemptID] = replaced
	return nil
}

func (r *mockAnswerRepo) UpdateBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range answers {
		for i, existing := range r.m.answers[answer.AttemptID] {
			if existing.QuestionID == answer.QuestionID {
				copied := *answer
				copied.ID = existing.ID
				r.m.answers[answer.AttemptID][i] = &copied
			}
		}
	}
	return nil
}

func (r *mockAnswerRepo) CountByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.answers[attemptID])), nil
}

// ===== USER REPO =====

type mockUserRepo struct{ m *MockRepository }

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user, ok := r.m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, user := range r.m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		user, err := r.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, user)
	}
	return out, nil
}

func (r *mockUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.users[id]
	return ok, nil
}

func (r *mockUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

func (r *mockUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.User
	for _, user := range r.m.users {
		copied := *user
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}
