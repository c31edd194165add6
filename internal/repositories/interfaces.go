package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type TestFilters struct {
	Status    *models.TestStatus `json:"status"`
	CourseID  *uint              `json:"course_id"`
	CreatedBy *string            `json:"created_by"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`
	SortOrder string             `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	TestID    *uint                 `json:"test_id"`
	StudentID *string               `json:"student_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

type UserFilters struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ===== REPOSITORY INTERFACES =====

// TestRepository manages test definitions.
type TestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, test *models.Test) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	Update(ctx context.Context, tx *gorm.DB, test *models.Test) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	List(ctx context.Context, tx *gorm.DB, filters TestFilters) ([]*models.Test, int64, error)
	GetByCourse(ctx context.Context, tx *gorm.DB, courseID uint, filters TestFilters) ([]*models.Test, int64, error)
	GetAvailable(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Test, error)

	UpdateTotalPoints(ctx context.Context, tx *gorm.DB, id uint, totalPoints float64) error
}

// QuestionRepository manages the questions of a test.
type QuestionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByTest(ctx context.Context, tx *gorm.DB, testID uint) ([]*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
}

// AttemptRepository manages test attempts and their finalization.
type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error

	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.TestAttempt, int64, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters AttemptFilters) ([]*models.TestAttempt, int64, error)
	GetByTest(ctx context.Context, tx *gorm.DB, testID uint, filters AttemptFilters) ([]*models.TestAttempt, int64, error)
	GetByTestAndStudent(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (*models.TestAttempt, error)
	HasAttempt(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (bool, error)
	GetAttemptedTestIDs(ctx context.Context, tx *gorm.DB, studentID string, testIDs []uint) (map[uint]bool, error)

	// GetStaleInProgress returns in-progress attempts started at or
	// before the cutoff, candidates for the expiry sweep.
	GetStaleInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*models.TestAttempt, error)

	// Finalize transitions an attempt out of in_progress with a
	// compare-and-set on status. Returns false without error when the
	// attempt was already finalized by someone else.
	Finalize(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) (bool, error)

	// MarkResultPublished sets the publication flag; a no-op when
	// already published.
	MarkResultPublished(ctx context.Context, tx *gorm.DB, id uint, publishedAt time.Time) error
}

// AnswerRepository manages per-question answers of an attempt.
type AnswerRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error)
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error)
	ReplaceForAttempt(ctx context.Context, tx *gorm.DB, attemptID uint, answers []*models.AttemptAnswer) error
	UpdateBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error
	CountByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error)
}

// UserRepository provides read access to users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
}
