package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sapedu/testing-service/internal/cache"
	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	// Cache active attempts for performance
	cacheKey := fmt.Sprintf("id:%d", id)
	var attempt models.TestAttempt

	err := a.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &attempt, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempt models.TestAttempt
		if err := db.WithContext(ctx).First(&dbAttempt, id).Error; err != nil {
			return nil, err
		}
		return &dbAttempt, nil
	})

	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Preload("Test").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	a.cacheManager.InvalidateAttempt(ctx, attempt.ID)
	return nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.TestAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Test").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	filters.StudentID = &studentID
	return a.List(ctx, tx, filters)
}

func (a *AttemptPostgreSQL) GetByTest(ctx context.Context, tx *gorm.DB, testID uint, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	filters.TestID = &testID
	return a.List(ctx, tx, filters)
}

func (a *AttemptPostgreSQL) GetByTestAndStudent(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Where("test_id = ? AND student_id = ?", testID, studentID).
		First(&attempt).Error; err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a *AttemptPostgreSQL) HasAttempt(ctx context.Context, tx *gorm.DB, testID uint, studentID string) (bool, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:test:%d:student:%s", testID, studentID)

	exists, err := a.cacheManager.Exists.GetString(ctx, cacheKey)
	if err == nil {
		return exists == "true", nil
	}

	var count int64
	if err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND student_id = ?", testID, studentID).
		Count(&count).Error; err != nil {
		return false, err
	}

	hasAttempt := count > 0
	if hasAttempt {
		a.cacheManager.Exists.SetString(ctx, cacheKey, "true", cache.ExistsCacheConfig.TTL)
	}

	return hasAttempt, nil
}

func (a *AttemptPostgreSQL) GetAttemptedTestIDs(ctx context.Context, tx *gorm.DB, studentID string, testIDs []uint) (map[uint]bool, error) {
	attempted := make(map[uint]bool)
	if len(testIDs) == 0 {
		return attempted, nil
	}

	db := a.getDB(tx)
	var ids []uint
	if err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("student_id = ? AND test_id IN ?", studentID, testIDs).
		Pluck("test_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempted test ids: %w", err)
	}

	for _, id := range ids {
		attempted[id] = true
	}

	return attempted, nil
}

func (a *AttemptPostgreSQL) GetStaleInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	if err := db.WithContext(ctx).
		Where("status = ? AND started_at <= ?", models.AttemptInProgress, cutoff).
		Preload("Test").
		Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

// Finalize moves an in-progress attempt to a terminal status with a single
// conditional update. Returns false when the attempt was already finalized
// by a concurrent submit or sweep.
func (a *AttemptPostgreSQL) Finalize(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) (bool, error) {
	db := a.getDB(tx)
	res := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to finalize attempt: %w", res.Error)
	}

	a.cacheManager.InvalidateAttempt(ctx, id)
	return res.RowsAffected > 0, nil
}

func (a *AttemptPostgreSQL) MarkResultPublished(ctx context.Context, tx *gorm.DB, id uint, publishedAt time.Time) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"result_published":    true,
			"result_published_at": publishedAt,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark result published: %w", err)
	}

	a.cacheManager.InvalidateAttempt(ctx, id)
	return nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

// ===== ANSWER REPOSITORY IMPLEMENTATION =====

// AnswerPostgreSQL implements the AnswerRepository interface
type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

// NewAnswerPostgreSQL creates a new answer repository instance
func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Upsert creates or updates the answer for an attempt and question
func (ar *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	existing, err := ar.GetByAttemptAndQuestion(ctx, tx, answer.AttemptID, answer.QuestionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing answer: %w", err)
	}

	db := ar.getDB(tx)
	if existing != nil {
		answer.ID = existing.ID
		answer.Position = existing.Position
		if err := db.WithContext(ctx).Save(answer).Error; err != nil {
			return fmt.Errorf("failed to update answer: %w", err)
		}
	} else {
		if err := db.WithContext(ctx).Create(answer).Error; err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
	}

	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("attempt:%d:answers", answer.AttemptID),
		fmt.Sprintf("attempt:%d:question:%d", answer.AttemptID, answer.QuestionID),
	)

	return nil
}

// GetByAttempt retrieves all answers for an attempt with caching
func (ar *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	db := ar.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d:answers", attemptID)
	var answers []*models.AttemptAnswer

	err := ar.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &answers, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAnswers []*models.AttemptAnswer
		if err := db.WithContext(ctx).
			Where("attempt_id = ?", attemptID).
			Order("position ASC").
			Find(&dbAnswers).Error; err != nil {
			return nil, fmt.Errorf("failed to get answers by attempt: %w", err)
		}
		return dbAnswers, nil
	})

	return answers, err
}

// GetByAttemptAndQuestion retrieves a specific answer for an attempt and question
func (ar *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.AttemptAnswer, error) {
	db := ar.getDB(tx)
	var answer models.AttemptAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		return nil, err
	}

	return &answer, nil
}

// ReplaceForAttempt removes all existing answers for an attempt and stores
// the given set in their place.
func (ar *AnswerPostgreSQL) ReplaceForAttempt(ctx context.Context, tx *gorm.DB, attemptID uint, answers []*models.AttemptAnswer) error {
	db := ar.getDB(tx)
	err := db.WithContext(ctx).Transaction(func(txInner *gorm.DB) error {
		if err := txInner.Where("attempt_id = ?", attemptID).Delete(&models.AttemptAnswer{}).Error; err != nil {
			return fmt.Errorf("failed to clear answers: %w", err)
		}
		if len(answers) == 0 {
			return nil
		}
		if err := txInner.CreateInBatches(answers, 100).Error; err != nil {
			return fmt.Errorf("failed to store answers: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("attempt:%d:*", attemptID))
	return nil
}

// UpdateBatch updates multiple answers in a batch
func (ar *AnswerPostgreSQL) UpdateBatch(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	err := db.WithContext(ctx).Transaction(func(txInner *gorm.DB) error {
		for _, answer := range answers {
			if err := txInner.Save(answer).Error; err != nil {
				return fmt.Errorf("failed to update answer ID %d: %w", answer.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	attemptIDs := make(map[uint]bool)
	for _, answer := range answers {
		attemptIDs[answer.AttemptID] = true
	}
	for attemptID := range attemptIDs {
		ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("attempt:%d:*", attemptID))
	}

	return nil
}

// CountByAttempt returns the number of saved answers for an attempt
func (ar *AnswerPostgreSQL) CountByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error) {
	db := ar.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.AttemptAnswer{}).
		Where("attempt_id = ?", attemptID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count answers: %w", err)
	}

	return count, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (ar *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}
