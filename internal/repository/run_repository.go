package repository

import (
	"errors"
	"fmt"

	"ecovision-go/internal/model"

	"gorm.io/gorm"
)

// ErrRunNotFound возвращается, когда запуска с таким ID нет
var ErrRunNotFound = errors.New("detection run not found")

// RunRepository интерфейс для работы с историей запусков детекции
type RunRepository interface {
	Create(run *model.DetectionRun) error
	GetByID(id string) (*model.DetectionRun, error)
	List(page, pageSize int) ([]*model.DetectionRun, int64, error)
	Delete(id string) error
	Exists(id string) (bool, error)
}

// runRepository реализация RunRepository
type runRepository struct {
	db *gorm.DB
}

// NewRunRepository создает новый instance RunRepository
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{
		db: db,
	}
}

// Create сохраняет запуск вместе с подсчетами по классам
func (r *runRepository) Create(run *model.DetectionRun) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	counts := run.ClassCounts
	run.ClassCounts = nil

	// Сначала создаем запуск
	if err := tx.Create(run).Error; err != nil {
		tx.Rollback()
		run.ClassCounts = counts
		return fmt.Errorf("failed to create run: %w", err)
	}

	// Затем подсчеты
	for i := range counts {
		counts[i].ID = 0 // Обнуляем ID для auto-increment
		counts[i].RunID = run.ID
		if err := tx.Create(&counts[i]).Error; err != nil {
			tx.Rollback()
			run.ClassCounts = counts
			return fmt.Errorf("failed to create class count %d: %w", i, err)
		}
	}
	run.ClassCounts = counts

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID получает запуск по ID
func (r *runRepository) GetByID(id string) (*model.DetectionRun, error) {
	var run model.DetectionRun
	err := r.db.Preload("ClassCounts", orderCounts).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// List получает список запусков с пагинацией, новые первыми
func (r *runRepository) List(page, pageSize int) ([]*model.DetectionRun, int64, error) {
	var runs []*model.DetectionRun
	var total int64

	// Подсчитываем общее количество
	if err := r.db.Model(&model.DetectionRun{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	offset := (page - 1) * pageSize
	err := r.db.Preload("ClassCounts", orderCounts).
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&runs).Error

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, total, nil
}

// Delete удаляет запуск по ID
func (r *runRepository) Delete(id string) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	// Сначала удаляем подсчеты
	if err := tx.Where("run_id = ?", id).Delete(&model.ClassCount{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete class counts: %w", err)
	}

	result := tx.Where("id = ?", id).Delete(&model.DetectionRun{})
	if result.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Exists проверяет, занят ли ID. Мягко удаленные запуски тоже занимают ID.
func (r *runRepository) Exists(id string) (bool, error) {
	var count int64
	err := r.db.Unscoped().Model(&model.DetectionRun{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check run: %w", err)
	}
	return count > 0, nil
}

// orderCounts сортирует подсчеты так же, как таблица в ответе API
func orderCounts(db *gorm.DB) *gorm.DB {
	return db.Order("count DESC, class_name ASC")
}
