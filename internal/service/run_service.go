package service

import (
	"fmt"

	"ecovision-go/internal/model"
	"ecovision-go/internal/repository"
	"ecovision-go/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RunService сервис истории запусков детекции
type RunService struct {
	runRepo   repository.RunRepository
	artifacts *ArtifactStore
	logger    *logrus.Logger
}

// NewRunService создает новый сервис истории запусков
func NewRunService(runRepo repository.RunRepository, artifacts *ArtifactStore, logger *logrus.Logger) *RunService {
	return &RunService{
		runRepo:   runRepo,
		artifacts: artifacts,
		logger:    logger,
	}
}

// SaveRun сохраняет запуск в базе данных
func (s *RunService) SaveRun(run *model.DetectionRun) error {
	s.logger.Infof("Сохраняем запуск %s (%s, %s), классов: %d", run.ID, run.Mode, run.Status, len(run.ClassCounts))

	if err := s.runRepo.Create(run); err != nil {
		s.logger.Errorf("Ошибка сохранения запуска в БД: %v", err)
		return fmt.Errorf("failed to save run to database: %w", err)
	}
	return nil
}

// GetRunByID получает запуск по ID
func (s *RunService) GetRunByID(runID string) (*RunResponse, error) {
	s.logger.Infof("Получаем запуск %s из базы данных", runID)

	run, err := s.runRepo.GetByID(runID)
	if err != nil {
		s.logger.Errorf("Ошибка получения запуска: %v", err)
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return s.modelToResponse(run), nil
}

// ListRuns получает список запусков с пагинацией
func (s *RunService) ListRuns(page, pageSize int) ([]RunResponse, int64, error) {
	s.logger.Infof("Получаем список запусков: страница %d, размер %d", page, pageSize)

	runs, total, err := s.runRepo.List(page, pageSize)
	if err != nil {
		s.logger.Errorf("Ошибка получения списка запусков: %v", err)
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	responses := make([]RunResponse, len(runs))
	for i, run := range runs {
		responses[i] = *s.modelToResponse(run)
	}

	s.logger.Infof("Получено %d запусков из %d общих", len(responses), total)
	return responses, total, nil
}

// DeleteRun удаляет запуск и его обработанное видео
func (s *RunService) DeleteRun(runID string) error {
	s.logger.Infof("Удаляем запуск %s", runID)

	if err := s.runRepo.Delete(runID); err != nil {
		s.logger.Errorf("Ошибка удаления запуска из БД: %v", err)
		return fmt.Errorf("failed to delete run from database: %w", err)
	}

	s.artifacts.Delete(runID)

	s.logger.Infof("Запуск %s успешно удален", runID)
	return nil
}

// RunExists проверяет, занят ли ID запуска
func (s *RunService) RunExists(runID string) (bool, error) {
	return s.runRepo.Exists(runID)
}

// GetVideo возвращает обработанное видео запуска
func (s *RunService) GetVideo(runID string) ([]byte, error) {
	return s.artifacts.Get(runID)
}

// GenerateRunID генерирует уникальный ID для запуска
func (s *RunService) GenerateRunID() string {
	return uuid.New().String()
}

// modelToResponse преобразует модель базы данных в ответ API
func (s *RunService) modelToResponse(run *model.DetectionRun) *RunResponse {
	response := &RunResponse{
		ID:              run.ID,
		Mode:            run.Mode,
		Filename:        run.Filename,
		Confidence:      run.Confidence,
		ModelTier:       run.ModelTier,
		Status:          run.Status,
		ErrorMessage:    run.ErrorMessage,
		Width:           run.Width,
		Height:          run.Height,
		TotalDetections: run.TotalDetections,
		DurationMs:      run.DurationMs,
		Counts:          make([]models.ClassCountRow, 0, len(run.ClassCounts)),
		CreatedAt:       run.CreatedAt,
	}

	if run.Mode == model.ModeVideo {
		response.Metadata = &models.VideoMetadata{
			Width:      run.Width,
			Height:     run.Height,
			FPS:        run.FPS,
			FrameCount: run.FrameCount,
		}
		if s.artifacts.Has(run.ID) {
			response.DownloadURL = DownloadURL(run.ID)
		}
	}

	for _, cc := range run.ClassCounts {
		response.Counts = append(response.Counts, models.ClassCountRow{Class: cc.ClassName, Count: cc.Count})
	}

	return response
}

// DownloadURL путь для скачивания обработанного видео
func DownloadURL(runID string) string {
	return fmt.Sprintf("/api/v1/runs/%s/video", runID)
}
