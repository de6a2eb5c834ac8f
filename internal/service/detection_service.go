package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ecovision-go/internal/imageio"
	"ecovision-go/internal/metrics"
	"ecovision-go/internal/model"
	"ecovision-go/internal/pipeline"
	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrRunExists запуск с таким ID уже есть или обрабатывается
var ErrRunExists = errors.New("run id already exists")

// Detector модель с проверкой состояния сервера
type Detector interface {
	pipeline.Detector
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// ProgressPublisher получатель хода обработки видео
type ProgressPublisher interface {
	Publish(models.Progress)
}

// DetectionService сервис детекции объектов на изображениях и видео
type DetectionService struct {
	detector  Detector
	videos    *pipeline.VideoPipeline
	runs      *RunService
	artifacts *ArtifactStore
	progress  ProgressPublisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    *logrus.Logger

	// ID запусков, которые обрабатываются прямо сейчас
	inFlight   map[string]struct{}
	inFlightMu sync.Mutex
}

// NewDetectionService создает новый сервис детекции.
// timeout ограничивает обработку одного видео, 0 без ограничения.
func NewDetectionService(
	detector Detector,
	videos *pipeline.VideoPipeline,
	runs *RunService,
	artifacts *ArtifactStore,
	progress ProgressPublisher,
	m *metrics.Metrics,
	timeout time.Duration,
	logger *logrus.Logger,
) *DetectionService {
	return &DetectionService{
		detector:  detector,
		videos:    videos,
		runs:      runs,
		artifacts: artifacts,
		progress:  progress,
		metrics:   m,
		timeout:   timeout,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// DetectImage ищет объекты на изображении и возвращает размеченную копию
func (s *DetectionService) DetectImage(ctx context.Context, req ImageRequest) (*models.ImageDetectResponse, error) {
	startTime := time.Now()
	run := s.newRun(model.ModeImage, req.RunID, req.Filename, req.Confidence, req.ModelTier)
	if err := s.reserve(run.ID); err != nil {
		return nil, err
	}
	defer s.release(run.ID)
	s.logger.Infof("Начинаем детекцию на изображении %s (запуск %s, порог %.2f)", req.Filename, run.ID, req.Confidence)

	img, format, err := imageio.Decode(req.Data)
	if err != nil {
		return nil, s.failImage(run, startTime, err)
	}
	bounds := img.Bounds()
	run.Width, run.Height = bounds.Dx(), bounds.Dy()
	s.logger.Debugf("Изображение декодировано: %s %dx%d", format, run.Width, run.Height)

	result, err := pipeline.DetectImage(ctx, s.detector, img, req.Confidence)
	if err != nil {
		return nil, s.failImage(run, startTime, err)
	}

	encoded, err := imageio.EncodePNG(result.Annotated)
	if err != nil {
		return nil, s.failImage(run, startTime, err)
	}

	s.finishRun(run, startTime, result.Counts)
	s.metrics.ImagesProcessed.Add(1)
	s.metrics.ObserveDetections(result.Counts)
	s.metrics.ObserveDuration(model.ModeImage, time.Since(startTime))

	s.logger.Infof("Детекция на изображении завершена за %v, объектов: %d", time.Since(startTime), result.Counts.Total())

	detections := result.Detections
	if detections == nil {
		detections = []models.Detection{}
	}

	return &models.ImageDetectResponse{
		RunID:          run.ID,
		Status:         model.StatusSuccess,
		Width:          run.Width,
		Height:         run.Height,
		Counts:         result.Counts.Rows(),
		Detections:     detections,
		AnnotatedImage: base64.StdEncoding.EncodeToString(encoded),
	}, nil
}

// DetectVideo размечает каждый кадр видео и сохраняет результат для скачивания.
// Отключение клиента не прерывает обработку: конвейер работает на контексте,
// отвязанном от запроса и ограниченном только таймаутом обработки.
func (s *DetectionService) DetectVideo(ctx context.Context, req VideoRequest) (*models.VideoDetectResponse, error) {
	startTime := time.Now()
	run := s.newRun(model.ModeVideo, req.RunID, req.Filename, req.Confidence, req.ModelTier)
	if err := s.reserve(run.ID); err != nil {
		return nil, err
	}
	defer s.release(run.ID)
	s.logger.Infof("Начинаем обработку видео %s (запуск %s, порог %.2f)", req.Filename, run.ID, req.Confidence)

	s.metrics.ActiveVideos.Add(1)
	defer s.metrics.ActiveVideos.Add(-1)

	work := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if s.timeout > 0 {
		work, cancel = context.WithTimeout(work, s.timeout)
	} else {
		work, cancel = context.WithCancel(work)
	}
	defer cancel()

	report := func(pr models.Progress) {
		pr.RunID = run.ID
		s.metrics.FramesProcessed.Add(1)
		s.progress.Publish(pr)
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	result, err := s.videos.Process(work, req.Data, ext, req.Confidence, report)
	if err != nil {
		s.progress.Publish(models.Progress{RunID: run.ID, Done: true, Error: err.Error()})
		s.metrics.VideoErrors.Add(1)
		s.recordFailure(run, startTime, err)
		return nil, fmt.Errorf("video processing failed: %w", err)
	}

	meta := result.Metadata
	run.Width, run.Height, run.FPS = meta.Width, meta.Height, meta.FPS
	run.FrameCount = result.FramesWritten

	s.artifacts.Put(run.ID, result.Video)
	s.finishRun(run, startTime, result.Counts)

	s.progress.Publish(models.Progress{
		RunID:     run.ID,
		Processed: result.FramesWritten,
		Total:     result.FramesWritten,
		Fraction:  1,
		Done:      true,
	})
	s.metrics.VideosProcessed.Add(1)
	s.metrics.ObserveDetections(result.Counts)
	s.metrics.ObserveDuration(model.ModeVideo, time.Since(startTime))

	if ctx.Err() != nil {
		s.logger.Warnf("Клиент отключился до окончания обработки запуска %s, видео доступно по %s", run.ID, DownloadURL(run.ID))
	}

	return &models.VideoDetectResponse{
		RunID:       run.ID,
		Status:      model.StatusSuccess,
		FrameCount:  result.FramesWritten,
		Metadata:    meta,
		Counts:      result.Counts.VideoRows(),
		DownloadURL: DownloadURL(run.ID),
	}, nil
}

// CheckHealth проверяет состояние сервера модели
func (s *DetectionService) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	s.logger.Debug("Проверяем состояние сервера модели")

	health, err := s.detector.CheckHealth(ctx)
	if err != nil {
		s.logger.Errorf("Сервер модели недоступен: %v", err)
		return &models.HealthResponse{
			Status:      "unhealthy",
			ModelLoaded: false,
			Version:     "1.0.0",
		}, nil
	}

	return health, nil
}

func (s *DetectionService) newRun(mode, runID, filename string, confidence float64, tier string) *model.DetectionRun {
	if runID == "" {
		runID = s.runs.GenerateRunID()
	}
	if tier == "" {
		tier = TierCore
	}
	return &model.DetectionRun{
		ID:         runID,
		Mode:       mode,
		Filename:   filename,
		Confidence: confidence,
		ModelTier:  tier,
	}
}

// reserve занимает ID запуска до конца обработки. Занятый или уже записанный ID
// отклоняется до запуска детектора, чтобы не перезаписать чужое видео.
func (s *DetectionService) reserve(runID string) error {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()

	if _, busy := s.inFlight[runID]; busy {
		return fmt.Errorf("run %s is being processed: %w", runID, ErrRunExists)
	}
	exists, err := s.runs.RunExists(runID)
	if err != nil {
		return fmt.Errorf("failed to check run id: %w", err)
	}
	if exists {
		return fmt.Errorf("run %s: %w", runID, ErrRunExists)
	}
	s.inFlight[runID] = struct{}{}
	return nil
}

func (s *DetectionService) release(runID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, runID)
}

func (s *DetectionService) failImage(run *model.DetectionRun, startTime time.Time, err error) error {
	s.metrics.ImageErrors.Add(1)
	s.recordFailure(run, startTime, err)
	return fmt.Errorf("image processing failed: %w", err)
}

// finishRun записывает успешный запуск. Ошибка записи истории не отменяет результат детекции.
func (s *DetectionService) finishRun(run *model.DetectionRun, startTime time.Time, counts pipeline.ClassCounts) {
	run.Status = model.StatusSuccess
	run.DurationMs = time.Since(startTime).Milliseconds()
	run.TotalDetections = counts.Total()
	for _, row := range counts.Rows() {
		run.ClassCounts = append(run.ClassCounts, model.ClassCount{ClassName: row.Class, Count: row.Count})
	}
	if err := s.runs.SaveRun(run); err != nil {
		s.logger.Warnf("Запуск %s не записан в историю: %v", run.ID, err)
	}
}

func (s *DetectionService) recordFailure(run *model.DetectionRun, startTime time.Time, cause error) {
	s.logger.Errorf("Ошибка обработки запуска %s: %v", run.ID, cause)
	run.Status = model.StatusFailed
	run.ErrorMessage = cause.Error()
	run.DurationMs = time.Since(startTime).Milliseconds()
	if err := s.runs.SaveRun(run); err != nil {
		s.logger.Warnf("Запуск %s не записан в историю: %v", run.ID, err)
	}
}
