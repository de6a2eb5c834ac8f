package detector

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"ecovision-go/internal/annotate"
	"ecovision-go/internal/imageio"
	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// jpegQuality качество кадров, отправляемых на сервер модели
const jpegQuality = 90

// Backend транспорт до сервера модели (HTTP или gRPC)
type Backend interface {
	Detect(ctx context.Context, frame []byte, confidence float64) ([]models.Detection, error)
	Labels(ctx context.Context) (map[int]string, error)
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// Handle общий на весь процесс доступ к модели.
// Справочник классов загружается один раз при первом обращении и после этого
// только читается, поэтому повторные запросы не берут блокировку.
type Handle struct {
	backend  Backend
	renderer *annotate.Renderer
	logger   *logrus.Logger

	names  atomic.Pointer[map[int]string]
	initMu sync.Mutex
}

// NewHandle создает handle модели поверх транспорта
func NewHandle(backend Backend, renderer *annotate.Renderer, logger *logrus.Logger) *Handle {
	return &Handle{
		backend:  backend,
		renderer: renderer,
		logger:   logger,
	}
}

// Names возвращает справочник индекс класса -> имя, загружая его при первом вызове.
// Неудачная загрузка не кешируется, следующий вызов попробует снова.
func (h *Handle) Names(ctx context.Context) (map[int]string, error) {
	if names := h.names.Load(); names != nil {
		return *names, nil
	}

	h.initMu.Lock()
	defer h.initMu.Unlock()

	if names := h.names.Load(); names != nil {
		return *names, nil
	}

	h.logger.Info("Загружаем справочник классов модели")
	names, err := h.backend.Labels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model labels: %w", err)
	}
	h.names.Store(&names)
	h.logger.Infof("Модель готова, классов: %d", len(names))
	return names, nil
}

// Detect запускает модель на кадре и возвращает детекции с уверенностью не ниже порога
func (h *Handle) Detect(ctx context.Context, frame image.Image, confidence float64) ([]models.Detection, error) {
	names, err := h.Names(ctx)
	if err != nil {
		return nil, err
	}

	data, err := imageio.EncodeJPEG(frame, jpegQuality)
	if err != nil {
		return nil, err
	}

	raw, err := h.backend.Detect(ctx, data, confidence)
	if err != nil {
		return nil, err
	}

	detections := make([]models.Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence < confidence {
			continue
		}
		d.ClassName = resolveName(names, d)
		detections = append(detections, d)
	}

	h.logger.Debugf("Кадр: %d детекций (сервер вернул %d)", len(detections), len(raw))
	return detections, nil
}

// Plot рисует детекции на копии кадра
func (h *Handle) Plot(frame image.Image, detections []models.Detection) (image.Image, error) {
	return h.renderer.Plot(frame, detections)
}

// CheckHealth проверяет сервер модели
func (h *Handle) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	return h.backend.CheckHealth(ctx)
}

// resolveName берет имя класса из справочника модели, затем из ответа сервера
func resolveName(names map[int]string, d models.Detection) string {
	if name, ok := names[d.ClassIndex]; ok {
		return name
	}
	if d.ClassName != "" {
		return d.ClassName
	}
	return fmt.Sprintf("class_%d", d.ClassIndex)
}
