package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"ecovision-go/internal/imageio"
	"ecovision-go/internal/service"
	"ecovision-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProNotice сообщение для недоступного уровня модели
const ProNotice = "EcoVision Pro is coming soon. Your file was processed with the Core model."

var uploadPrompts = map[string]string{
	"image": "Please upload an image first!",
	"video": "Please upload a video first!",
}

// Detector сервис детекции, которым пользуется обработчик
type Detector interface {
	DetectImage(ctx context.Context, req service.ImageRequest) (*models.ImageDetectResponse, error)
	DetectVideo(ctx context.Context, req service.VideoRequest) (*models.VideoDetectResponse, error)
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// DetectHandler обрабатывает загрузки изображений и видео
type DetectHandler struct {
	detectionService  Detector
	defaultConfidence float64
	maxUploadBytes    int64
	logger            *logrus.Logger
}

// NewDetectHandler создает новый обработчик детекции
func NewDetectHandler(detectionService Detector, defaultConfidence float64, maxUploadMB int, logger *logrus.Logger) *DetectHandler {
	return &DetectHandler{
		detectionService:  detectionService,
		defaultConfidence: defaultConfidence,
		maxUploadBytes:    int64(maxUploadMB) << 20,
		logger:            logger,
	}
}

// RegisterRoutes регистрирует маршруты детекции
func (h *DetectHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/detect/image", h.DetectImage)
		api.POST("/detect/video", h.DetectVideo)
		api.GET("/health", h.HealthCheck)
	}
}

// uploadParams общие поля формы загрузки
type uploadParams struct {
	filename   string
	data       []byte
	confidence float64
	tier       string
	notice     string
	runID      string
}

// DetectImage ищет объекты на загруженном изображении
func (h *DetectHandler) DetectImage(c *gin.Context) {
	h.logger.Info("Получен запрос на детекцию по изображению")

	params, ok := h.readUpload(c, "image", imageio.CheckImageName)
	if !ok {
		return
	}

	result, err := h.detectionService.DetectImage(c.Request.Context(), service.ImageRequest{
		RunID:      params.runID,
		Filename:   params.filename,
		Data:       params.data,
		Confidence: params.confidence,
		ModelTier:  params.tier,
	})
	if err != nil {
		if h.respondConflict(c, err) {
			return
		}
		h.logger.Errorf("Ошибка детекции по изображению: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "An error occurred while processing the image.",
			"details": err.Error(),
		})
		return
	}

	result.Notice = params.notice
	h.logger.Infof("Детекция по изображению завершена, запуск %s", result.RunID)
	c.JSON(http.StatusOK, result)
}

// DetectVideo размечает каждый кадр загруженного видео
func (h *DetectHandler) DetectVideo(c *gin.Context) {
	h.logger.Info("Получен запрос на обработку видео")

	params, ok := h.readUpload(c, "video", imageio.CheckVideoName)
	if !ok {
		return
	}

	result, err := h.detectionService.DetectVideo(c.Request.Context(), service.VideoRequest{
		RunID:      params.runID,
		Filename:   params.filename,
		Data:       params.data,
		Confidence: params.confidence,
		ModelTier:  params.tier,
	})
	if err != nil {
		if h.respondConflict(c, err) {
			return
		}
		h.logger.Errorf("Ошибка обработки видео: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "An error occurred while processing the video.",
			"details": err.Error(),
		})
		return
	}

	result.Notice = params.notice
	h.logger.Infof("Обработка видео завершена, запуск %s, кадров: %d", result.RunID, result.FrameCount)
	c.JSON(http.StatusOK, result)
}

// HealthCheck проверяет состояние сервера модели
func (h *DetectHandler) HealthCheck(c *gin.Context) {
	h.logger.Debug("Получен запрос проверки здоровья")

	health, err := h.detectionService.CheckHealth(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Ошибка проверки здоровья: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Ошибка проверки состояния сервиса",
		})
		return
	}

	statusCode := http.StatusOK
	if health.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// readUpload разбирает форму загрузки. При ошибке ответ уже записан и ok=false.
func (h *DetectHandler) readUpload(c *gin.Context, field string, checkName func(string) (string, error)) (uploadParams, bool) {
	var params uploadParams

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, header, err := c.Request.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.logger.Warnf("Файл больше %d байт", h.maxUploadBytes)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File is larger than %d MB", h.maxUploadBytes>>20)})
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			h.logger.Info("Файл не загружен")
			c.JSON(http.StatusBadRequest, gin.H{"error": uploadPrompts[field]})
		default:
			h.logger.Errorf("Ошибка парсинга multipart form: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		}
		return params, false
	}
	defer file.Close()

	if _, err := checkName(header.Filename); err != nil {
		h.logger.Warnf("Неподдерживаемый файл: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return params, false
	}

	confidence, err := parseConfidence(c.PostForm("confidence"), h.defaultConfidence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return params, false
	}

	tier, notice, err := resolveTier(c.PostForm("model"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return params, false
	}

	runID, err := parseRunID(c.PostForm("run_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return params, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Errorf("Ошибка чтения файла: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return params, false
	}
	h.logger.Infof("Прочитано %d байт из файла %s", len(data), header.Filename)

	return uploadParams{
		filename:   header.Filename,
		data:       data,
		confidence: confidence,
		tier:       tier,
		notice:     notice,
		runID:      runID,
	}, true
}

// respondConflict отвечает 409, если ID запуска уже занят
func (h *DetectHandler) respondConflict(c *gin.Context, err error) bool {
	if !errors.Is(err, service.ErrRunExists) {
		return false
	}
	h.logger.Warnf("Отклонен повторный ID запуска: %v", err)
	c.JSON(http.StatusConflict, gin.H{"error": "run_id already exists"})
	return true
}

// parseRunID принимает ID запуска от клиента только в формате UUID; пустое значение допустимо
func parseRunID(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return "", fmt.Errorf("run_id must be a UUID")
	}
	return id.String(), nil
}

// parseConfidence парсит порог уверенности; пустое значение дает порог по умолчанию
func parseConfidence(value string, defaultValue float64) (float64, error) {
	if value == "" {
		return defaultValue, nil
	}

	confidence, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return 0, fmt.Errorf("confidence must be a number between 0 and 1")
	}
	return confidence, nil
}

// resolveTier выбирает уровень модели. Pro пока закрыт: запрос уходит в Core с уведомлением.
func resolveTier(value string) (tier, notice string, err error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", service.TierCore:
		return service.TierCore, "", nil
	case service.TierPro:
		return service.TierCore, ProNotice, nil
	default:
		return "", "", fmt.Errorf("unknown model %q, expected %q or %q", value, service.TierCore, service.TierPro)
	}
}
