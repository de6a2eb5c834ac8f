package handler

import (
	"errors"
	"net/http"
	"strconv"

	"ecovision-go/internal/repository"
	"ecovision-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ProcessedVideoName имя файла, под которым отдается обработанное видео
const ProcessedVideoName = "processed_video.mp4"

// RunStore история запусков и обработанные видео
type RunStore interface {
	ListRuns(page, pageSize int) ([]service.RunResponse, int64, error)
	GetRunByID(runID string) (*service.RunResponse, error)
	DeleteRun(runID string) error
	GetVideo(runID string) ([]byte, error)
}

// ProgressStream отдает ход обработки запуска по websocket
type ProgressStream interface {
	Serve(w http.ResponseWriter, r *http.Request, runID string)
}

// RunHandler обрабатывает HTTP запросы для работы с историей запусков
type RunHandler struct {
	runService RunStore
	progress   ProgressStream
	logger     *logrus.Logger
}

// NewRunHandler создает новый экземпляр RunHandler
func NewRunHandler(runService RunStore, progress ProgressStream, logger *logrus.Logger) *RunHandler {
	return &RunHandler{
		runService: runService,
		progress:   progress,
		logger:     logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *RunHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.DELETE("/runs/:id", h.DeleteRun)
		api.GET("/runs/:id/video", h.GetRunVideo)
		api.GET("/runs/:id/progress", h.StreamProgress)
	}
}

// ListRuns возвращает список запусков с пагинацией
func (h *RunHandler) ListRuns(c *gin.Context) {
	h.logger.Info("Получен запрос на получение списка запусков")

	// Получаем параметры пагинации
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
	if err != nil || size < 1 || size > 100 {
		size = 10
	}

	runs, total, err := h.runService.ListRuns(page, size)
	if err != nil {
		h.logger.Errorf("Ошибка получения списка запусков: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, service.ListRunsResponse{
		Runs:  runs,
		Total: total,
		Page:  page,
		Size:  size,
	})
}

// GetRun возвращает запуск по ID
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("id")
	h.logger.Infof("Получен запрос на получение запуска с ID: %s", runID)

	run, err := h.runService.GetRunByID(runID)
	if err != nil {
		h.respondRunError(c, err, "Failed to get run")
		return
	}

	c.JSON(http.StatusOK, run)
}

// DeleteRun удаляет запуск по ID
func (h *RunHandler) DeleteRun(c *gin.Context) {
	runID := c.Param("id")
	h.logger.Infof("Получен запрос на удаление запуска с ID: %s", runID)

	if err := h.runService.DeleteRun(runID); err != nil {
		h.respondRunError(c, err, "Failed to delete run")
		return
	}

	h.logger.Info("Запуск успешно удален")
	c.JSON(http.StatusOK, gin.H{"message": "Run deleted"})
}

// GetRunVideo отдает обработанное видео как вложение
func (h *RunHandler) GetRunVideo(c *gin.Context) {
	runID := c.Param("id")

	video, err := h.runService.GetVideo(runID)
	if err != nil {
		if errors.Is(err, service.ErrArtifactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "processed video not found for this run"})
			return
		}
		h.logger.Errorf("Ошибка получения видео: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get processed video"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+ProcessedVideoName+`"`)
	c.Data(http.StatusOK, "video/mp4", video)
}

// StreamProgress подписывает клиента на ход обработки видео
func (h *RunHandler) StreamProgress(c *gin.Context) {
	h.progress.Serve(c.Writer, c.Request, c.Param("id"))
}

func (h *RunHandler) respondRunError(c *gin.Context, err error, message string) {
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	h.logger.Errorf("%s: %v", message, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
