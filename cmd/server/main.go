package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecovision-go/internal/annotate"
	"ecovision-go/internal/client"
	"ecovision-go/internal/config"
	"ecovision-go/internal/database"
	"ecovision-go/internal/detector"
	"ecovision-go/internal/handler"
	"ecovision-go/internal/metrics"
	"ecovision-go/internal/pipeline"
	"ecovision-go/internal/progress"
	"ecovision-go/internal/repository"
	"ecovision-go/internal/service"
	"ecovision-go/internal/video"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Получаем конфигурацию из переменных окружения
	cfg := config.LoadConfig()

	// Инициализируем логгер
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Запуск EcoVision API Server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Инициализируем базу данных
	logger.Infof("Подключение к базе данных (%s)...", cfg.Database.Driver)
	if err := database.Connect(cfg); err != nil {
		logger.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer database.Close()

	// Выполняем миграции
	logger.Info("Выполнение миграций базы данных...")
	if err := database.Migrate(); err != nil {
		logger.Fatalf("Ошибка выполнения миграций: %v", err)
	}

	// Проверяем здоровье базы данных
	if err := database.HealthCheck(); err != nil {
		logger.Fatalf("База данных недоступна: %v", err)
	}

	logger.Info("База данных успешно подключена и готова к работе")

	if err := os.MkdirAll(cfg.Processing.ScratchDir, 0755); err != nil {
		logger.Fatalf("Ошибка создания временной папки: %v", err)
	}

	// Подключаемся к серверу модели
	backend, closeBackend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatalf("Ошибка подключения к серверу модели: %v", err)
	}
	defer closeBackend()

	handle := detector.NewHandle(backend, annotate.NewRenderer(), logger)
	if cfg.Detector.Warmup {
		names, err := handle.Names(ctx)
		if err != nil {
			logger.Warnf("Справочник классов не загружен при старте, попробуем при первом запросе: %v", err)
		} else {
			logger.Infof("Модель знает %d классов", len(names))
		}
	}

	// Инициализируем репозитории
	runRepo := repository.NewRunRepository(database.DB)

	// Инициализируем сервисы
	appMetrics := metrics.New()
	hub := progress.NewHub(logger)
	artifacts := service.NewArtifactStore(time.Duration(cfg.Artifacts.TTLMinutes)*time.Minute, cfg.Artifacts.MaxEntries, logger)
	videos := pipeline.NewVideoPipeline(handle, video.NewCodec(logger), cfg.Processing.ScratchDir, logger)

	runService := service.NewRunService(runRepo, artifacts, logger)
	detectionService := service.NewDetectionService(
		handle,
		videos,
		runService,
		artifacts,
		hub,
		appMetrics,
		time.Duration(cfg.Processing.Timeout)*time.Second,
		logger,
	)

	go hub.Run(ctx)
	go artifacts.Run(ctx, time.Minute)

	// Инициализируем обработчики
	detectHandler := handler.NewDetectHandler(detectionService, cfg.Detector.DefaultConfidence, cfg.Server.MaxUploadMB, logger)
	runHandler := handler.NewRunHandler(runService, hub, logger)

	// Настраиваем Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Добавляем middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Регистрируем маршруты
	detectHandler.RegisterRoutes(router)
	runHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	// Добавляем базовый маршрут для проверки
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "EcoVision Object Detection API",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	// Запускаем сервер
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Infof("Сервер запущен на %s", serverAddr)
		logger.Infof("API доступно по адресу: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Останавливаем сервер...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Ошибка остановки сервера: %v", err)
	}
}

// newBackend выбирает транспорт до сервера модели по DETECTOR_TRANSPORT
func newBackend(cfg *config.Config, logger *logrus.Logger) (detector.Backend, func(), error) {
	timeout := time.Duration(cfg.Detector.Timeout) * time.Second

	switch cfg.Detector.Transport {
	case "grpc":
		logger.Infof("Сервер модели: gRPC %s", cfg.Detector.GRPCAddr)
		grpcClient, err := client.NewDetectorGRPCClient(cfg.Detector.GRPCAddr, timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return grpcClient, func() { grpcClient.Close() }, nil
	case "http":
		logger.Infof("Сервер модели: HTTP %s", cfg.Detector.BaseURL)
		return client.NewDetectorAPIClient(cfg.Detector.BaseURL, timeout, logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector transport %q", cfg.Detector.Transport)
	}
}

// corsMiddleware добавляет заголовки CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
