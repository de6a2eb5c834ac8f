package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics счетчики и гистограммы сервиса детекции
type Metrics struct {
	// Обработанные кадры и запросы
	FramesProcessed atomic.Uint64
	ImagesProcessed atomic.Uint64
	VideosProcessed atomic.Uint64

	// Неудачные запросы
	ImageErrors atomic.Uint64
	VideoErrors atomic.Uint64

	// Видео в обработке прямо сейчас
	ActiveVideos atomic.Int64

	detections *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New создает метрики со своим реестром Prometheus
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics регистрирует коллекторы в реестре
func (m *Metrics) registerPrometheusMetrics() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("ecovision_frames_processed_total", "Total video frames run through the detector", &m.FramesProcessed)
	counter("ecovision_images_processed_total", "Total images processed", &m.ImagesProcessed)
	counter("ecovision_videos_processed_total", "Total videos processed", &m.VideosProcessed)
	counter("ecovision_image_errors_total", "Total failed image requests", &m.ImageErrors)
	counter("ecovision_video_errors_total", "Total failed video requests", &m.VideoErrors)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ecovision_videos_active",
			Help: "Videos currently being processed",
		},
		func() float64 { return float64(m.ActiveVideos.Load()) },
	))

	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecovision_detections_total",
		Help: "Detections by class",
	}, []string{"class"})
	m.registry.MustRegister(m.detections)

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecovision_processing_seconds",
		Help:    "Processing time per request",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"mode"})
	m.registry.MustRegister(m.duration)
}

// ObserveDetections добавляет подсчет по классам одного запроса
func (m *Metrics) ObserveDetections(counts map[string]int) {
	for class, n := range counts {
		m.detections.WithLabelValues(class).Add(float64(n))
	}
}

// ObserveDuration учитывает время обработки для режима image/video
func (m *Metrics) ObserveDuration(mode string, d time.Duration) {
	m.duration.WithLabelValues(mode).Observe(d.Seconds())
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry реестр для тестов и дополнительных коллекторов
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
