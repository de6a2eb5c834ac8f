package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrNoFrames видео не содержит ни одного декодируемого кадра
var ErrNoFrames = errors.New("video contains no decodable frames")

// VideoResult результат обработки видео
type VideoResult struct {
	Video         []byte               // Закодированное видео с разметкой
	Counts        ClassCounts          // Итоги по классам за все кадры
	Metadata      models.VideoMetadata // Параметры входного видео
	FramesWritten int                  // Количество записанных кадров
	Detections    int                  // Всего детекций
	Duration      time.Duration
}

// VideoPipeline прогоняет каждый кадр видео через детектор и собирает размеченное видео.
// Обработка строго последовательная: один кадр на входе, один кадр на выходе.
type VideoPipeline struct {
	detector   Detector
	codec      Codec
	scratchDir string
	logger     *logrus.Logger
}

// NewVideoPipeline создает конвейер обработки видео
func NewVideoPipeline(detector Detector, codec Codec, scratchDir string, logger *logrus.Logger) *VideoPipeline {
	return &VideoPipeline{
		detector:   detector,
		codec:      codec,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// Process обрабатывает видео из памяти. ext задает расширение временного входного файла
// (например ".avi"), чтобы декодер распознал контейнер. Оба временных файла удаляются
// при любом исходе.
func (p *VideoPipeline) Process(ctx context.Context, data []byte, ext string, confidence float64, progress ProgressFunc) (*VideoResult, error) {
	startTime := time.Now()

	if len(data) == 0 {
		return nil, ErrNoFrames
	}

	inputPath, err := p.stageInput(data, ext)
	if err != nil {
		return nil, err
	}
	defer p.removeTemp(inputPath)

	outFile, err := os.CreateTemp(p.scratchDir, "ecovision-out-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	outputPath := outFile.Name()
	outFile.Close()
	defer p.removeTemp(outputPath)

	source, err := p.codec.OpenSource(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode video: %w", err)
	}
	sourceOpen := true
	defer func() {
		if sourceOpen {
			source.Close()
		}
	}()

	meta := source.Metadata()
	p.logger.Infof("Видео открыто: %dx%d, %.2f fps, %d кадров", meta.Width, meta.Height, meta.FPS, meta.FrameCount)

	frame, ok, err := source.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame 0: %w", err)
	}
	if !ok {
		return nil, ErrNoFrames
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		bounds := frame.Bounds()
		meta.Width, meta.Height = bounds.Dx(), bounds.Dy()
	}

	sink, err := p.codec.CreateSink(outputPath, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to open video encoder: %w", err)
	}
	sinkOpen := true
	defer func() {
		if sinkOpen {
			sink.Close()
		}
	}()

	counts := ClassCounts{}
	processed := 0
	totalDetections := 0

	for ok {
		detections, err := p.annotate(ctx, sink, frame, confidence)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", processed, err)
		}
		counts.AddAll(detections)
		totalDetections += len(detections)
		processed++

		if progress != nil {
			progress(progressFor(processed, meta.FrameCount))
		}

		frame, ok, err = source.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", processed, err)
		}
	}

	sourceOpen = false
	if err := source.Close(); err != nil {
		p.logger.Warnf("Не удалось закрыть источник видео: %v", err)
	}
	sinkOpen = false
	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize output video: %w", err)
	}

	// Читаем обработанное видео в память
	video, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output video: %w", err)
	}

	duration := time.Since(startTime)
	p.logger.Infof("Обработано %d кадров за %v, детекций: %d", processed, duration, totalDetections)

	return &VideoResult{
		Video:         video,
		Counts:        counts,
		Metadata:      meta,
		FramesWritten: processed,
		Detections:    totalDetections,
		Duration:      duration,
	}, nil
}

// annotate детектирует объекты на кадре и пишет размеченный кадр в приемник
func (p *VideoPipeline) annotate(ctx context.Context, sink FrameSink, frame image.Image, confidence float64) ([]models.Detection, error) {
	detections, err := p.detector.Detect(ctx, frame, confidence)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	annotated, err := p.detector.Plot(frame, detections)
	if err != nil {
		return nil, fmt.Errorf("failed to render detections: %w", err)
	}

	if err := sink.Write(annotated); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}
	return detections, nil
}

// stageInput сохраняет загруженные байты во временный файл для декодера
func (p *VideoPipeline) stageInput(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	tmp, err := os.CreateTemp(p.scratchDir, "ecovision-in-*"+strings.ToLower(ext))
	if err != nil {
		return "", fmt.Errorf("failed to create input file: %w", err)
	}
	path := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		p.removeTemp(path)
		return "", fmt.Errorf("failed to stage input video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		p.removeTemp(path)
		return "", fmt.Errorf("failed to stage input video: %w", err)
	}
	return path, nil
}

func (p *VideoPipeline) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warnf("Не удалось удалить временный файл %s: %v", path, err)
	}
}

// progressFor считает долю выполненной работы; total<=0 означает, что длина видео неизвестна
func progressFor(processed, total int) models.Progress {
	pr := models.Progress{Processed: processed, Total: total}
	if total > 0 {
		pr.Fraction = float64(processed) / float64(total)
		if pr.Fraction > 1 {
			pr.Fraction = 1
		}
	}
	return pr
}
