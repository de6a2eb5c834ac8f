package pipeline

import (
	"context"
	"image"

	"ecovision-go/pkg/models"
)

// Detector внешняя модель детекции объектов.
// Detect возвращает только детекции с уверенностью не ниже порога,
// Plot рисует детекции на копии кадра и не меняет исходный кадр.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, confidence float64) ([]models.Detection, error)
	Plot(frame image.Image, detections []models.Detection) (image.Image, error)
}

// FrameSource упорядоченная конечная последовательность кадров видео
type FrameSource interface {
	Metadata() models.VideoMetadata
	// Next возвращает следующий кадр; ok=false означает конец потока.
	Next() (frame image.Image, ok bool, err error)
	Close() error
}

// FrameSink кодировщик выходного видео
type FrameSink interface {
	Write(frame image.Image) error
	Close() error
}

// Codec открывает источники и приемники кадров по путям к файлам
type Codec interface {
	OpenSource(path string) (FrameSource, error)
	CreateSink(path string, meta models.VideoMetadata) (FrameSink, error)
}

// ProgressFunc получает отчет после каждого кадра
type ProgressFunc func(models.Progress)
