package pipeline

import (
	"context"
	"fmt"
	"image"

	"ecovision-go/pkg/models"
)

// ImageResult результат детекции на одном изображении
type ImageResult struct {
	Annotated  image.Image
	Detections []models.Detection
	Counts     ClassCounts
}

// DetectImage запускает детектор один раз и считает объекты по классам.
// При ошибке частичный результат не возвращается.
func DetectImage(ctx context.Context, detector Detector, img image.Image, confidence float64) (*ImageResult, error) {
	if img == nil {
		return nil, fmt.Errorf("image is nil")
	}

	detections, err := detector.Detect(ctx, img, confidence)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	counts := ClassCounts{}
	counts.AddAll(detections)

	annotated, err := detector.Plot(img, detections)
	if err != nil {
		return nil, fmt.Errorf("failed to render detections: %w", err)
	}

	return &ImageResult{
		Annotated:  annotated,
		Detections: detections,
		Counts:     counts,
	}, nil
}
