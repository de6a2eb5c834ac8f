package service

import (
	"time"

	"ecovision-go/pkg/models"
)

// Уровни модели
const (
	TierCore = "core"
	TierPro  = "pro"
)

// ImageRequest запрос на детекцию по изображению
type ImageRequest struct {
	RunID      string
	Filename   string
	Data       []byte
	Confidence float64
	ModelTier  string
}

// VideoRequest запрос на детекцию по видео
type VideoRequest struct {
	RunID      string
	Filename   string
	Data       []byte
	Confidence float64
	ModelTier  string
}

// RunResponse ответ с информацией о запуске
type RunResponse struct {
	ID              string                 `json:"id"`
	Mode            string                 `json:"mode"`
	Filename        string                 `json:"filename"`
	Confidence      float64                `json:"confidence"`
	ModelTier       string                 `json:"model_tier"`
	Status          string                 `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Metadata        *models.VideoMetadata  `json:"metadata,omitempty"`
	Width           int                    `json:"width"`
	Height          int                    `json:"height"`
	TotalDetections int                    `json:"total_detections"`
	DurationMs      int64                  `json:"duration_ms"`
	Counts          []models.ClassCountRow `json:"counts"`
	DownloadURL     string                 `json:"download_url,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ListRunsResponse ответ со списком запусков
type ListRunsResponse struct {
	Runs  []RunResponse `json:"runs"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}
