package model

import (
	"time"

	"gorm.io/gorm"
)

// Режимы запуска детекции
const (
	ModeImage = "image"
	ModeVideo = "video"
)

// Статусы запуска
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DetectionRun представляет один запуск детекции в базе данных
type DetectionRun struct {
	ID           string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Mode         string  `gorm:"type:varchar(16);not null;index" json:"mode"`
	Filename     string  `gorm:"type:varchar(255)" json:"filename"`
	Confidence   float64 `gorm:"not null" json:"confidence"`
	ModelTier    string  `gorm:"type:varchar(32);not null;default:'core'" json:"model_tier"`
	Status       string  `gorm:"type:varchar(16);not null" json:"status"`
	ErrorMessage string  `gorm:"type:text" json:"error_message,omitempty"`

	// Параметры входа
	FrameCount int     `gorm:"not null;default:0" json:"frame_count"`
	Width      int     `gorm:"not null;default:0" json:"width"`
	Height     int     `gorm:"not null;default:0" json:"height"`
	FPS        float64 `gorm:"not null;default:0" json:"fps"`

	// Итоги
	TotalDetections int   `gorm:"not null;default:0" json:"total_detections"`
	DurationMs      int64 `gorm:"not null;default:0" json:"duration_ms"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Связь с подсчетами по классам
	ClassCounts []ClassCount `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"class_counts"`
}

// ClassCount количество объектов одного класса за запуск
type ClassCount struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string `gorm:"type:varchar(36);not null;index" json:"run_id"`
	ClassName string `gorm:"type:varchar(128);not null" json:"class_name"`
	Count     int    `gorm:"not null" json:"count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName указывает имя таблицы для DetectionRun
func (DetectionRun) TableName() string {
	return "detection_runs"
}

// TableName указывает имя таблицы для ClassCount
func (ClassCount) TableName() string {
	return "class_counts"
}
