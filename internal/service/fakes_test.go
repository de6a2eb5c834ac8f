package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ecovision-go/internal/model"
	"ecovision-go/internal/pipeline"
	"ecovision-go/internal/repository"
	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// stubDetector находит bottles бутылок на каждом кадре
type stubDetector struct {
	bottles int
	err     error
	healthy bool
	calls   int
}

func (d *stubDetector) Detect(_ context.Context, _ image.Image, confidence float64) ([]models.Detection, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	var out []models.Detection
	for i := 0; i < d.bottles; i++ {
		if 0.9 < confidence {
			continue
		}
		out = append(out, models.Detection{
			ClassName:  "bottle",
			Confidence: 0.9,
			Box:        models.BoundingBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		})
	}
	return out, nil
}

func (d *stubDetector) Plot(frame image.Image, _ []models.Detection) (image.Image, error) {
	return frame, nil
}

func (d *stubDetector) CheckHealth(context.Context) (*models.HealthResponse, error) {
	if !d.healthy {
		return nil, errors.New("connection refused")
	}
	return &models.HealthResponse{Status: "healthy", ModelLoaded: true, Version: "test"}, nil
}

// byteCodec: входной файл "V" + по байту на кадр, выход по байту на кадр
type byteCodec struct{}

type byteSource struct {
	frames []byte
	pos    int
}

func (s *byteSource) Metadata() models.VideoMetadata {
	return models.VideoMetadata{Width: 2, Height: 2, FPS: 10, FrameCount: len(s.frames)}
}

func (s *byteSource) Next() (image.Image, bool, error) {
	if s.pos >= len(s.frames) {
		return nil, false, nil
	}
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: s.frames[s.pos]})
	s.pos++
	return img, true, nil
}

func (s *byteSource) Close() error { return nil }

type byteSink struct{ f *os.File }

func (s *byteSink) Write(frame image.Image) error {
	y := color.GrayModel.Convert(frame.At(0, 0)).(color.Gray).Y
	_, err := s.f.Write([]byte{y})
	return err
}

func (s *byteSink) Close() error { return s.f.Close() }

func (byteCodec) OpenSource(path string) (pipeline.FrameSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != 'V' {
		return nil, errors.New("unknown container")
	}
	return &byteSource{frames: data[1:]}, nil
}

func (byteCodec) CreateSink(path string, _ models.VideoMetadata) (pipeline.FrameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &byteSink{f: f}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.Progress
}

func (p *recordingPublisher) Publish(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, pr)
}

func (p *recordingPublisher) last() models.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

func newTestRepo(t *testing.T) repository.RunRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "runs.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.DetectionRun{}, &model.ClassCount{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return repository.NewRunRepository(db)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}
