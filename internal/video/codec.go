package video

import (
	"fmt"
	"image"

	"ecovision-go/internal/pipeline"
	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DefaultFourCC кодек выходного файла
const DefaultFourCC = "mp4v"

// Codec открывает видеофайлы через OpenCV
type Codec struct {
	FourCC string
	logger *logrus.Logger
}

// NewCodec создает кодек OpenCV
func NewCodec(logger *logrus.Logger) *Codec {
	return &Codec{FourCC: DefaultFourCC, logger: logger}
}

// OpenSource открывает видео на чтение и считывает его параметры
func (c *Codec) OpenSource(path string) (pipeline.FrameSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video %s could not be opened", path)
	}

	meta := models.VideoMetadata{
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	c.logger.Debugf("Открыт источник %s: %+v", path, meta)

	return &captureSource{capture: capture, mat: gocv.NewMat(), meta: meta}, nil
}

// CreateSink открывает mp4 на запись с параметрами входного видео
func (c *Codec) CreateSink(path string, meta models.VideoMetadata) (pipeline.FrameSink, error) {
	fps := meta.FPS
	if fps <= 0 {
		// контейнер не сообщил частоту кадров
		fps = 25
		c.logger.Warnf("FPS не определен, используем %.0f", fps)
	}

	writer, err := gocv.VideoWriterFile(path, c.FourCC, fps, meta.Width, meta.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer %s could not be opened", path)
	}

	return &writerSink{writer: writer, width: meta.Width, height: meta.Height}, nil
}

// captureSource читает кадры через gocv.VideoCapture
type captureSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	meta    models.VideoMetadata
}

func (s *captureSource) Metadata() models.VideoMetadata {
	return s.meta
}

func (s *captureSource) Next() (image.Image, bool, error) {
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, false, nil
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, false, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, true, nil
}

func (s *captureSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}

// writerSink пишет кадры через gocv.VideoWriter
type writerSink struct {
	writer *gocv.VideoWriter
	width  int
	height int
}

func (s *writerSink) Write(frame image.Image) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Cols() != s.width || mat.Rows() != s.height {
		return fmt.Errorf("frame size %dx%d does not match video %dx%d", mat.Cols(), mat.Rows(), s.width, s.height)
	}
	return s.writer.Write(mat)
}

func (s *writerSink) Close() error {
	return s.writer.Close()
}
