package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"ecovision-go/pkg/models"
)

var classNames = []string{"bottle", "can", "bag"}

// fakeDetector выдает по одной детекции на каждую единицу яркости пикселя (0,0),
// уверенность i-й детекции равна (i+1)/10.
type fakeDetector struct {
	calls   int
	failAt  int // номер вызова, на котором вернуть ошибку (с 1), 0 без ошибок
	plotted int
}

func (d *fakeDetector) Detect(_ context.Context, frame image.Image, confidence float64) ([]models.Detection, error) {
	d.calls++
	if d.failAt > 0 && d.calls == d.failAt {
		return nil, errors.New("model exploded")
	}

	v := int(color.GrayModel.Convert(frame.At(0, 0)).(color.Gray).Y)
	var out []models.Detection
	for i := 0; i < v; i++ {
		conf := float64(i%10+1) / 10
		if conf < confidence {
			continue
		}
		out = append(out, models.Detection{
			ClassIndex: i % len(classNames),
			ClassName:  classNames[i%len(classNames)],
			Confidence: conf,
			Box:        models.BoundingBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		})
	}
	return out, nil
}

func (d *fakeDetector) Plot(frame image.Image, detections []models.Detection) (image.Image, error) {
	d.plotted++
	b := frame.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, frame.At(x, y))
		}
	}
	// метка на копии, исходный кадр не трогаем
	out.SetGray(b.Max.X-1, b.Max.Y-1, color.Gray{Y: uint8(len(detections))})
	return out, nil
}

const fakeMagic = 'V'

// fakeCodec понимает формат "V" + по байту яркости на кадр, кадры 4x4.
// Приемник пишет в файл по байту (яркость пикселя (1,1)) на кадр.
type fakeCodec struct {
	fps        float64
	hideCount  bool
	failWrite  int
	sinkMeta   models.VideoMetadata
	sourcePath string
}

func (c *fakeCodec) OpenSource(path string) (FrameSource, error) {
	c.sourcePath = path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != fakeMagic {
		return nil, fmt.Errorf("unknown container")
	}
	frames := data[1:]
	meta := models.VideoMetadata{Width: 4, Height: 4, FPS: c.fps, FrameCount: len(frames)}
	if c.hideCount {
		meta.FrameCount = 0
	}
	return &fakeSource{frames: frames, meta: meta}, nil
}

func (c *fakeCodec) CreateSink(path string, meta models.VideoMetadata) (FrameSink, error) {
	c.sinkMeta = meta
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fakeSink{file: f, failAt: c.failWrite}, nil
}

type fakeSource struct {
	frames []byte
	pos    int
	meta   models.VideoMetadata
}

func (s *fakeSource) Metadata() models.VideoMetadata { return s.meta }

func (s *fakeSource) Next() (image.Image, bool, error) {
	if s.pos >= len(s.frames) {
		return nil, false, nil
	}
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = s.frames[s.pos]
	}
	s.pos++
	return img, true, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeSink struct {
	file    *os.File
	written int
	failAt  int
}

func (s *fakeSink) Write(frame image.Image) error {
	s.written++
	if s.failAt > 0 && s.written == s.failAt {
		return errors.New("disk full")
	}
	v := color.GrayModel.Convert(frame.At(1, 1)).(color.Gray).Y
	_, err := s.file.Write([]byte{v})
	return err
}

func (s *fakeSink) Close() error { return s.file.Close() }

func fakeVideo(frames ...byte) []byte {
	return append([]byte{fakeMagic}, frames...)
}
