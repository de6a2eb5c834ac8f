package annotate

import (
	"fmt"
	"image"
	"image/color"

	"ecovision-go/pkg/models"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// palette цвета рамок, индекс класса берется по модулю длины
var palette = []color.RGBA{
	{R: 0xFF, G: 0x38, B: 0x38, A: 0xFF},
	{R: 0xFF, G: 0x9D, B: 0x97, A: 0xFF},
	{R: 0xFF, G: 0x70, B: 0x1F, A: 0xFF},
	{R: 0xFF, G: 0xB2, B: 0x1D, A: 0xFF},
	{R: 0xCF, G: 0xD2, B: 0x31, A: 0xFF},
	{R: 0x48, G: 0xF9, B: 0x0A, A: 0xFF},
	{R: 0x92, G: 0xCC, B: 0x17, A: 0xFF},
	{R: 0x3D, G: 0xDB, B: 0x86, A: 0xFF},
	{R: 0x1A, G: 0x93, B: 0x34, A: 0xFF},
	{R: 0x00, G: 0xD4, B: 0xBB, A: 0xFF},
	{R: 0x2C, G: 0x99, B: 0xA8, A: 0xFF},
	{R: 0x00, G: 0xC2, B: 0xFF, A: 0xFF},
	{R: 0x34, G: 0x45, B: 0x93, A: 0xFF},
	{R: 0x64, G: 0x73, B: 0xFF, A: 0xFF},
	{R: 0x00, G: 0x18, B: 0xEC, A: 0xFF},
	{R: 0x84, G: 0x38, B: 0xFF, A: 0xFF},
	{R: 0x52, G: 0x00, B: 0x85, A: 0xFF},
	{R: 0xCB, G: 0x38, B: 0xFF, A: 0xFF},
	{R: 0xFF, G: 0x95, B: 0xC8, A: 0xFF},
	{R: 0xFF, G: 0x37, B: 0xC7, A: 0xFF},
}

// ColorFor возвращает цвет рамки для класса
func ColorFor(classIndex int) color.RGBA {
	if classIndex < 0 {
		classIndex = -classIndex
	}
	return palette[classIndex%len(palette)]
}

// Renderer рисует рамки и подписи детекций поверх кадра
type Renderer struct {
	LineWidth float64
}

// NewRenderer создает рендерер с толщиной линии по умолчанию
func NewRenderer() *Renderer {
	return &Renderer{LineWidth: 2}
}

// Plot рисует детекции на копии кадра. Исходный кадр не изменяется,
// размер результата совпадает с размером кадра.
func (r *Renderer) Plot(frame image.Image, detections []models.Detection) (image.Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("frame is nil")
	}

	dc := gg.NewContextForImage(frame)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetLineWidth(r.LineWidth)

	for _, d := range detections {
		box := d.Box
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}
		c := ColorFor(d.ClassIndex)

		dc.SetColor(c)
		dc.DrawRectangle(box.XMin, box.YMin, box.Width(), box.Height())
		dc.Stroke()

		label := Label(d)
		textW, textH := dc.MeasureString(label)
		labelY := box.YMin - textH - 4
		if labelY < 0 {
			// подпись не помещается над рамкой, рисуем внутри
			labelY = box.YMin
		}
		dc.DrawRectangle(box.XMin, labelY, textW+4, textH+4)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(label, box.XMin+2, labelY+textH+1)
	}

	return dc.Image(), nil
}

// Label текст подписи детекции
func Label(d models.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}
