package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	// Регистрация декодеров bmp и webp в image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat расширение файла не поддерживается
var ErrUnsupportedFormat = errors.New("unsupported file format")

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

// ImageExtensions допустимые расширения изображений
func ImageExtensions() []string {
	return []string{"jpg", "jpeg", "png", "bmp", "webp"}
}

// VideoExtensions допустимые расширения видео
func VideoExtensions() []string {
	return []string{"mp4", "avi", "mov"}
}

// CheckImageName проверяет расширение загруженного изображения
func CheckImageName(filename string) (string, error) {
	return checkExt(filename, imageExtensions)
}

// CheckVideoName проверяет расширение загруженного видео
func CheckVideoName(filename string) (string, error) {
	return checkExt(filename, videoExtensions)
}

func checkExt(filename string, allowed map[string]bool) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowed[ext] {
		return "", fmt.Errorf("%q: %w", filename, ErrUnsupportedFormat)
	}
	return ext, nil
}

// Decode декодирует jpeg, png, bmp или webp
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodeJPEG кодирует кадр в JPEG
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG кодирует кадр в PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
