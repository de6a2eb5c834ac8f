package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ecovision-go/internal/imageio"
	"ecovision-go/pkg/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	baseURL := strings.TrimRight(getEnv("ECOVISION_URL", "http://localhost:8080"), "/")
	httpClient := &http.Client{Timeout: 30 * time.Minute}

	// Проверяем health endpoint
	fmt.Println("Проверяем health endpoint...")
	status, body, err := get(httpClient, baseURL+"/api/v1/health")
	if err != nil {
		fmt.Printf("Ошибка при обращении к health endpoint: %v\n", err)
		return
	}
	fmt.Printf("Health check ответ (статус %d):\n%s\n\n", status, string(body))

	if len(os.Args) < 2 {
		fmt.Println("Использование: client <изображение или видео> [порог уверенности]")
		return
	}

	path := os.Args[1]
	confidence := ""
	if len(os.Args) > 2 {
		confidence = os.Args[2]
	}

	if err := run(httpClient, baseURL, path, confidence); err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(httpClient *http.Client, baseURL, path, confidence string) error {
	if _, err := imageio.CheckImageName(path); err == nil {
		fmt.Printf("Отправляем изображение %s на детекцию...\n", path)
		var resp models.ImageDetectResponse
		if err := upload(httpClient, baseURL+"/api/v1/detect/image", "image", path, confidence, &resp); err != nil {
			return err
		}
		printNotice(resp.Notice)
		fmt.Printf("Запуск %s, %dx%d\n", resp.RunID, resp.Width, resp.Height)
		fmt.Println(renderImageCounts(resp.Counts))
		return nil
	}

	if _, err := imageio.CheckVideoName(path); err != nil {
		return fmt.Errorf("поддерживаются изображения %v и видео %v: %w",
			imageio.ImageExtensions(), imageio.VideoExtensions(), err)
	}

	fmt.Printf("Отправляем видео %s на обработку...\n", path)
	var resp models.VideoDetectResponse
	if err := upload(httpClient, baseURL+"/api/v1/detect/video", "video", path, confidence, &resp); err != nil {
		return err
	}
	printNotice(resp.Notice)
	fmt.Printf("Запуск %s, кадров: %d, %.2f fps\n", resp.RunID, resp.FrameCount, resp.Metadata.FPS)
	fmt.Println(renderVideoCounts(resp.Counts))

	out := filepath.Join(filepath.Dir(path), "processed_video.mp4")
	if err := download(httpClient, baseURL+resp.DownloadURL, out); err != nil {
		return err
	}
	fmt.Printf("Обработанное видео сохранено в %s\n", out)
	return nil
}

func upload(httpClient *http.Client, url, field, path, confidence string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла: %w", err)
	}

	// Создаем multipart form
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("ошибка создания form field: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("ошибка записи файла: %w", err)
	}
	if confidence != "" {
		writer.WriteField("confidence", confidence)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}

func download(httpClient *http.Client, url, dest string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("ошибка скачивания видео: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус %d при скачивании видео", resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("ошибка записи видео: %w", err)
	}
	return nil
}

func get(httpClient *http.Client, url string) (int, []byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func renderImageCounts(rows []models.ClassCountRow) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Class", "Count"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Class, r.Count})
	}
	return t.Render()
}

func renderVideoCounts(rows []models.VideoClassCountRow) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Class", "Total Count"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Class, r.TotalCount})
	}
	return t.Render()
}

func printNotice(notice string) {
	if notice != "" {
		fmt.Printf("Внимание: %s\n", notice)
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
