package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// DetectorAPIClient клиент для HTTP сервера модели детекции
type DetectorAPIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDetectorAPIClient создает новый клиент для HTTP сервера модели
func NewDetectorAPIClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *DetectorAPIClient {
	return &DetectorAPIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Detect отправляет кадр (JPEG) на детекцию с порогом уверенности
func (c *DetectorAPIClient) Detect(ctx context.Context, frame []byte, confidence float64) ([]models.Detection, error) {
	// Создаем multipart form-data
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	imageWriter, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания form field для кадра: %w", err)
	}
	if _, err := imageWriter.Write(frame); err != nil {
		return nil, fmt.Errorf("ошибка записи кадра: %w", err)
	}

	if err := writer.WriteField("conf", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("ошибка записи conf: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/detect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debugf("Отправка POST запроса на %s", url)
	var apiResponse models.DetectorDetectResponse
	if err := c.do(req, &apiResponse); err != nil {
		return nil, err
	}

	if apiResponse.Status != "" && apiResponse.Status != "success" {
		return nil, fmt.Errorf("сервер модели вернул ошибку: %s", apiResponse.Message)
	}

	return apiResponse.Detections, nil
}

// Labels получает справочник классов модели
func (c *DetectorAPIClient) Labels(ctx context.Context) (map[int]string, error) {
	c.logger.Debug("Запрос справочника классов модели")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/labels", c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	var labels models.DetectorLabelsResponse
	if err := c.do(req, &labels); err != nil {
		return nil, err
	}
	if len(labels.Names) == 0 {
		return nil, fmt.Errorf("сервер модели вернул пустой справочник классов")
	}
	return labels.Names, nil
}

// CheckHealth проверяет состояние сервера модели
func (c *DetectorAPIClient) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	c.logger.Debug("Проверка здоровья сервера модели")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	var healthResponse models.HealthResponse
	if err := c.do(req, &healthResponse); err != nil {
		return nil, err
	}
	return &healthResponse, nil
}

// do выполняет запрос и разбирает JSON ответ
func (c *DetectorAPIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер модели вернул ошибку: статус %d, тело: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}
	return nil
}
