package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"ecovision-go/pkg/models"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Методы gRPC сервера модели. Сообщения передаются как google.protobuf.Struct
// с той же JSON схемой, что и у HTTP сервера модели.
const (
	DetectorServiceName = "ecovision.detector.v1.Detector"
	detectMethod        = "/" + DetectorServiceName + "/Detect"
	labelsMethod        = "/" + DetectorServiceName + "/Labels"
)

// DetectorGRPCClient клиент для gRPC сервера модели детекции
type DetectorGRPCClient struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	logger  *logrus.Logger
}

// NewDetectorGRPCClient подключается к gRPC серверу модели по адресу addr
func NewDetectorGRPCClient(addr string, timeout time.Duration, logger *logrus.Logger) (*DetectorGRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к gRPC серверу модели %s: %w", addr, err)
	}
	return NewDetectorGRPCClientFromConn(conn, timeout, logger), nil
}

// NewDetectorGRPCClientFromConn использует уже открытое соединение
func NewDetectorGRPCClientFromConn(conn *grpc.ClientConn, timeout time.Duration, logger *logrus.Logger) *DetectorGRPCClient {
	return &DetectorGRPCClient{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: timeout,
		logger:  logger,
	}
}

// Detect отправляет кадр (JPEG) на детекцию с порогом уверенности
func (c *DetectorGRPCClient) Detect(ctx context.Context, frame []byte, confidence float64) ([]models.Detection, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(frame),
		"conf":  confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования запроса: %w", err)
	}

	var resp models.DetectorDetectResponse
	if err := c.invoke(ctx, detectMethod, req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("сервер модели вернул ошибку: %s", resp.Message)
	}
	return resp.Detections, nil
}

// Labels получает справочник классов модели
func (c *DetectorGRPCClient) Labels(ctx context.Context) (map[int]string, error) {
	var resp models.DetectorLabelsResponse
	if err := c.invoke(ctx, labelsMethod, &structpb.Struct{}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Names) == 0 {
		return nil, fmt.Errorf("сервер модели вернул пустой справочник классов")
	}
	return resp.Names, nil
}

// CheckHealth проверяет состояние сервера модели через grpc.health.v1
func (c *DetectorGRPCClient) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки здоровья gRPC сервера: %w", err)
	}

	serving := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	status := "healthy"
	if !serving {
		status = "unhealthy"
	}
	return &models.HealthResponse{Status: status, ModelLoaded: serving}, nil
}

// Close закрывает соединение
func (c *DetectorGRPCClient) Close() error {
	return c.conn.Close()
}

// invoke выполняет унарный вызов и переводит ответ Struct в out через JSON
func (c *DetectorGRPCClient) invoke(ctx context.Context, method string, req *structpb.Struct, out interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.logger.Debugf("gRPC вызов %s", method)
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return fmt.Errorf("ошибка gRPC вызова %s: %w", method, err)
	}

	raw, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("ошибка сериализации ответа: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ошибка парсинга ответа: %w", err)
	}
	return nil
}

func (c *DetectorGRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
