package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ecovision-go/internal/repository"
	"ecovision-go/internal/service"
	"ecovision-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeDetectionService struct {
	imageCalls int
	videoCalls int
	lastImage  service.ImageRequest
	lastVideo  service.VideoRequest
	err        error
	health     *models.HealthResponse
}

func (f *fakeDetectionService) DetectImage(_ context.Context, req service.ImageRequest) (*models.ImageDetectResponse, error) {
	f.imageCalls++
	f.lastImage = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.ImageDetectResponse{
		RunID:  "run-img",
		Status: "success",
		Counts: []models.ClassCountRow{{Class: "bottle", Count: 3}},
	}, nil
}

func (f *fakeDetectionService) DetectVideo(_ context.Context, req service.VideoRequest) (*models.VideoDetectResponse, error) {
	f.videoCalls++
	f.lastVideo = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.VideoDetectResponse{
		RunID:       "run-vid",
		Status:      "success",
		FrameCount:  5,
		DownloadURL: service.DownloadURL("run-vid"),
	}, nil
}

func (f *fakeDetectionService) CheckHealth(context.Context) (*models.HealthResponse, error) {
	return f.health, nil
}

func newDetectRouter(svc *fakeDetectionService) *gin.Engine {
	router := gin.New()
	NewDetectHandler(svc, 0.2, 1, quietLogger()).RegisterRoutes(router)
	return router
}

func multipartBody(t *testing.T, field, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func doUpload(t *testing.T, router *gin.Engine, path, field, filename string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, filename, []byte("payload"), fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDetectImageWithoutFileDoesNotInvokeDetector(t *testing.T) {
	svc := &fakeDetectionService{}
	router := newDetectRouter(svc)

	rec := doUpload(t, router, "/api/v1/detect/image", "", "", map[string]string{"confidence": "0.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please upload an image first!", decodeBody(t, rec)["error"])

	// запрос совсем без формы
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect/image", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, svc.imageCalls)
}

func TestDetectVideoWithoutFile(t *testing.T) {
	svc := &fakeDetectionService{}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/video", "", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please upload a video first!", decodeBody(t, rec)["error"])
	assert.Zero(t, svc.videoCalls)
}

func TestDetectImageDefaults(t *testing.T) {
	svc := &fakeDetectionService{}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/image", "image", "beach.JPG", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.imageCalls)
	assert.InDelta(t, 0.2, svc.lastImage.Confidence, 1e-9)
	assert.Equal(t, service.TierCore, svc.lastImage.ModelTier)
	assert.Equal(t, []byte("payload"), svc.lastImage.Data)
	assert.Equal(t, "beach.JPG", svc.lastImage.Filename)

	body := decodeBody(t, rec)
	assert.Equal(t, "run-img", body["run_id"])
	assert.NotContains(t, body, "notice")
}

func TestDetectImageConfidenceValidation(t *testing.T) {
	for _, value := range []string{"-0.1", "1.01", "abc", "NaN"} {
		t.Run(value, func(t *testing.T) {
			svc := &fakeDetectionService{}
			rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/image", "image", "a.png",
				map[string]string{"confidence": value})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, svc.imageCalls)
		})
	}

	svc := &fakeDetectionService{}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/image", "image", "a.png",
		map[string]string{"confidence": "1", "run_id": " 5F0C1B2A-3D4E-4F60-8A9B-0C1D2E3F4A5B "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0, svc.lastImage.Confidence, 1e-9)
	assert.Equal(t, "5f0c1b2a-3d4e-4f60-8a9b-0c1d2e3f4a5b", svc.lastImage.RunID)
}

func TestDetectRejectsMalformedRunID(t *testing.T) {
	for _, value := range []string{"shared", "../etc", strings.Repeat("a", 64)} {
		svc := &fakeDetectionService{}
		rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/video", "video", "river.mp4",
			map[string]string{"run_id": value})
		assert.Equal(t, http.StatusBadRequest, rec.Code, value)
		assert.Zero(t, svc.videoCalls, value)
	}
}

func TestDetectReusedRunIDConflicts(t *testing.T) {
	svc := &fakeDetectionService{err: fmt.Errorf("run x: %w", service.ErrRunExists)}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/video", "video", "b.mp4",
		map[string]string{"run_id": "5f0c1b2a-3d4e-4f60-8a9b-0c1d2e3f4a5b"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "run_id already exists", body["error"])
	assert.NotContains(t, body, "download_url")

	rec = doUpload(t, newDetectRouter(svc), "/api/v1/detect/image", "image", "a.png", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDetectProTierFallsBackToCore(t *testing.T) {
	svc := &fakeDetectionService{}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/video", "video", "river.mp4",
		map[string]string{"model": "Pro"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.TierCore, svc.lastVideo.ModelTier)

	body := decodeBody(t, rec)
	assert.Equal(t, ProNotice, body["notice"])
	assert.Equal(t, "/api/v1/runs/run-vid/video", body["download_url"])
}

func TestDetectUnknownTierAndFormat(t *testing.T) {
	svc := &fakeDetectionService{}
	router := newDetectRouter(svc)

	rec := doUpload(t, router, "/api/v1/detect/image", "image", "a.png", map[string]string{"model": "ultra"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doUpload(t, router, "/api/v1/detect/image", "image", "a.gif", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doUpload(t, router, "/api/v1/detect/video", "video", "clip.mkv", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, svc.imageCalls+svc.videoCalls)
}

func TestDetectFailureReturnsDetails(t *testing.T) {
	svc := &fakeDetectionService{err: errors.New("video contains no decodable frames")}
	rec := doUpload(t, newDetectRouter(svc), "/api/v1/detect/video", "video", "empty.mp4", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "An error occurred while processing the video.", body["error"])
	assert.Equal(t, "video contains no decodable frames", body["details"])
	assert.NotContains(t, body, "download_url")
}

func TestDetectRejectsOversizedUpload(t *testing.T) {
	svc := &fakeDetectionService{}
	router := newDetectRouter(svc)

	body, contentType := multipartBody(t, "image", "big.png", bytes.Repeat([]byte{1}, 2<<20), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect/image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, svc.imageCalls)
}

func TestHealthCheck(t *testing.T) {
	svc := &fakeDetectionService{health: &models.HealthResponse{Status: "healthy", ModelLoaded: true}}
	rec := httptest.NewRecorder()
	newDetectRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.health = &models.HealthResponse{Status: "unhealthy"}
	rec = httptest.NewRecorder()
	newDetectRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeRunStore struct {
	runs    map[string]service.RunResponse
	videos  map[string][]byte
	deleted []string
}

func (f *fakeRunStore) ListRuns(page, pageSize int) ([]service.RunResponse, int64, error) {
	out := make([]service.RunResponse, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRunStore) GetRunByID(runID string) (*service.RunResponse, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("failed to get run: %w", repository.ErrRunNotFound)
	}
	return &r, nil
}

func (f *fakeRunStore) DeleteRun(runID string) error {
	if _, ok := f.runs[runID]; !ok {
		return fmt.Errorf("failed to delete run: %w", repository.ErrRunNotFound)
	}
	delete(f.runs, runID)
	f.deleted = append(f.deleted, runID)
	return nil
}

func (f *fakeRunStore) GetVideo(runID string) ([]byte, error) {
	v, ok := f.videos[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, service.ErrArtifactNotFound)
	}
	return v, nil
}

type fakeStream struct{ runID string }

func (f *fakeStream) Serve(w http.ResponseWriter, _ *http.Request, runID string) {
	f.runID = runID
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func newRunRouter(store *fakeRunStore, stream *fakeStream) *gin.Engine {
	router := gin.New()
	NewRunHandler(store, stream, quietLogger()).RegisterRoutes(router)
	return router
}

func TestRunEndpoints(t *testing.T) {
	store := &fakeRunStore{
		runs:   map[string]service.RunResponse{"r1": {ID: "r1", Mode: "video"}},
		videos: map[string][]byte{"r1": []byte("mp4-bytes")},
	}
	router := newRunRouter(store, &fakeStream{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?page=0&size=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list service.ListRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 10, list.Size)
	assert.Equal(t, int64(1), list.Total)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/runs/r1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r1"}, store.deleted)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/runs/r1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunVideoDownload(t *testing.T) {
	store := &fakeRunStore{videos: map[string][]byte{"r1": []byte("mp4-bytes")}}
	router := newRunRouter(store, &fakeStream{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/video", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="processed_video.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "mp4-bytes", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/gone/video", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressRouteUsesRunID(t *testing.T) {
	stream := &fakeStream{}
	router := newRunRouter(&fakeRunStore{}, stream)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc/progress", nil))
	assert.Equal(t, "abc", stream.runID)
}
