package service

import (
	"errors"
	"testing"
	"time"

	"ecovision-go/internal/model"
	"ecovision-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunService(t *testing.T) (*RunService, *ArtifactStore) {
	t.Helper()
	artifacts := NewArtifactStore(time.Hour, 8, quietLogger())
	return NewRunService(newTestRepo(t), artifacts, quietLogger()), artifacts
}

func TestRunServiceSaveAndGet(t *testing.T) {
	svc, artifacts := newTestRunService(t)

	id := svc.GenerateRunID()
	require.NoError(t, svc.SaveRun(&model.DetectionRun{
		ID:         id,
		Mode:       model.ModeVideo,
		Filename:   "river.mp4",
		Confidence: 0.2,
		ModelTier:  TierCore,
		Status:     model.StatusSuccess,
		Width:      640,
		Height:     480,
		FPS:        29.97,
		FrameCount: 12,
		ClassCounts: []model.ClassCount{
			{ClassName: "can", Count: 2},
			{ClassName: "bottle", Count: 5},
		},
	}))
	artifacts.Put(id, []byte("mp4"))

	run, err := svc.GetRunByID(id)
	require.NoError(t, err)
	assert.Equal(t, "river.mp4", run.Filename)
	require.NotNil(t, run.Metadata)
	assert.InDelta(t, 29.97, run.Metadata.FPS, 1e-9)
	assert.Equal(t, 12, run.Metadata.FrameCount)
	require.Len(t, run.Counts, 2)
	assert.Equal(t, "bottle", run.Counts[0].Class)
	assert.Equal(t, DownloadURL(id), run.DownloadURL)
}

func TestRunServiceDownloadURLOnlyWhileArtifactExists(t *testing.T) {
	svc, _ := newTestRunService(t)

	id := svc.GenerateRunID()
	require.NoError(t, svc.SaveRun(&model.DetectionRun{ID: id, Mode: model.ModeVideo, Status: model.StatusSuccess, ModelTier: TierCore}))

	run, err := svc.GetRunByID(id)
	require.NoError(t, err)
	assert.Empty(t, run.DownloadURL)
}

func TestRunServiceDeleteEvictsArtifact(t *testing.T) {
	svc, artifacts := newTestRunService(t)

	id := svc.GenerateRunID()
	require.NoError(t, svc.SaveRun(&model.DetectionRun{ID: id, Mode: model.ModeVideo, Status: model.StatusSuccess, ModelTier: TierCore}))
	artifacts.Put(id, []byte("mp4"))

	require.NoError(t, svc.DeleteRun(id))
	assert.False(t, artifacts.Has(id))

	_, err := svc.GetRunByID(id)
	assert.True(t, errors.Is(err, repository.ErrRunNotFound))

	err = svc.DeleteRun(id)
	assert.True(t, errors.Is(err, repository.ErrRunNotFound))
}

func TestRunServiceListRuns(t *testing.T) {
	svc, _ := newTestRunService(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.SaveRun(&model.DetectionRun{
			ID: svc.GenerateRunID(), Mode: model.ModeImage, Status: model.StatusSuccess, ModelTier: TierCore,
		}))
	}

	runs, total, err := svc.ListRuns(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, runs, 2)
	assert.Nil(t, runs[0].Metadata)
}

func TestGenerateRunIDIsUnique(t *testing.T) {
	svc, _ := newTestRunService(t)
	assert.NotEqual(t, svc.GenerateRunID(), svc.GenerateRunID())
	assert.Len(t, svc.GenerateRunID(), 36)
}
