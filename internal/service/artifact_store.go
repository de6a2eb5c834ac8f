package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrArtifactNotFound обработанного видео нет или срок его хранения истек
var ErrArtifactNotFound = errors.New("processed video not found")

type artifact struct {
	data     []byte
	storedAt time.Time
}

// ArtifactStore держит обработанные видео в памяти до скачивания.
// Записи живут не дольше ttl, при переполнении вытесняется самая старая.
type ArtifactStore struct {
	mutex      sync.RWMutex
	entries    map[string]artifact
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *logrus.Logger
}

// NewArtifactStore создает хранилище обработанных видео
func NewArtifactStore(ttl time.Duration, maxEntries int, logger *logrus.Logger) *ArtifactStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &ArtifactStore{
		entries:    make(map[string]artifact),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
}

// Put сохраняет видео запуска runID
func (s *ArtifactStore) Put(runID string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[runID]; !exists {
		for len(s.entries) >= s.maxEntries {
			s.evictOldest()
		}
	}
	s.entries[runID] = artifact{data: data, storedAt: s.now()}
	s.logger.Debugf("Видео запуска %s сохранено (%d байт)", runID, len(data))
}

// Get возвращает видео запуска runID
func (s *ArtifactStore) Get(runID string) ([]byte, error) {
	s.mutex.RLock()
	entry, ok := s.entries[runID]
	s.mutex.RUnlock()

	if !ok || s.expired(entry) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrArtifactNotFound)
	}
	return entry.data, nil
}

// Has сообщает, можно ли скачать видео запуска runID
func (s *ArtifactStore) Has(runID string) bool {
	_, err := s.Get(runID)
	return err == nil
}

// Delete удаляет видео запуска runID
func (s *ArtifactStore) Delete(runID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, runID)
}

// Len возвращает количество записей, включая просроченные
func (s *ArtifactStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// Run периодически удаляет просроченные записи до отмены контекста
func (s *ArtifactStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Infof("Удалено %d просроченных видео", n)
			}
		}
	}
}

// Sweep удаляет просроченные записи и возвращает их количество
func (s *ArtifactStore) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for runID, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, runID)
			removed++
		}
	}
	return removed
}

func (s *ArtifactStore) expired(entry artifact) bool {
	return s.ttl > 0 && s.now().Sub(entry.storedAt) > s.ttl
}

// evictOldest вызывается под блокировкой
func (s *ArtifactStore) evictOldest() {
	var oldestID string
	var oldest time.Time
	for runID, entry := range s.entries {
		if oldestID == "" || entry.storedAt.Before(oldest) {
			oldestID, oldest = runID, entry.storedAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
		s.logger.Infof("Хранилище видео заполнено, вытесняем запуск %s", oldestID)
	}
}
