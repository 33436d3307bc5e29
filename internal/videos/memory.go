package videos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/safetrain/backend/internal/models"
)

// MemoryStore is an in-process Store for offline deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	videos map[string]*models.Video
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{videos: make(map[string]*models.Video), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	v.Status = models.VideoStatusProcessing
	v.CreatedAt, v.UpdatedAt = now, now
	cp := *v
	m.videos[v.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.Video, error) {
	m.mu.RLock()
	list := make([]models.Video, 0, len(m.videos))
	for _, v := range m.videos {
		list = append(list, *v)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *MemoryStore) MarkReady(_ context.Context, id string, u models.ReadyUpdate) error {
	if !u.Complete() {
		return ErrIncompleteKeys
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.processing(id)
	if err != nil {
		return err
	}
	v.Status = models.VideoStatusReady
	v.DurationSeconds = u.DurationSeconds
	v.ThumbnailKey = u.ThumbnailKey
	v.RenditionKeys = u.RenditionKeys
	v.PrimaryRenditionKey = u.RenditionKeys.High
	v.ProcessingError = ""
	v.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.processing(id)
	if err != nil {
		return err
	}
	v.Status = models.VideoStatusError
	v.ProcessingError = message
	v.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) IncrementViews(_ context.Context, id string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	v.ViewCount++
	cp := *v
	return &cp, nil
}

// processing must be called with mu held.
func (m *MemoryStore) processing(id string) (*models.Video, error) {
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Status != models.VideoStatusProcessing {
		return nil, ErrNotProcessing
	}
	return v, nil
}
