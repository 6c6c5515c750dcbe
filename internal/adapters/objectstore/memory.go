package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pantrykeep/mealimages/internal/domain"
)

// memory is an in-process store for local development
type memory struct {
	publicURL string
	bucket    string

	lock    sync.RWMutex
	objects map[string][]byte
}

func NewMemory(publicURL string, bucket string) *memory {
	return &memory{
		publicURL: strings.TrimRight(publicURL, "/"),
		bucket:    bucket,
		objects:   make(map[string][]byte),
	}
}

func (m *memory) List(ctx context.Context, pattern string) ([]domain.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	objects := []domain.StoredObject{}
	for name := range m.objects {
		if strings.Contains(name, pattern) {
			objects = append(objects, domain.StoredObject{Name: name})
		}
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})
	return objects, nil
}

func (m *memory) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.objects[filename] = append([]byte{}, data...)
	return nil
}

func (m *memory) PublicURL(filename string) string {
	return fmt.Sprintf("%s/%s/%s", m.publicURL, m.bucket, filename)
}

// ServeHTTP serves stored objects by the last path segment, so public URLs resolve in development
func (m *memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := path.Base(r.URL.Path)

	m.lock.RLock()
	data, ok := m.objects[filename]
	m.lock.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}
