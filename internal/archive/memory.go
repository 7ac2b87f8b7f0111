package archive

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryBlobs struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]Object
}

func newMemoryBlobs(prefix string) *memoryBlobs {
	return &memoryBlobs{prefix: prefix, objects: make(map[string]Object)}
}

func (m *memoryBlobs) Put(_ context.Context, key string, payload []byte, contentType string, meta map[string]string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[withPrefix(m.prefix, key)] = Object{
		Key:          key,
		Data:         append([]byte(nil), payload...),
		ContentType:  contentType,
		Metadata:     copyMeta(meta),
		LastModified: time.Now().UTC(),
	}
	return nil
}

func (m *memoryBlobs) Get(_ context.Context, key string) (Object, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[withPrefix(m.prefix, key)]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Metadata = copyMeta(obj.Metadata)
	return obj, nil
}

func (m *memoryBlobs) Exists(_ context.Context, key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[withPrefix(m.prefix, key)]
	return ok, nil
}
