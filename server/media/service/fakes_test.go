package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"media_server/server/common/infra/object"
	"media_server/server/media/domain"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memoryObjects) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memoryObjects) Size(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return 0, object.ErrNotFound
	}
	return int64(len(data)), nil
}

func (s *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return data, nil
}

type memoryRecords struct {
	mu        sync.Mutex
	nextID    int64
	byMediaID map[string]domain.MediaRecord
	createErr error
	updateErr error
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{byMediaID: map[string]domain.MediaRecord{}}
}

func (r *memoryRecords) Create(_ context.Context, record domain.MediaRecord) (domain.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return domain.MediaRecord{}, r.createErr
	}
	r.nextID++
	record.ID = r.nextID
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	r.byMediaID[record.MediaID] = record
	return record, nil
}

func (r *memoryRecords) UpdateStatus(_ context.Context, mediaID, status string) (domain.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return domain.MediaRecord{}, r.updateErr
	}
	record, ok := r.byMediaID[mediaID]
	if !ok {
		return domain.MediaRecord{}, domain.ErrRecordNotFound
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	r.byMediaID[mediaID] = record
	return record, nil
}

func (r *memoryRecords) GetByMediaID(_ context.Context, mediaID string) (domain.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byMediaID[mediaID]
	if !ok {
		return domain.MediaRecord{}, domain.ErrRecordNotFound
	}
	return record, nil
}

func (r *memoryRecords) ListByUser(_ context.Context, userID int32, page, limit int) ([]domain.MediaRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := make([]domain.MediaRecord, 0)
	for _, record := range r.byMediaID {
		if record.UserID == userID {
			owned = append(owned, record)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	numPages := (int64(len(owned)) + int64(limit) - 1) / int64(limit)
	start := (page - 1) * limit
	if start >= len(owned) {
		return []domain.MediaRecord{}, numPages, nil
	}
	end := start + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], numPages, nil
}

type sentEvent struct {
	routingKey string
	payload    any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentEvent{routingKey: routingKey, payload: payload})
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates map[int32][]domain.StatusUpdate
	err     error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{updates: map[int32][]domain.StatusUpdate{}}
}

func (n *recordingNotifier) PublishStatus(_ context.Context, userID int32, update domain.StatusUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.updates[userID] = append(n.updates[userID], update)
	return nil
}

// topicMatches implements AMQP topic matching: '*' is one word, '#' zero or more.
func topicMatches(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
