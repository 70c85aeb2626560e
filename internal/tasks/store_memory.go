package tasks

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is a process-local task store with sequential numeric ids.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[string]Task
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) List(context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, remoteID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[strings.TrimSpace(remoteID)]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, task Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := storedFields(task)
	stored.RemoteID = strconv.FormatInt(s.nextID, 10)
	s.tasks[stored.RemoteID] = stored
	s.order = append(s.order, stored.RemoteID)
	return stored.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, remoteID string, patch Patch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteID = strings.TrimSpace(remoteID)
	t, ok := s.tasks[remoteID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	patch.Apply(&t)
	s.tasks[remoteID] = t
	return t.Clone(), nil
}

func (s *MemoryStore) Complete(ctx context.Context, remoteID string) (Task, error) {
	done := true
	return s.Update(ctx, remoteID, Patch{Completed: &done})
}

func (s *MemoryStore) Delete(_ context.Context, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteID = strings.TrimSpace(remoteID)
	if _, ok := s.tasks[remoteID]; !ok {
		return ErrStoreNotFound
	}
	delete(s.tasks, remoteID)
	for i, id := range s.order {
		if id == remoteID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// storedFields keeps only what a remote store persists.
func storedFields(t Task) Task {
	return Task{
		RemoteID:    t.RemoteID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     cloneTime(t.DueDate),
		Completed:   t.Completed,
	}
}
