package api

import (
	"context"
	"errors"
	"sync"

	"board-sync/domain"
	"board-sync/subscription"
)

type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	applyErr error
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Task
	for _, t := range f.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[taskID] = patch.ApplyTo(f.tasks[taskID])
	return nil
}

func (f *fakeStore) ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	for _, u := range updates {
		t := f.tasks[u.TaskID]
		t.ColumnID = u.ColumnID
		t.Position = u.Position
		f.tasks[u.TaskID] = t
	}
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	for _, u := range renumber {
		t := f.tasks[u.TaskID]
		t.Position = u.Position
		f.tasks[u.TaskID] = t
	}
	return nil
}

type fakeReads struct {
	tasks  []domain.Task
	counts map[string]int
	err    error
}

func (f *fakeReads) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return f.tasks, f.err
}

func (f *fakeReads) ColumnCounts(ctx context.Context, projectID string) (map[string]int, error) {
	return f.counts, f.err
}

// fakeAuth accepts "Bearer a.b.<user>" headers.
type fakeAuth struct{}

func (fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	const prefix = "Bearer a.b."
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", errors.New("unauthorized")
	}
	return h[len(prefix):], nil
}

type streamHandle struct {
	onEvent  func(domain.ChangeEvent)
	onStatus func(subscription.Status, error)
	closed   chan struct{}
	once     sync.Once
}

func (h *streamHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

type fakeTransport struct {
	opened chan *streamHandle
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *streamHandle, 8)}
}

func (t *fakeTransport) Open(scope subscription.Scope, onEvent func(domain.ChangeEvent), onStatus func(subscription.Status, error)) (subscription.Handle, error) {
	h := &streamHandle{onEvent: onEvent, onStatus: onStatus, closed: make(chan struct{})}
	onStatus(subscription.StatusSubscribed, nil)
	t.opened <- h
	return h, nil
}
