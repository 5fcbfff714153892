package board

import (
	"context"
	"sync"

	"board-sync/domain"
	"board-sync/invalidation"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task

	applied  [][]domain.PositionUpdate
	inserted []domain.Task
	updated  []domain.TaskPatch
	deleted  []string
	renumber [][]domain.PositionUpdate
	lists    int

	applyErr  error
	insertErr error
	updateErr error
	deleteErr error
	getErr    error
	listErr   error

	// beforeWrite runs at the start of every write, before it takes effect.
	beforeWrite func()
	// beforeList runs at the start of every listing, before the rows are read.
	beforeList func()
	// stamp is written to UpdatedAt of stored rows.
	stamp int64
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) hook() {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
}

func (f *fakeStore) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if f.beforeList != nil {
		f.beforeList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Task, 0, len(f.tasks))
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
	if f.getErr != nil {
		return nil, f.getErr
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t domain.Task) error {
	f.hook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.stamp != 0 {
		t.UpdatedAt = f.stamp
	}
	f.tasks[t.ID] = t
	f.inserted = append(f.inserted, t)
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error {
	f.hook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	t := patch.ApplyTo(f.tasks[taskID])
	if f.stamp != 0 {
		t.UpdatedAt = f.stamp
	}
	f.tasks[taskID] = t
	f.updated = append(f.updated, patch)
	return nil
}

func (f *fakeStore) ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error {
	f.hook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, updates)
	for _, u := range updates {
		t := f.tasks[u.TaskID]
		t.ColumnID = u.ColumnID
		t.Position = u.Position
		f.tasks[u.TaskID] = t
	}
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error {
	f.hook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.tasks, taskID)
	f.deleted = append(f.deleted, taskID)
	f.renumber = append(f.renumber, renumber)
	return nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied) + len(f.inserted) + len(f.updated) + len(f.deleted)
}

type fakeActivityLog struct {
	mu      sync.Mutex
	entries []domain.Activity
	err     error
}

func (l *fakeActivityLog) LogActivity(ctx context.Context, a domain.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, a)
	return nil
}

func (l *fakeActivityLog) all() []domain.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Activity(nil), l.entries...)
}

type invalidateCall struct {
	trigger string
	scope   string
	data    *invalidation.Data
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []invalidateCall
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, trigger, scopeID string, data *invalidation.Data) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invalidateCall{trigger: trigger, scope: scopeID, data: data})
}

func (f *fakeInvalidator) all() []invalidateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invalidateCall(nil), f.calls...)
}
