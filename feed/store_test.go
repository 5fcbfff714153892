package feed

import (
	"context"
	"errors"
	"testing"

	"board-sync/domain"
)

type fakePublisher struct {
	events []domain.ChangeEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type fakeStore struct {
	tasks map[string]domain.Task
	err   error
}

func (s *fakeStore) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, s.err
}

func (s *fakeStore) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeStore) InsertTask(ctx context.Context, t domain.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error {
	if s.err != nil {
		return s.err
	}
	s.tasks[taskID] = patch.ApplyTo(s.tasks[taskID])
	return nil
}

func (s *fakeStore) ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error {
	return s.err
}

func (s *fakeStore) DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error {
	if s.err != nil {
		return s.err
	}
	delete(s.tasks, taskID)
	return nil
}

func TestPublishingStoreInsertPublishesTask(t *testing.T) {
	pub := &fakePublisher{}
	s := NewPublishingStore(&fakeStore{tasks: map[string]domain.Task{}}, pub)

	if err := s.InsertTask(context.Background(), domain.Task{ID: "t1", ProjectID: "p1", ColumnID: "todo", Title: "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != domain.ChangeInsert || ev.Entity != domain.EntityTask || ev.Task == nil || ev.Task.Title != "a" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPublishingStoreUpdatePublishesFreshRow(t *testing.T) {
	pub := &fakePublisher{}
	base := &fakeStore{tasks: map[string]domain.Task{"t1": {ID: "t1", ProjectID: "p1", Title: "old", Description: "keep"}}}
	s := NewPublishingStore(base, pub)

	title := "new"
	if err := s.UpdateTask(context.Background(), "p1", "t1", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Task == nil {
		t.Fatalf("expected one full-row event, got %+v", pub.events)
	}
	if got := pub.events[0].Task; got.Title != "new" || got.Description != "keep" {
		t.Fatalf("unexpected published row: %+v", got)
	}
}

func TestPublishingStoreApplyPositions(t *testing.T) {
	pub := &fakePublisher{}
	s := NewPublishingStore(&fakeStore{}, pub)
	updates := []domain.PositionUpdate{{TaskID: "a", ColumnID: "todo", Position: 0}, {TaskID: "b", ColumnID: "todo", Position: 1}}

	if err := s.ApplyPositions(context.Background(), "p1", updates); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	for i, ev := range pub.events {
		if ev.Type != domain.ChangeUpdate || ev.Position == nil || *ev.Position != updates[i] || ev.Task != nil {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
}

func TestPublishingStoreDeletePublishesRemovalAndRenumber(t *testing.T) {
	pub := &fakePublisher{}
	s := NewPublishingStore(&fakeStore{tasks: map[string]domain.Task{"a": {ID: "a"}}}, pub)

	if err := s.DeleteTask(context.Background(), "p1", "a", []domain.PositionUpdate{{TaskID: "b", ColumnID: "todo", Position: 0}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(pub.events) != 2 || pub.events[0].Type != domain.ChangeDelete || pub.events[1].Position == nil {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestPublishingStoreFailedWritePublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	boom := errors.New("boom")
	s := NewPublishingStore(&fakeStore{err: boom}, pub)

	if err := s.ApplyPositions(context.Background(), "p1", []domain.PositionUpdate{{TaskID: "a"}}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("failed writes must not be published")
	}
}

func TestPublishingStorePublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	s := NewPublishingStore(&fakeStore{tasks: map[string]domain.Task{}}, pub)

	if err := s.InsertTask(context.Background(), domain.Task{ID: "t1", ProjectID: "p1"}); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}

type fakeActivityLog struct {
	entries []domain.Activity
	err     error
}

func (l *fakeActivityLog) LogActivity(ctx context.Context, a domain.Activity) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, a)
	return nil
}

func TestPublishingActivityLog(t *testing.T) {
	pub := &fakePublisher{}
	base := &fakeActivityLog{}
	l := NewPublishingActivityLog(base, pub)

	a := domain.Activity{ID: "a1", Context: domain.ActivityContext{ProjectID: "p1"}}
	if err := l.LogActivity(context.Background(), a); err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(base.entries) != 1 || len(pub.events) != 1 {
		t.Fatalf("expected entry and event, got %d %d", len(base.entries), len(pub.events))
	}
	if ev := pub.events[0]; ev.Entity != domain.EntityActivity || ev.ProjectID != "p1" || ev.EntityID != "a1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	base.err = errors.New("queue down")
	if err := l.LogActivity(context.Background(), a); err == nil {
		t.Fatalf("expected queue error")
	}
	if len(pub.events) != 1 {
		t.Fatalf("failed activity must not be published")
	}
}
