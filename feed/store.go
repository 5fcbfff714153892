package feed

import (
	"context"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

type publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type taskStore interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error
	ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error
	DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error
}

// PublishingStore announces every successful write on the change feed.
// Publish failures are logged; the write has already succeeded.
type PublishingStore struct {
	base taskStore
	pub  publisher
}

// NewPublishingStore wraps base.
func NewPublishingStore(base taskStore, pub publisher) *PublishingStore {
	return &PublishingStore{base: base, pub: pub}
}

func (s *PublishingStore) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return s.base.ListTasks(ctx, projectID)
}

func (s *PublishingStore) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	return s.base.GetTask(ctx, projectID, taskID)
}

func (s *PublishingStore) InsertTask(ctx context.Context, t domain.Task) error {
	if err := s.base.InsertTask(ctx, t); err != nil {
		return err
	}
	task := t.Clone()
	s.publish(ctx, domain.ChangeEvent{Type: domain.ChangeInsert, Entity: domain.EntityTask, ProjectID: t.ProjectID, EntityID: t.ID, Task: &task})
	return nil
}

// UpdateTask publishes the stored row after the merge, so subscribers get
// every field and not just the patch.
func (s *PublishingStore) UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error {
	if err := s.base.UpdateTask(ctx, projectID, taskID, patch); err != nil {
		return err
	}
	fresh, err := s.base.GetTask(ctx, projectID, taskID)
	if err != nil || fresh == nil {
		log.WithError(err).WithFields(log.Fields{"project": projectID, "task": taskID}).Warn("updated task not readable, change not published")
		return nil
	}
	s.publish(ctx, domain.ChangeEvent{Type: domain.ChangeUpdate, Entity: domain.EntityTask, ProjectID: projectID, EntityID: taskID, Task: fresh})
	return nil
}

func (s *PublishingStore) ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error {
	if err := s.base.ApplyPositions(ctx, projectID, updates); err != nil {
		return err
	}
	s.publishPositions(ctx, projectID, updates)
	return nil
}

func (s *PublishingStore) DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error {
	if err := s.base.DeleteTask(ctx, projectID, taskID, renumber); err != nil {
		return err
	}
	s.publish(ctx, domain.ChangeEvent{Type: domain.ChangeDelete, Entity: domain.EntityTask, ProjectID: projectID, EntityID: taskID})
	s.publishPositions(ctx, projectID, renumber)
	return nil
}

func (s *PublishingStore) publishPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) {
	for _, u := range updates {
		s.publish(ctx, domain.ChangeEvent{Type: domain.ChangeUpdate, Entity: domain.EntityTask, ProjectID: projectID, EntityID: u.TaskID, Position: &u})
	}
}

func (s *PublishingStore) publish(ctx context.Context, ev domain.ChangeEvent) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{"project": ev.ProjectID, "entity": ev.EntityID, "type": ev.Type}).Warn("failed to publish change")
	}
}

type activityLog interface {
	LogActivity(ctx context.Context, a domain.Activity) error
}

// PublishingActivityLog announces logged activity as an auxiliary change so
// other instances refresh their activity views.
type PublishingActivityLog struct {
	base activityLog
	pub  publisher
}

// NewPublishingActivityLog wraps base.
func NewPublishingActivityLog(base activityLog, pub publisher) *PublishingActivityLog {
	return &PublishingActivityLog{base: base, pub: pub}
}

func (l *PublishingActivityLog) LogActivity(ctx context.Context, a domain.Activity) error {
	if err := l.base.LogActivity(ctx, a); err != nil {
		return err
	}
	ev := domain.ChangeEvent{Type: domain.ChangeInsert, Entity: domain.EntityActivity, ProjectID: a.Context.ProjectID, EntityID: a.ID}
	if err := l.pub.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("activity", a.ID).Warn("failed to publish activity change")
	}
	return nil
}
