package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
	"board-sync/invalidation"
)

const tracerName = "board-sync/board"

// Store is the durable task store.
type Store interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error
	ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error
	DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error
}

// ActivityLog records one entry per successful mutation.
type ActivityLog interface {
	LogActivity(ctx context.Context, a domain.Activity) error
}

// Invalidator refreshes cached query groups after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, trigger, scopeID string, data *invalidation.Data)
}

// Options configures a Controller. Every field is optional.
type Options struct {
	Activity    ActivityLog
	Invalidator Invalidator
	// Classify maps store errors to a failure kind.
	Classify        func(error) domain.FailureKind
	Logger          *log.Logger
	ActivityTimeout time.Duration
}

// Controller applies board mutations optimistically to a Cache, persists
// them and rolls the cache back when persisting fails.
type Controller struct {
	cache           *Cache
	store           Store
	activity        ActivityLog
	invalidator     Invalidator
	classify        func(error) domain.FailureKind
	logger          *log.Logger
	activityTimeout time.Duration
	now             func() time.Time
	newID           func() string

	pending sync.WaitGroup
}

// NewController creates a controller for the project held by cache.
func NewController(cache *Cache, store Store, opts Options) *Controller {
	c := &Controller{
		cache:           cache,
		store:           store,
		activity:        opts.Activity,
		invalidator:     opts.Invalidator,
		classify:        opts.Classify,
		logger:          opts.Logger,
		activityTimeout: opts.ActivityTimeout,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	if c.classify == nil {
		c.classify = defaultClassify
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.activityTimeout <= 0 {
		c.activityTimeout = 10 * time.Second
	}
	return c
}

func defaultClassify(err error) domain.FailureKind {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.KindUnknown
}

// ProjectID returns the project the controller mutates.
func (c *Controller) ProjectID() string { return c.cache.ProjectID() }

// Wait blocks until pending activity writes have finished.
func (c *Controller) Wait() { c.pending.Wait() }

func (c *Controller) startSpan(ctx context.Context, name, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("board.project", c.ProjectID()),
		attribute.String("board.task", taskID),
	))
}

// MoveTask moves a task to DestIndex of DestColumnID. The cache shows the
// move before the store is written; on a store failure the cache is
// restored and a *domain.PersistenceError is returned.
func (c *Controller) MoveTask(ctx context.Context, req domain.MoveRequest) error {
	ctx, span := c.startSpan(ctx, "board.move", req.TaskID)
	defer span.End()

	if strings.TrimSpace(req.TaskID) == "" {
		return c.reject(span, &domain.InvalidArgumentError{Field: "taskId", Reason: "required"})
	}
	if strings.TrimSpace(req.SourceColumnID) == "" {
		return c.reject(span, &domain.InvalidArgumentError{Field: "sourceColumnId", Reason: "required"})
	}
	if strings.TrimSpace(req.DestColumnID) == "" {
		return c.reject(span, &domain.InvalidArgumentError{Field: "destColumnId", Reason: "required"})
	}

	var (
		updates []domain.PositionUpdate
		before  domain.Task
	)
	snap, err := c.cache.Mutate(func(items []domain.Task) ([]domain.Task, error) {
		t, ok := findTask(items, req.TaskID)
		if !ok {
			return nil, &domain.NotFoundError{TaskID: req.TaskID}
		}
		before = t
		ups, err := domain.ComputeReorder(items, req.TaskID, req.DestColumnID, req.DestIndex)
		if err != nil {
			return nil, err
		}
		updates = ups
		if len(ups) == 0 {
			return nil, nil
		}
		return domain.ApplyPositions(items, ups), nil
	})
	if err != nil {
		return c.reject(span, err)
	}
	if before.ColumnID != req.SourceColumnID {
		c.logger.WithFields(log.Fields{
			"project":  c.ProjectID(),
			"task":     req.TaskID,
			"expected": req.SourceColumnID,
			"stored":   before.ColumnID,
		}).Warn("move source column differs from stored column")
	}
	span.SetAttributes(attribute.Int("board.updates", len(updates)))
	if len(updates) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := c.store.ApplyPositions(ctx, c.ProjectID(), updates); err != nil {
		return c.rollback(span, snap, "move", req.TaskID, err)
	}

	after := before
	var others []domain.PositionUpdate
	for _, u := range updates {
		if u.TaskID == req.TaskID {
			after.ColumnID = u.ColumnID
			after.Position = u.Position
			continue
		}
		others = append(others, u)
	}
	c.logActivity(ctx, domain.ActionMove, req.TaskID, domain.StateOf(before), domain.StateOf(after), others)
	c.invalidate(ctx, invalidation.TriggerTaskMove, &invalidation.Data{Task: &after, ColumnChanged: before.ColumnID != after.ColumnID})
	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateTask appends a new task to the end of its column.
func (c *Controller) CreateTask(ctx context.Context, in domain.Task) (domain.Task, error) {
	if in.ID == "" {
		in.ID = c.newID()
	}
	ctx, span := c.startSpan(ctx, "board.create", in.ID)
	defer span.End()

	if strings.TrimSpace(in.Title) == "" {
		return domain.Task{}, c.reject(span, &domain.InvalidArgumentError{Field: "title", Reason: "required"})
	}
	if strings.TrimSpace(in.ColumnID) == "" {
		return domain.Task{}, c.reject(span, &domain.InvalidArgumentError{Field: "columnId", Reason: "required"})
	}

	task := in.Clone()
	task.ProjectID = c.ProjectID()
	task.UpdatedAt = c.now().UnixMilli()
	snap, err := c.cache.Mutate(func(items []domain.Task) ([]domain.Task, error) {
		if _, exists := findTask(items, task.ID); exists {
			return nil, &domain.InvalidArgumentError{Field: "id", Reason: "already exists"}
		}
		task.Position = domain.NextPosition(items, task.ColumnID)
		return append(items, task), nil
	})
	if err != nil {
		return domain.Task{}, c.reject(span, err)
	}

	if err := c.store.InsertTask(ctx, task); err != nil {
		return domain.Task{}, c.rollback(span, snap, "create", task.ID, err)
	}
	task = c.reconcile(ctx, task)

	c.logActivity(ctx, domain.ActionCreate, task.ID, nil, domain.StateOf(task), nil)
	c.invalidate(ctx, invalidation.TriggerTaskCreate, &invalidation.Data{Task: &task})
	span.SetStatus(codes.Ok, "")
	return task, nil
}

// UpdateTask applies patch to a task's fields. Position changes go through
// MoveTask.
func (c *Controller) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	ctx, span := c.startSpan(ctx, "board.update", taskID)
	defer span.End()

	if strings.TrimSpace(taskID) == "" {
		return domain.Task{}, c.reject(span, &domain.InvalidArgumentError{Field: "taskId", Reason: "required"})
	}
	if patch.Empty() {
		return domain.Task{}, c.reject(span, &domain.InvalidArgumentError{Field: "patch", Reason: "no fields to update"})
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Task{}, c.reject(span, &domain.InvalidArgumentError{Field: "title", Reason: "must not be empty"})
	}

	var before, after domain.Task
	snap, err := c.cache.Mutate(func(items []domain.Task) ([]domain.Task, error) {
		for i, t := range items {
			if t.ID != taskID {
				continue
			}
			before = t
			after = patch.ApplyTo(t)
			after.UpdatedAt = c.now().UnixMilli()
			items[i] = after
			return items, nil
		}
		return nil, &domain.NotFoundError{TaskID: taskID}
	})
	if err != nil {
		return domain.Task{}, c.reject(span, err)
	}

	if err := c.store.UpdateTask(ctx, c.ProjectID(), taskID, patch); err != nil {
		return domain.Task{}, c.rollback(span, snap, "update", taskID, err)
	}
	after = c.reconcile(ctx, after)

	c.logActivity(ctx, domain.ActionUpdate, taskID, domain.StateOf(before), domain.StateOf(after), nil)
	c.invalidate(ctx, invalidation.TriggerTaskUpdate, &invalidation.Data{Task: &after, TagsChanged: patch.Tags != nil})
	span.SetStatus(codes.Ok, "")
	return after, nil
}

// DeleteTask removes a task and closes the gap it leaves in its column.
func (c *Controller) DeleteTask(ctx context.Context, taskID string) error {
	ctx, span := c.startSpan(ctx, "board.delete", taskID)
	defer span.End()

	if strings.TrimSpace(taskID) == "" {
		return c.reject(span, &domain.InvalidArgumentError{Field: "taskId", Reason: "required"})
	}

	var (
		before   domain.Task
		renumber []domain.PositionUpdate
	)
	snap, err := c.cache.Mutate(func(items []domain.Task) ([]domain.Task, error) {
		t, ok := findTask(items, taskID)
		if !ok {
			return nil, &domain.NotFoundError{TaskID: taskID}
		}
		before = t
		ups, err := domain.RenumberAfterRemoval(items, taskID)
		if err != nil {
			return nil, err
		}
		renumber = ups
		rest := make([]domain.Task, 0, len(items)-1)
		for _, it := range items {
			if it.ID != taskID {
				rest = append(rest, it)
			}
		}
		return domain.ApplyPositions(rest, ups), nil
	})
	if err != nil {
		return c.reject(span, err)
	}

	if err := c.store.DeleteTask(ctx, c.ProjectID(), taskID, renumber); err != nil {
		return c.rollback(span, snap, "delete", taskID, err)
	}

	c.logActivity(ctx, domain.ActionDelete, taskID, domain.StateOf(before), nil, renumber)
	c.invalidate(ctx, invalidation.TriggerTaskDelete, &invalidation.Data{Task: &before})
	span.SetStatus(codes.Ok, "")
	return nil
}

// reconcile replaces the optimistic row with the stored one. A failed read
// keeps the optimistic row; the write itself succeeded.
func (c *Controller) reconcile(ctx context.Context, optimistic domain.Task) domain.Task {
	fresh, err := c.store.GetTask(ctx, c.ProjectID(), optimistic.ID)
	if err != nil || fresh == nil {
		c.logger.WithError(err).WithFields(log.Fields{"project": c.ProjectID(), "task": optimistic.ID}).Warn("unable to read back task after write")
		return optimistic
	}
	c.cache.Upsert(*fresh)
	return *fresh
}

func (c *Controller) reject(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Controller) rollback(span trace.Span, snap Snapshot, op, taskID string, err error) error {
	c.cache.Restore(snap)

	var pe *domain.PersistenceError
	if !errors.As(err, &pe) {
		pe = &domain.PersistenceError{Kind: c.classify(err), Op: op, Err: err}
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.Bool("board.rollback", true),
		attribute.String("board.failure_kind", string(pe.Kind)),
	)
	span.SetStatus(codes.Error, pe.Error())
	c.logger.WithError(err).WithFields(log.Fields{
		"project": c.ProjectID(),
		"task":    taskID,
		"op":      op,
		"kind":    pe.Kind,
	}).Warn("persisting board change failed, rolled back")
	return pe
}

// logActivity writes the activity entry in the background. Failures are
// only logged.
func (c *Controller) logActivity(ctx context.Context, action domain.ActivityAction, taskID string, prev, next *domain.TaskState, moved []domain.PositionUpdate) {
	if c.activity == nil {
		return
	}
	entry := domain.Activity{
		ID:         c.newID(),
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Action:     action,
		Old:        prev,
		New:        next,
		Context:    domain.ActivityContext{ProjectID: c.ProjectID(), ActorID: ActorFromContext(ctx), Moved: moved},
		Timestamp:  c.now().UnixMilli(),
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.activityTimeout)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer cancel()
		if err := c.activity.LogActivity(actx, entry); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"project": c.ProjectID(),
				"task":    taskID,
				"action":  action,
			}).Warn("failed to log activity")
		}
	}()
}

func (c *Controller) invalidate(ctx context.Context, trigger string, data *invalidation.Data) {
	if c.invalidator == nil {
		return
	}
	c.invalidator.Invalidate(ctx, trigger, c.ProjectID(), data)
}

func findTask(items []domain.Task, id string) (domain.Task, bool) {
	for _, t := range items {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

type actorKey struct{}

// WithActor attaches the acting user to ctx for activity entries.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the acting user set by WithActor.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
