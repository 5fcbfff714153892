package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// maxTransactionActions is the entity group transaction limit of the table service.
const maxTransactionActions = 100

// Capabilities records what the backing table service supports. It is
// negotiated once by Probe.
type Capabilities struct {
	Transactions bool
}

// Storage provides access to the task table.
type Storage struct {
	taskTable *aztables.Client
	caps      Capabilities
	now       func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		caps:      Capabilities{Transactions: true},
		now:       time.Now,
	}, nil
}

// Capabilities returns the negotiated capabilities.
func (s *Storage) Capabilities() Capabilities { return s.caps }

func odataQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (s *Storage) list(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].ColumnID != tasks[j].ColumnID {
			return tasks[i].ColumnID < tasks[j].ColumnID
		}
		return tasks[i].Position < tasks[j].Position
	})
	return tasks, nil
}

// ListTasks retrieves all tasks of a project ordered by column and position.
func (s *Storage) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return s.list(ctx, "PartitionKey eq "+odataQuote(projectID))
}

// ListColumn retrieves the tasks of one column ordered by ascending position.
func (s *Storage) ListColumn(ctx context.Context, projectID, columnID string) ([]domain.Task, error) {
	return s.list(ctx, "PartitionKey eq "+odataQuote(projectID)+" and ColumnId eq "+odataQuote(columnID))
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, projectID, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, persistenceError("get", err)
	}
	t, err := decodeTaskEntity(ent.Value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTask adds a new task row.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := newTaskEntity(t, s.now().UnixMilli())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return persistenceError("insert", err)
	}
	return nil
}

// UpdateTask merges patch into an existing task row.
func (s *Storage) UpdateTask(ctx context.Context, projectID, taskID string, patch domain.TaskPatch) error {
	ent, err := newPatchEntity(projectID, taskID, patch, s.now().UnixMilli())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return persistenceError("update", err)
	}
	return nil
}

// ApplyPositions writes a batch of position updates. With transaction
// support each chunk of up to maxTransactionActions rows is applied
// atomically; otherwise rows are merged one by one.
func (s *Storage) ApplyPositions(ctx context.Context, projectID string, updates []domain.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	actions, err := positionActions(projectID, updates, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if err := s.submit(ctx, actions); err != nil {
		return persistenceError("apply positions", err)
	}
	return nil
}

// DeleteTask removes a task and renumbers the rest of its column in the same batch.
func (s *Storage) DeleteTask(ctx context.Context, projectID, taskID string, renumber []domain.PositionUpdate) error {
	key, err := json.Marshal(entity{PartitionKey: projectID, RowKey: taskID})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeDelete, Entity: key, IfMatch: &et}}
	rest, err := positionActions(projectID, renumber, s.now().UnixMilli())
	if err != nil {
		return err
	}
	actions = append(actions, rest...)
	if err := s.submit(ctx, actions); err != nil {
		return persistenceError("delete", err)
	}
	return nil
}

func positionActions(projectID string, updates []domain.PositionUpdate, updatedAt int64) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(updates))
	for _, u := range updates {
		payload, err := json.Marshal(positionEntity{
			entity:        entity{PartitionKey: projectID, RowKey: u.TaskID},
			ColumnID:      u.ColumnID,
			Position:      u.Position,
			UpdatedAt:     updatedAt,
			UpdatedAtType: edmInt64,
		})
		if err != nil {
			return nil, err
		}
		et := azcore.ETagAny
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et})
	}
	return actions, nil
}

func chunkActions(actions []aztables.TransactionAction, size int) [][]aztables.TransactionAction {
	var chunks [][]aztables.TransactionAction
	for len(actions) > size {
		chunks = append(chunks, actions[:size])
		actions = actions[size:]
	}
	if len(actions) > 0 {
		chunks = append(chunks, actions)
	}
	return chunks
}

func (s *Storage) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	if !s.caps.Transactions {
		return s.submitSequential(ctx, actions)
	}
	chunks := chunkActions(actions, maxTransactionActions)
	for i, chunk := range chunks {
		if _, err := s.taskTable.SubmitTransaction(ctx, chunk, nil); err != nil {
			if i > 0 {
				log.WithError(err).WithFields(log.Fields{"chunk": i, "chunks": len(chunks)}).Error("transaction chunk failed after earlier chunks committed")
			}
			return err
		}
	}
	return nil
}

func (s *Storage) submitSequential(ctx context.Context, actions []aztables.TransactionAction) error {
	for _, a := range actions {
		switch a.ActionType {
		case aztables.TransactionTypeDelete:
			var key entity
			if err := json.Unmarshal(a.Entity, &key); err != nil {
				return err
			}
			if _, err := s.taskTable.DeleteEntity(ctx, key.PartitionKey, key.RowKey, &aztables.DeleteEntityOptions{IfMatch: a.IfMatch}); err != nil {
				return err
			}
		default:
			if _, err := s.taskTable.UpdateEntity(ctx, a.Entity, &aztables.UpdateEntityOptions{IfMatch: a.IfMatch, UpdateMode: aztables.UpdateModeMerge}); err != nil {
				return err
			}
		}
	}
	return nil
}
