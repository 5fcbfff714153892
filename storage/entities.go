package storage

import (
	"encoding/json"

	"board-sync/domain"
)

const edmInt64 = "Edm.Int64"

// entity represents base table entity keys.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row. PartitionKey is the project id, RowKey the task id.
type taskEntity struct {
	entity
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	AssigneeID    string `json:"AssigneeId,omitempty"`
	Tags          string `json:"Tags,omitempty"`
	ColumnID      string `json:"ColumnId"`
	Position      int    `json:"Position"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// positionEntity is merged into an existing row to move it.
type positionEntity struct {
	entity
	ColumnID      string `json:"ColumnId"`
	Position      int    `json:"Position"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// patchEntity carries partial field updates.
type patchEntity struct {
	entity
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	AssigneeID    *string `json:"AssigneeId,omitempty"`
	Tags          *string `json:"Tags,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func newTaskEntity(t domain.Task, updatedAt int64) (taskEntity, error) {
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return taskEntity{}, err
	}
	return taskEntity{
		entity:        entity{PartitionKey: t.ProjectID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		AssigneeID:    t.AssigneeID,
		Tags:          tags,
		ColumnID:      t.ColumnID,
		Position:      t.Position,
		UpdatedAt:     updatedAt,
		UpdatedAtType: edmInt64,
	}, nil
}

func newPatchEntity(projectID, taskID string, p domain.TaskPatch, updatedAt int64) (patchEntity, error) {
	ent := patchEntity{
		entity:        entity{PartitionKey: projectID, RowKey: taskID},
		Title:         p.Title,
		Description:   p.Description,
		AssigneeID:    p.AssigneeID,
		UpdatedAt:     updatedAt,
		UpdatedAtType: edmInt64,
	}
	if p.Tags != nil {
		tags, err := encodeTags(*p.Tags)
		if err != nil {
			return patchEntity{}, err
		}
		ent.Tags = &tags
	}
	return ent, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	tags, err := decodeTags(ent.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		ProjectID:   ent.PartitionKey,
		ColumnID:    ent.ColumnID,
		Position:    ent.Position,
		Title:       ent.Title,
		Description: ent.Description,
		AssigneeID:  ent.AssigneeID,
		Tags:        tags,
		UpdatedAt:   ent.UpdatedAt,
	}, nil
}
