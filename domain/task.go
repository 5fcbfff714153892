package domain

// Task represents a single card on a project board. Within one column the
// Position values form a dense zero-based sequence.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"projectId"`
	ColumnID    string   `json:"columnId"`
	Position    int      `json:"position"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AssigneeID  string   `json:"assigneeId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}

// TaskPatch carries optional field changes for an update.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	AssigneeID  *string   `json:"assigneeId,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.AssigneeID == nil && p.Tags == nil
}

// ApplyTo returns a copy of t with the patch applied.
func (p TaskPatch) ApplyTo(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.AssigneeID != nil {
		out.AssigneeID = *p.AssigneeID
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	return out
}

// MoveRequest describes a drag of a task to DestIndex within DestColumnID.
type MoveRequest struct {
	TaskID         string `json:"taskId"`
	SourceColumnID string `json:"sourceColumnId"`
	DestColumnID   string `json:"destColumnId"`
	DestIndex      int    `json:"destIndex"`
}

// PositionUpdate is a single row-level ordering instruction.
type PositionUpdate struct {
	TaskID   string `json:"taskId"`
	ColumnID string `json:"columnId"`
	Position int    `json:"position"`
}
