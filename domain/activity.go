package domain

// ActivityAction describes what happened to an entity.
type ActivityAction string

const (
	ActionCreate ActivityAction = "create"
	ActionUpdate ActivityAction = "update"
	ActionMove   ActivityAction = "move"
	ActionDelete ActivityAction = "delete"
)

// EntityTask is the only entity type the board controller logs.
const EntityTask = "task"

// TaskState is the subset of a task recorded in activity entries.
type TaskState struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ColumnID    string   `json:"columnId"`
	Position    int      `json:"position"`
	AssigneeID  string   `json:"assigneeId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// StateOf captures the loggable state of t.
func StateOf(t Task) *TaskState {
	return &TaskState{
		Title:       t.Title,
		Description: t.Description,
		ColumnID:    t.ColumnID,
		Position:    t.Position,
		AssigneeID:  t.AssigneeID,
		Tags:        append([]string(nil), t.Tags...),
	}
}

// ActivityContext carries who and where for an activity entry.
type ActivityContext struct {
	ProjectID string `json:"projectId"`
	ActorID   string `json:"actorId,omitempty"`
	// Moved lists the other tasks whose position changed alongside a move.
	Moved []PositionUpdate `json:"moved,omitempty"`
}

// Activity is one activity-log entry. Old is nil for creates, New is nil for
// deletes.
type Activity struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     ActivityAction  `json:"action"`
	Old        *TaskState      `json:"old,omitempty"`
	New        *TaskState      `json:"new,omitempty"`
	Context    ActivityContext `json:"context"`
	Timestamp  int64           `json:"timestamp"`
}
