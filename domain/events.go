package domain

// ChangeType is the row-level operation carried by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Entity names carried by change events. Anything other than EntityTask is
// auxiliary data for subscribers.
const (
	EntityColumn   = "column"
	EntityTag      = "tag"
	EntityComment  = "comment"
	EntityActivity = "activity"
	EntityProject  = "project"
)

// ChangeEvent is one message on the realtime change feed. A task insert or a
// full update carries Task; a position-only update carries Position.
type ChangeEvent struct {
	ID        string          `json:"id"`
	Type      ChangeType      `json:"type"`
	Entity    string          `json:"entity"`
	ProjectID string          `json:"projectId"`
	EntityID  string          `json:"entityId"`
	Task      *Task           `json:"task,omitempty"`
	Position  *PositionUpdate `json:"position,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Time      int64           `json:"time"`
}
