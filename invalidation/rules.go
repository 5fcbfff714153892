package invalidation

import "board-sync/domain"

// Triggers raised by mutations and by auxiliary change events.
const (
	TriggerTaskCreate    = "task:create"
	TriggerTaskUpdate    = "task:update"
	TriggerTaskDelete    = "task:delete"
	TriggerTaskMove      = "task:move"
	TriggerActivity      = "activity:create"
	TriggerColumnChange  = "column:change"
	TriggerTagChange     = "tag:change"
	TriggerCommentChange = "comment:change"
	TriggerProjectChange = "project:change"
)

// Data describes the mutation behind a trigger. Conditions must accept nil.
type Data struct {
	Task          *domain.Task
	ColumnChanged bool
	TagsChanged   bool
}

// Rule invalidates Groups whenever Trigger fires and Condition, if set,
// holds. Name identifies the rule for cooldown purposes.
type Rule struct {
	Name      string
	Trigger   string
	Groups    []string
	Condition func(*Data) bool
}

func columnChanged(d *Data) bool { return d != nil && d.ColumnChanged }

func tagsChanged(d *Data) bool { return d != nil && d.TagsChanged }

// DefaultRules is the static rule table of the board.
var DefaultRules = []Rule{
	{Name: "tasks-on-create", Trigger: TriggerTaskCreate, Groups: []string{domain.GroupTasks, domain.GroupColumnCounts}},
	{Name: "tasks-on-update", Trigger: TriggerTaskUpdate, Groups: []string{domain.GroupTasks}},
	{Name: "tags-on-update", Trigger: TriggerTaskUpdate, Groups: []string{domain.GroupTags}, Condition: tagsChanged},
	{Name: "tasks-on-delete", Trigger: TriggerTaskDelete, Groups: []string{domain.GroupTasks, domain.GroupColumnCounts}},
	{Name: "tasks-on-move", Trigger: TriggerTaskMove, Groups: []string{domain.GroupTasks}},
	{Name: "counts-on-move", Trigger: TriggerTaskMove, Groups: []string{domain.GroupColumnCounts}, Condition: columnChanged},

	{Name: "activity-on-create", Trigger: TriggerTaskCreate, Groups: []string{domain.GroupActivity}},
	{Name: "activity-on-update", Trigger: TriggerTaskUpdate, Groups: []string{domain.GroupActivity}},
	{Name: "activity-on-delete", Trigger: TriggerTaskDelete, Groups: []string{domain.GroupActivity}},
	{Name: "activity-on-move", Trigger: TriggerTaskMove, Groups: []string{domain.GroupActivity}},
	{Name: "activity-on-feed", Trigger: TriggerActivity, Groups: []string{domain.GroupActivity}},

	{Name: "columns-on-change", Trigger: TriggerColumnChange, Groups: []string{domain.GroupColumns, domain.GroupColumnCounts, domain.GroupTasks}},
	{Name: "tags-on-change", Trigger: TriggerTagChange, Groups: []string{domain.GroupTags, domain.GroupTasks}},
	{Name: "comments-on-change", Trigger: TriggerCommentChange, Groups: []string{domain.GroupComments}},
	{Name: "projects-on-change", Trigger: TriggerProjectChange, Groups: []string{domain.GroupProjects}},
}

// TriggerForEntity returns the trigger raised by an auxiliary change of entity.
func TriggerForEntity(entity string) (string, bool) {
	switch entity {
	case domain.EntityActivity:
		return TriggerActivity, true
	case domain.EntityColumn:
		return TriggerColumnChange, true
	case domain.EntityTag:
		return TriggerTagChange, true
	case domain.EntityComment:
		return TriggerCommentChange, true
	case domain.EntityProject:
		return TriggerProjectChange, true
	}
	return "", false
}
