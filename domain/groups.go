package domain

// Cached query groups. Each group is invalidated per project scope.
const (
	GroupTasks        = "tasks"
	GroupColumnCounts = "column-counts"
	GroupColumns      = "columns"
	GroupActivity     = "activity"
	GroupTags         = "tags"
	GroupComments     = "comments"
	GroupProjects     = "projects"
)
