package subscription

import "board-sync/domain"

// Category is the logical kind of a change event.
type Category string

const (
	ItemInserted Category = "item-inserted"
	ItemUpdated  Category = "item-updated"
	ItemDeleted  Category = "item-deleted"
	AuxChanged   Category = "auxiliary-data-changed"
)

// Categorize maps a change event to its category. Task events with an
// unknown change type are not routable.
func Categorize(ev domain.ChangeEvent) (Category, bool) {
	if ev.Entity != domain.EntityTask {
		return AuxChanged, true
	}
	switch ev.Type {
	case domain.ChangeInsert:
		return ItemInserted, true
	case domain.ChangeUpdate:
		return ItemUpdated, true
	case domain.ChangeDelete:
		return ItemDeleted, true
	}
	return "", false
}

// InScope reports whether ev belongs to scope.
func InScope(scope Scope, ev domain.ChangeEvent) bool {
	return scope == AllScope || ev.ProjectID == string(scope)
}
