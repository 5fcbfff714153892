package domain

import "sort"

// ColumnOrder returns the tasks of columnID sorted by stored position. Tasks
// sharing a position keep their relative input order.
func ColumnOrder(all []Task, columnID string) []Task {
	return columnOrderExcluding(all, columnID, "")
}

func columnOrderExcluding(all []Task, columnID, excludeID string) []Task {
	out := make([]Task, 0, len(all))
	for _, t := range all {
		if t.ColumnID != columnID || (excludeID != "" && t.ID == excludeID) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func findTask(all []Task, id string) (Task, bool) {
	for _, t := range all {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func clampIndex(idx, length int) int {
	if idx < 0 {
		return 0
	}
	if idx > length {
		return length
	}
	return idx
}

func insertAt(list []Task, idx int, t Task) []Task {
	list = append(list, Task{})
	copy(list[idx+1:], list[idx:])
	list[idx] = t
	return list
}

// ComputeReorder returns the position updates that move taskID to destIndex
// within destColumnID while keeping both affected columns densely numbered.
//
// For a move inside one column only rows whose index changed are returned, so
// dropping a task in place yields no updates. For a move across columns the
// source remainder is renumbered the same way and every row of the
// destination column is returned, the moved task carrying its new column.
// The result order is unspecified.
func ComputeReorder(all []Task, taskID, destColumnID string, destIndex int) ([]PositionUpdate, error) {
	moved, ok := findTask(all, taskID)
	if !ok {
		return nil, &NotFoundError{TaskID: taskID}
	}

	if moved.ColumnID == destColumnID {
		list := columnOrderExcluding(all, destColumnID, moved.ID)
		list = insertAt(list, clampIndex(destIndex, len(list)), moved)
		return changedPositions(list, destColumnID), nil
	}

	updates := changedPositions(columnOrderExcluding(all, moved.ColumnID, moved.ID), moved.ColumnID)

	dest := columnOrderExcluding(all, destColumnID, moved.ID)
	dest = insertAt(dest, clampIndex(destIndex, len(dest)), moved)
	for i, t := range dest {
		updates = append(updates, PositionUpdate{TaskID: t.ID, ColumnID: destColumnID, Position: i})
	}
	return updates, nil
}

// RenumberAfterRemoval returns the updates that close the gap left in a
// column once taskID is removed from it.
func RenumberAfterRemoval(all []Task, taskID string) ([]PositionUpdate, error) {
	removed, ok := findTask(all, taskID)
	if !ok {
		return nil, &NotFoundError{TaskID: taskID}
	}
	return changedPositions(columnOrderExcluding(all, removed.ColumnID, removed.ID), removed.ColumnID), nil
}

// NextPosition is the append slot of a densely numbered column.
func NextPosition(all []Task, columnID string) int {
	n := 0
	for _, t := range all {
		if t.ColumnID == columnID {
			n++
		}
	}
	return n
}

// ApplyPositions returns a copy of all with the updates applied. Updates for
// unknown tasks are ignored.
func ApplyPositions(all []Task, updates []PositionUpdate) []Task {
	byID := make(map[string]PositionUpdate, len(updates))
	for _, u := range updates {
		byID[u.TaskID] = u
	}
	out := make([]Task, len(all))
	for i, t := range all {
		out[i] = t.Clone()
		if u, ok := byID[t.ID]; ok {
			out[i].ColumnID = u.ColumnID
			out[i].Position = u.Position
		}
	}
	return out
}

func changedPositions(list []Task, columnID string) []PositionUpdate {
	var updates []PositionUpdate
	for i, t := range list {
		if t.Position != i || t.ColumnID != columnID {
			updates = append(updates, PositionUpdate{TaskID: t.ID, ColumnID: columnID, Position: i})
		}
	}
	return updates
}
