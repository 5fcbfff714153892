package board

import (
	"sort"
	"sync"

	"board-sync/domain"
	"board-sync/subscription"
)

// Snapshot is a deep copy of a project's cached tasks, taken before an
// optimistic mutation and used only to roll it back.
type Snapshot struct {
	tasks map[string]domain.Task
}

// Len returns the number of tasks in the snapshot.
func (s Snapshot) Len() int { return len(s.tasks) }

// Cache is the in-memory board of one project. Every method runs under the
// cache lock for its whole duration and never performs I/O.
type Cache struct {
	projectID string

	mu     sync.RWMutex
	tasks  map[string]domain.Task
	loaded bool
	// pending holds changes received while the cache is not loaded.
	pending []domain.ChangeEvent
}

// NewCache creates an empty cache for projectID.
func NewCache(projectID string) *Cache {
	return &Cache{projectID: projectID, tasks: make(map[string]domain.Task)}
}

// ProjectID returns the project the cache holds.
func (c *Cache) ProjectID() string { return c.projectID }

// Load replaces the cached tasks. Tasks of other projects are ignored.
func (c *Cache) Load(tasks []domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if t.ProjectID != "" && t.ProjectID != c.projectID {
			continue
		}
		t = t.Clone()
		t.ProjectID = c.projectID
		c.tasks[t.ID] = t
	}
	c.replayLocked()
}

func (c *Cache) replayLocked() {
	c.loaded = true
	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		c.applyChangeLocked(ev)
	}
}

// Suspend buffers incoming changes until the next Load or Resume.
func (c *Cache) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
}

// Resume applies the changes buffered since Suspend to the current tasks.
func (c *Cache) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayLocked()
}

// Loaded reports whether the cache holds a load and is applying changes.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Items returns a copy of the cached tasks ordered by column and position.
func (c *Cache) Items() []domain.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.itemsLocked()
}

func (c *Cache) itemsLocked() []domain.Task {
	out := make([]domain.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ColumnID != out[j].ColumnID {
			return out[i].ColumnID < out[j].ColumnID
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a cached task.
func (c *Cache) Get(id string) (domain.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// Snapshot captures the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cache) snapshotLocked() Snapshot {
	tasks := make(map[string]domain.Task, len(c.tasks))
	for id, t := range c.tasks {
		tasks[id] = t.Clone()
	}
	return Snapshot{tasks: tasks}
}

// Restore puts back exactly the state captured by s.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]domain.Task, len(s.tasks))
	for id, t := range s.tasks {
		c.tasks[id] = t.Clone()
	}
}

// Mutate runs fn on the ordered items as one step. When fn returns a
// non-nil slice it becomes the new cache content. The returned snapshot is
// the state before fn ran.
func (c *Cache) Mutate(fn func(items []domain.Task) ([]domain.Task, error)) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshotLocked()
	next, err := fn(c.itemsLocked())
	if err != nil {
		return snap, err
	}
	if next != nil {
		c.tasks = make(map[string]domain.Task, len(next))
		for _, t := range next {
			c.tasks[t.ID] = t.Clone()
		}
	}
	return snap, nil
}

// Upsert stores t, replacing any cached row with the same id.
func (c *Cache) Upsert(t domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[t.ID] = t.Clone()
}

// Remove drops a task. It reports whether the task was cached.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[id]; !ok {
		return false
	}
	delete(c.tasks, id)
	return true
}

// ApplyPositions sets column and position of the cached tasks named in
// updates. Unknown ids are skipped.
func (c *Cache) ApplyPositions(updates []domain.PositionUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyPositionsLocked(updates)
}

func (c *Cache) applyPositionsLocked(updates []domain.PositionUpdate) {
	for _, u := range updates {
		t, ok := c.tasks[u.TaskID]
		if !ok {
			continue
		}
		t.ColumnID = u.ColumnID
		t.Position = u.Position
		c.tasks[u.TaskID] = t
	}
}

// ApplyChange folds a task change event into the cache. Changes received
// before the first Load, or while suspended, are replayed on top of the
// next Load.
func (c *Cache) ApplyChange(ev domain.ChangeEvent) {
	if ev.Entity != domain.EntityTask {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.pending = append(c.pending, ev)
		return
	}
	c.applyChangeLocked(ev)
}

func (c *Cache) applyChangeLocked(ev domain.ChangeEvent) {
	switch ev.Type {
	case domain.ChangeInsert, domain.ChangeUpdate:
		if ev.Task != nil {
			if ev.Task.ProjectID != c.projectID {
				return
			}
			c.tasks[ev.Task.ID] = ev.Task.Clone()
			return
		}
		if ev.Position != nil && ev.ProjectID == c.projectID {
			c.applyPositionsLocked([]domain.PositionUpdate{*ev.Position})
		}
	case domain.ChangeDelete:
		// Deletes carry no project; relevance is decided by id.
		delete(c.tasks, ev.EntityID)
	}
}

// Callbacks routes subscription events into the cache.
func (c *Cache) Callbacks() subscription.Callbacks {
	return subscription.Callbacks{
		OnInsert: c.ApplyChange,
		OnUpdate: c.ApplyChange,
		OnDelete: c.ApplyChange,
	}
}
