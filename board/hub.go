package board

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/invalidation"
	"board-sync/subscription"
)

// Loader reads the tasks of a project for the initial cache fill.
type Loader interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
}

// Session is the live board of one project: its cache, the controller
// mutating it and the subscription feeding remote changes into it.
type Session struct {
	Cache      *Cache
	Controller *Controller

	manager *subscription.Manager
	once    sync.Once
	err     error
}

// Connected reports whether the session receives remote changes.
func (s *Session) Connected() bool { return s.manager.IsConnected() }

// HubOptions configures a Hub.
type HubOptions struct {
	Controller Options
	// Loader fills new sessions; defaults to the store.
	Loader Loader
	// Origin is this instance's id on the change feed. Events it published
	// itself are not applied again.
	Origin string
}

// Hub owns one Session per project.
type Hub struct {
	store     Store
	transport subscription.Transport
	opts      HubOptions
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a hub. With a nil transport sessions never receive remote
// changes.
func NewHub(store Store, transport subscription.Transport, opts HubOptions) *Hub {
	if opts.Loader == nil {
		opts.Loader = store
	}
	logger := opts.Controller.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		store:     store,
		transport: transport,
		opts:      opts,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the loaded session of projectID, creating it on first use.
// The subscription is opened before the tasks are read so no change falls
// between the two.
func (h *Hub) Session(ctx context.Context, projectID string) (*Session, error) {
	if projectID == "" {
		return nil, &domain.InvalidArgumentError{Field: "project", Reason: "required"}
	}
	h.mu.Lock()
	s, ok := h.sessions[projectID]
	if !ok {
		s = h.newSession(projectID)
		h.sessions[projectID] = s
	}
	h.mu.Unlock()

	s.once.Do(func() {
		tasks, err := h.opts.Loader.ListTasks(ctx, projectID)
		if err != nil {
			s.err = err
			return
		}
		s.Cache.Load(tasks)
	})
	if s.err != nil {
		h.drop(projectID, s)
		return nil, s.err
	}
	return s, nil
}

func (h *Hub) newSession(projectID string) *Session {
	cache := NewCache(projectID)
	s := &Session{
		Cache:      cache,
		Controller: NewController(cache, h.store, h.opts.Controller),
	}
	s.manager = subscription.NewManager(h.transport, h.logger)
	if h.transport != nil {
		s.manager.Subscribe(subscription.Scope(projectID), h.callbacks(projectID, cache))
	}
	return s
}

func (h *Hub) callbacks(projectID string, cache *Cache) subscription.Callbacks {
	remote := func(fn func(domain.ChangeEvent)) func(domain.ChangeEvent) {
		return func(ev domain.ChangeEvent) {
			if h.opts.Origin != "" && ev.Origin == h.opts.Origin {
				return
			}
			fn(ev)
		}
	}
	cbs := cache.Callbacks()
	cbs.OnInsert = remote(cbs.OnInsert)
	cbs.OnUpdate = remote(cbs.OnUpdate)
	cbs.OnDelete = remote(cbs.OnDelete)
	cbs.OnAux = remote(func(ev domain.ChangeEvent) {
		inv := h.opts.Controller.Invalidator
		if inv == nil {
			return
		}
		if trigger, ok := invalidation.TriggerForEntity(ev.Entity); ok {
			inv.Invalidate(context.Background(), trigger, projectID, nil)
		}
	})
	return cbs
}

func (h *Hub) drop(projectID string, s *Session) {
	h.mu.Lock()
	if h.sessions[projectID] == s {
		delete(h.sessions, projectID)
	}
	h.mu.Unlock()
	s.manager.Unsubscribe()
}

// Resubscribe re-opens the change feed of sessions whose subscription was
// lost and reloads their cache. It returns the number of sessions repaired.
func (h *Hub) Resubscribe(ctx context.Context) int {
	if h.transport == nil {
		return 0
	}
	h.mu.Lock()
	var lost []*Session
	for _, s := range h.sessions {
		if s.manager.State() == subscription.Idle {
			lost = append(lost, s)
		}
	}
	h.mu.Unlock()

	for _, s := range lost {
		projectID := s.Cache.ProjectID()
		s.Cache.Suspend()
		s.manager.Subscribe(subscription.Scope(projectID), h.callbacks(projectID, s.Cache))
		tasks, err := h.opts.Loader.ListTasks(ctx, projectID)
		if err != nil {
			h.logger.WithError(err).WithField("project", projectID).Warn("reload after resubscribe failed")
			s.Cache.Resume()
			continue
		}
		s.Cache.Load(tasks)
	}
	return len(lost)
}

// Close unsubscribes every session and waits for pending activity writes.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.manager.Unsubscribe()
		s.Controller.Wait()
	}
}
