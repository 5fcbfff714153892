package subscription

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Scope selects which project's changes a subscription receives.
type Scope string

// AllScope subscribes to every project.
const AllScope Scope = "*"

// State is the lifecycle state of a Manager.
type State int

const (
	Idle State = iota
	Transitioning
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transitioning:
		return "transitioning"
	case Active:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is reported by a transport about one subscription.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed-out"
	StatusClosed     Status = "closed"
)

// Terminal reports whether the subscription is gone after this status.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusTimedOut || s == StatusClosed
}

// Callbacks receive routed change events. Nil callbacks are skipped.
type Callbacks struct {
	OnInsert func(domain.ChangeEvent)
	OnUpdate func(domain.ChangeEvent)
	OnDelete func(domain.ChangeEvent)
	OnAux    func(domain.ChangeEvent)
}

// Handle is a live transport subscription.
type Handle interface {
	Close() error
}

// Transport opens change feed subscriptions. Open must not wait for the
// subscription to be confirmed; confirmation and later failures arrive
// through onStatus, possibly before Open returns.
type Transport interface {
	Open(scope Scope, onEvent func(domain.ChangeEvent), onStatus func(Status, error)) (Handle, error)
}

// Manager keeps at most one live subscription and routes its events to the
// registered callbacks.
type Manager struct {
	transport Transport
	logger    *log.Logger

	// lifecycle serializes Subscribe and Unsubscribe.
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	scope       Scope
	callbacks   Callbacks
	handle      Handle
	gen         uint64
	connected   bool
	tearingDown bool
	lastErr     error
}

// NewManager creates an idle manager on top of transport.
func NewManager(transport Transport, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{transport: transport, logger: logger}
}

// Subscribe makes scope the active subscription and cbs the callback set.
// For the scope already subscribed (or being subscribed) only the callbacks
// are swapped. Setup failures are never returned; they show up as
// IsConnected() == false and Err().
func (m *Manager) Subscribe(scope Scope, cbs Callbacks) {
	if m.swapCallbacks(scope, cbs) {
		return
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.swapCallbacks(scope, cbs) {
		return
	}
	m.teardown()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = Transitioning
	m.scope = scope
	m.callbacks = cbs
	m.connected = false
	m.lastErr = nil
	m.mu.Unlock()

	h, err := m.transport.Open(scope,
		func(ev domain.ChangeEvent) { m.dispatch(gen, ev) },
		func(st Status, err error) { m.onStatus(gen, st, err) },
	)

	m.mu.Lock()
	if err != nil {
		if gen == m.gen {
			m.detachLocked(fmt.Errorf("%w: open %s: %v", domain.ErrSubscription, scope, err))
		}
		m.mu.Unlock()
		m.logger.WithError(err).WithField("scope", scope).Error("change feed subscribe failed")
		return
	}
	if gen != m.gen {
		// A terminal status arrived while opening.
		m.mu.Unlock()
		closeHandle(m.logger, h)
		return
	}
	m.handle = h
	m.mu.Unlock()
}

// Unsubscribe tears down the live subscription and clears scope and
// callbacks. Calling it on an idle manager does nothing.
func (m *Manager) Unsubscribe() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.teardown()
}

// IsConnected reports whether the transport confirmed the current subscription.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Scope returns the current scope, empty when idle.
func (m *Manager) Scope() Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// Err returns the cause of the last terminal status, wrapping
// domain.ErrSubscription, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) swapCallbacks(scope Scope, cbs Callbacks) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle || m.scope != scope {
		return false
	}
	m.callbacks = cbs
	return true
}

func (m *Manager) teardown() {
	m.mu.Lock()
	if m.tearingDown {
		m.mu.Unlock()
		return
	}
	m.tearingDown = true
	h := m.detachLocked(nil)
	m.mu.Unlock()

	closeHandle(m.logger, h)

	m.mu.Lock()
	m.tearingDown = false
	m.mu.Unlock()
}

// detachLocked resets the manager to Idle and returns the handle to close.
// Bumping gen makes callbacks of the old handle no-ops.
func (m *Manager) detachLocked(cause error) Handle {
	h := m.handle
	m.handle = nil
	m.state = Idle
	m.scope = ""
	m.callbacks = Callbacks{}
	m.connected = false
	m.lastErr = cause
	m.gen++
	return h
}

func (m *Manager) onStatus(gen uint64, st Status, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if st == StatusSubscribed {
		if m.state == Transitioning {
			m.state = Active
			m.connected = true
		}
		scope := m.scope
		m.mu.Unlock()
		m.logger.WithField("scope", scope).Debug("change feed subscribed")
		return
	}
	if !st.Terminal() {
		m.mu.Unlock()
		return
	}
	scope := m.scope
	cause := fmt.Errorf("%w: %s", domain.ErrSubscription, st)
	if err != nil {
		cause = fmt.Errorf("%w: %s: %v", domain.ErrSubscription, st, err)
	}
	m.tearingDown = true
	h := m.detachLocked(cause)
	m.mu.Unlock()

	m.logger.WithError(err).WithFields(log.Fields{"scope": scope, "status": st}).Warn("change feed subscription ended")
	closeHandle(m.logger, h)

	m.mu.Lock()
	m.tearingDown = false
	m.mu.Unlock()
}

func (m *Manager) dispatch(gen uint64, ev domain.ChangeEvent) {
	m.mu.Lock()
	if gen != m.gen || m.state == Idle {
		m.mu.Unlock()
		return
	}
	cbs := m.callbacks
	scope := m.scope
	m.mu.Unlock()

	cat, ok := Categorize(ev)
	if !ok {
		m.logger.WithFields(log.Fields{"entity": ev.Entity, "type": ev.Type}).Debug("dropping unroutable change event")
		return
	}
	if (cat == ItemInserted || cat == ItemUpdated) && !InScope(scope, ev) {
		return
	}
	var fn func(domain.ChangeEvent)
	switch cat {
	case ItemInserted:
		fn = cbs.OnInsert
	case ItemUpdated:
		fn = cbs.OnUpdate
	case ItemDeleted:
		fn = cbs.OnDelete
	case AuxChanged:
		fn = cbs.OnAux
	}
	if fn != nil {
		fn(ev)
	}
}

func closeHandle(logger *log.Logger, h Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		logger.WithError(err).Warn("closing change feed subscription")
	}
}
