package invalidation

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCooldown coalesces bursts of identical invalidations.
	DefaultCooldown = time.Second

	historyTTL    = time.Hour
	pruneInterval = time.Minute
	historyLimit  = 4096
)

// Invalidator evicts one cached query group for a scope.
type Invalidator interface {
	InvalidateGroup(ctx context.Context, group, scopeID string) error
}

// Router maps triggers to the cached query groups they make stale.
type Router struct {
	rules    []Rule
	target   Invalidator
	cooldown time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu        sync.Mutex
	history   map[string]time.Time
	lastPrune time.Time
}

// NewRouter creates a router over rules. A non-positive cooldown selects
// DefaultCooldown.
func NewRouter(rules []Rule, target Invalidator, cooldown time.Duration, logger *log.Logger) *Router {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Router{
		rules:    rules,
		target:   target,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
		history:  make(map[string]time.Time),
	}
}

// Invalidate evicts every group named by the rules matching trigger, except
// for rules that fired for the same scope within the cooldown. Group
// failures are logged and do not stop the other groups.
func (r *Router) Invalidate(ctx context.Context, trigger, scopeID string, data *Data) {
	groups := r.due(trigger, scopeID, data)
	if len(groups) == 0 {
		return
	}

	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			if err := r.target.InvalidateGroup(ctx, group, scopeID); err != nil {
				r.logger.WithError(err).WithFields(log.Fields{
					"trigger": trigger,
					"group":   group,
					"scope":   scopeID,
				}).Warn("cache group invalidation failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// due records the rules that fire now and returns their distinct groups.
func (r *Router) due(trigger, scopeID string, data *Data) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	var groups []string
	seen := make(map[string]bool)
	for _, rule := range r.rules {
		if rule.Trigger != trigger {
			continue
		}
		if rule.Condition != nil && !rule.Condition(data) {
			continue
		}
		key := rule.Name + "|" + scopeID
		if last, ok := r.history[key]; ok && now.Sub(last) < r.cooldown {
			r.logger.WithFields(log.Fields{"rule": rule.Name, "scope": scopeID}).Debug("invalidation within cooldown")
			continue
		}
		r.history[key] = now
		for _, group := range rule.Groups {
			if !seen[group] {
				seen[group] = true
				groups = append(groups, group)
			}
		}
	}
	return groups
}

func (r *Router) pruneLocked(now time.Time) {
	if now.Sub(r.lastPrune) < pruneInterval && len(r.history) < historyLimit {
		return
	}
	r.lastPrune = now
	for key, at := range r.history {
		if now.Sub(at) > historyTTL {
			delete(r.history, key)
		}
	}
	if len(r.history) < historyLimit {
		return
	}
	// Entries older than the cooldown no longer suppress anything.
	for key, at := range r.history {
		if now.Sub(at) >= r.cooldown {
			delete(r.history, key)
		}
	}
}

// HistorySize returns the number of remembered (rule, scope) pairs.
func (r *Router) HistorySize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
