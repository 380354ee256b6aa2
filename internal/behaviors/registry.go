// Package behaviors holds the webhook event handlers bound to event categories.
package behaviors

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/transform"
)

// ErrNoBehavior is returned for an event category without a registered behavior.
var ErrNoBehavior = errors.New("no behavior registered")

// Registry maps event categories to behavior factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.EventCategory]interfaces.BehaviorFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.EventCategory]interfaces.BehaviorFactory)}
}

// NewDefaultRegistry registers the merge request, issue and issue comment behaviors.
func NewDefaultRegistry(transformer *transform.Service, logger arbor.ILogger) *Registry {
	r := NewRegistry()
	r.Register(models.EventMergeRequest, func(deps interfaces.BehaviorDeps) interfaces.Behavior {
		return NewMergeRequestBehavior(deps, logger)
	})
	r.Register(models.EventIssue, func(deps interfaces.BehaviorDeps) interfaces.Behavior {
		return NewIssueBehavior(deps, transformer, logger)
	})
	r.Register(models.EventIssueComment, func(deps interfaces.BehaviorDeps) interfaces.Behavior {
		return NewCommentBehavior(deps, transformer, logger)
	})
	return r
}

// Register binds a factory to a category, replacing any previous one.
func (r *Registry) Register(category models.EventCategory, factory interfaces.BehaviorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[category] = factory
}

// Build constructs the behavior of category bound to deps.
func (r *Registry) Build(category models.EventCategory, deps interfaces.BehaviorDeps) (interfaces.Behavior, error) {
	r.mu.RLock()
	factory, ok := r.factories[category]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBehavior, category)
	}
	return factory(deps), nil
}

// ConnectionType is the project mapping type an event category resolves through.
func ConnectionType(category models.EventCategory) models.EntityConnectionType {
	if category == models.EventMergeRequest {
		return models.EntityConnectionPRAutomation
	}
	return models.EntityConnectionIssueSync
}
