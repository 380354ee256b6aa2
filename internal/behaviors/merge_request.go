package behaviors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/transform"
)

// workItemRefPattern matches work item identifiers such as WEB-42.
var workItemRefPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9}-[0-9]+)\b`)

// MergeRequestBehavior links a merge request to the work items it references
// when it is opened, commenting the links back on the merge request. Every
// lifecycle event moves those work items through the project's state mapping.
type MergeRequestBehavior struct {
	deps   interfaces.BehaviorDeps
	logger arbor.ILogger
}

func NewMergeRequestBehavior(deps interfaces.BehaviorDeps, logger arbor.ILogger) *MergeRequestBehavior {
	return &MergeRequestBehavior{deps: deps, logger: logger}
}

func (b *MergeRequestBehavior) HandleEvent(ctx context.Context, event models.NormalizedEvent) error {
	e := event.Event
	refs := referencedIdentifiers(e.Title, e.Body, strings.ToUpper(e.Extra["source_branch"]))
	if len(refs) == 0 {
		b.logger.Debug().
			Str("repo", e.Repo().FullName()).
			Int("number", event.Number).
			Msg("Merge request references no work items")
		return nil
	}

	var errs []error
	var linked []string
	for _, ref := range refs {
		ok, err := b.apply(ctx, event, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ref, err))
			continue
		}
		if ok {
			linked = append(linked, ref)
		}
	}

	if event.Action == "opened" && len(linked) > 0 {
		body := "Linked to " + strings.Join(linked, ", ")
		if err := b.deps.Provider.CommentOnMergeRequest(ctx, e.Repo(), event.Number, body); err != nil {
			errs = append(errs, fmt.Errorf("comment back: %w", err))
		}
	}

	b.logger.Info().
		Str("repo", e.Repo().FullName()).
		Int("number", event.Number).
		Str("action", event.Action).
		Strs("linked", linked).
		Msg("Merge request event handled")

	return errors.Join(errs...)
}

// apply links one referenced work item and moves its state. ok is false when
// the reference does not resolve to a work item of a connected project.
func (b *MergeRequestBehavior) apply(ctx context.Context, event models.NormalizedEvent, ref string) (bool, error) {
	item, err := b.deps.Internal.GetWorkItemByIdentifier(ctx, ref)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	project := b.projectOf(item)
	if project == nil {
		b.logger.Debug().Str("ref", ref).Str("project_id", item.ProjectID).Msg("Work item belongs to an unconnected project")
		return false, nil
	}

	// The link is added once per merge request; later lifecycle events only move state
	if event.Action == "opened" {
		e := event.Event
		link := models.WorkItemLink{
			Title: fmt.Sprintf("%s #%d: %s", e.Repo().FullName(), event.Number, e.Title),
			URL:   e.URL,
		}
		if err := b.deps.Internal.AddWorkItemLink(ctx, project.ProjectID, item.ID, link); err != nil {
			return false, err
		}
	}

	state := transform.MapState(project.Config.StateMapping, b.stateKey(event))
	if state != "" && state != item.State {
		if _, err := b.deps.Internal.UpdateWorkItem(ctx, project.ProjectID, item.ID, &models.WorkItem{State: state}); err != nil {
			return true, err
		}
	}
	return true, nil
}

// stateKey folds draft merge requests into their own mapping key.
func (b *MergeRequestBehavior) stateKey(event models.NormalizedEvent) string {
	if event.Action == "opened" && event.Event.Extra["draft"] == "true" {
		return "draft_opened"
	}
	return event.Action
}

// projectOf returns the connected project mapping of a work item, falling back
// to the mapping the event resolved through when the item carries no project.
func (b *MergeRequestBehavior) projectOf(item *models.WorkItem) *models.EntityConnection {
	if item.ProjectID == "" {
		return b.deps.EntityConnection
	}
	if b.deps.EntityConnection != nil && b.deps.EntityConnection.ProjectID == item.ProjectID {
		return b.deps.EntityConnection
	}
	for _, p := range b.deps.Projects {
		if p.ProjectID == item.ProjectID {
			return p
		}
	}
	return nil
}

// referencedIdentifiers returns the distinct identifiers found in texts, sorted.
func referencedIdentifiers(texts ...string) []string {
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, m := range workItemRefPattern.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
