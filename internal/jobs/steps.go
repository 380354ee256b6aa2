package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/tracksync/internal/internalapi"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/transform"
)

// IssueImport holds the step functions of the issue import pipeline.
type IssueImport struct {
	transformer *transform.Service
	maxPages    int
}

// NewIssueImport creates the issue import steps. maxPages bounds a pull when
// the job config does not set its own limit, 0 means unbounded.
func NewIssueImport(transformer *transform.Service, maxPages int) *IssueImport {
	return &IssueImport{transformer: transformer, maxPages: maxPages}
}

// Pipeline returns the pull, transform, push transition table.
func (s *IssueImport) Pipeline() *Pipeline {
	return &Pipeline{
		JobType: models.JobTypeIssueImport,
		Order:   []models.StepID{models.StepPull, models.StepTransform, models.StepPush},
		Steps: map[models.StepID]StepFunc{
			models.StepPull:      s.Pull,
			models.StepTransform: s.Transform,
			models.StepPush:      s.Push,
		},
	}
}

// DecodeImportConfig reads the provider config of an issue import job.
func DecodeImportConfig(job *models.Job) (models.ImportConfig, error) {
	var cfg models.ImportConfig
	if len(job.Config) == 0 {
		return cfg, fmt.Errorf("job %s has no import config", job.ID)
	}
	if err := json.Unmarshal(job.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid import config for job %s: %w", job.ID, err)
	}
	return cfg, nil
}

// Pull pages through the repository issues and asks for the result to be batched.
func (s *IssueImport) Pull(ctx context.Context, sc *StepContext, _ models.StepPayload) (StepResult, error) {
	cfg, err := DecodeImportConfig(sc.Job)
	if err != nil {
		return StepResult{}, err
	}
	repo := cfg.Repo()

	maxPages := s.maxPages
	if cfg.MaxPages > 0 {
		maxPages = cfg.MaxPages
	}

	var entities []json.RawMessage
	pages := 0
	for page := 1; page != 0; pages++ {
		if maxPages > 0 && pages >= maxPages {
			sc.Logger.Info().
				Str("job_id", sc.Job.ID).
				Int("max_pages", maxPages).
				Msg("Page limit reached, pull truncated")
			break
		}

		issues, next, err := sc.Provider.ListIssues(ctx, repo, page)
		if err != nil {
			return StepResult{}, err
		}
		for _, issue := range issues {
			if !matchesState(cfg.State, issue.State) {
				continue
			}
			raw, err := json.Marshal(issue)
			if err != nil {
				return StepResult{}, fmt.Errorf("failed to marshal issue %s: %w", issue.ExternalID, err)
			}
			entities = append(entities, raw)
		}
		page = next
	}

	sc.Logger.Info().
		Str("job_id", sc.Job.ID).
		Str("repo", repo.FullName()).
		Int("pages", pages).
		Int("issues", len(entities)).
		Msg("Pulled issues")

	return StepResult{Payload: models.StepPayload{Entities: entities}, Batch: true}, nil
}

// Transform maps provider issues onto internal work items.
func (s *IssueImport) Transform(ctx context.Context, sc *StepContext, payload models.StepPayload) (StepResult, error) {
	cfg, err := DecodeImportConfig(sc.Job)
	if err != nil {
		return StepResult{}, err
	}

	out := make([]json.RawMessage, 0, len(payload.Entities))
	for i, raw := range payload.Entities {
		var issue models.ProviderIssue
		if err := json.Unmarshal(raw, &issue); err != nil {
			return StepResult{}, fmt.Errorf("invalid issue at index %d: %w", i, err)
		}
		item := s.transformer.WorkItemFromIssue(issue, sc.Job.IntegrationKey, cfg.StateMapping)
		encoded, err := json.Marshal(item)
		if err != nil {
			return StepResult{}, fmt.Errorf("failed to marshal work item %s: %w", issue.ExternalID, err)
		}
		out = append(out, encoded)
	}

	return StepResult{Payload: models.StepPayload{Entities: out}}, nil
}

// Push upserts work items by external id, so a redelivered batch updates
// rather than duplicates.
func (s *IssueImport) Push(ctx context.Context, sc *StepContext, payload models.StepPayload) (StepResult, error) {
	imported := 0
	for i, raw := range payload.Entities {
		var item models.WorkItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return StepResult{}, fmt.Errorf("invalid work item at index %d: %w", i, err)
		}
		if _, _, err := internalapi.UpsertWorkItem(ctx, sc.Internal, sc.Job.ProjectID, &item); err != nil {
			return StepResult{}, err
		}
		imported++
	}
	return StepResult{Imported: imported}, nil
}

// matchesState filters by "open", "closed" or "all". GitLab reports "opened".
func matchesState(want, state string) bool {
	switch strings.ToLower(want) {
	case "", "all":
		return true
	case "open", "opened":
		return strings.HasPrefix(strings.ToLower(state), "open")
	default:
		return strings.EqualFold(want, state)
	}
}
