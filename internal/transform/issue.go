package transform

import (
	"html"
	"strings"

	"github.com/ternarybob/tracksync/internal/models"
)

// WorkItemFromIssue maps a provider issue onto an internal work item. The
// provider state is looked up in stateMapping; unmapped states leave State
// empty so the project default applies.
func (s *Service) WorkItemFromIssue(issue models.ProviderIssue, source models.IntegrationKey, stateMapping map[string]string) *models.WorkItem {
	body := s.NormalizeBody(issue.Body, issue.URL)

	descriptionHTML, err := s.MarkdownToHTML(body, issue.URL)
	if err != nil {
		s.logger.Warn().Err(err).Str("external_id", issue.ExternalID).Msg("Markdown render failed, keeping markdown only")
		descriptionHTML = ""
	}

	return &models.WorkItem{
		Name:            issue.Title,
		DescriptionMD:   body,
		DescriptionHTML: descriptionHTML,
		State:           MapState(stateMapping, issue.State),
		Labels:          issue.Labels,
		ExternalID:      issue.ExternalID,
		ExternalSource:  string(source),
	}
}

// WorkItemFromEvent maps an issue lifecycle event onto a work item.
func (s *Service) WorkItemFromEvent(event *models.WebhookEvent, source models.IntegrationKey, stateMapping map[string]string) *models.WorkItem {
	return s.WorkItemFromIssue(models.ProviderIssue{
		ExternalID: event.ExternalID,
		Number:     event.Number,
		Title:      event.Title,
		Body:       event.Body,
		State:      event.State,
		Labels:     event.Labels,
		URL:        event.URL,
	}, source, stateMapping)
}

// CommentFromEvent maps a provider comment onto an internal comment.
func (s *Service) CommentFromEvent(comment *models.EventComment, source models.IntegrationKey) *models.WorkItemComment {
	rendered, err := s.MarkdownToHTML(s.NormalizeBody(comment.Body, comment.URL), comment.URL)
	if err != nil || rendered == "" {
		rendered = "<p>" + html.EscapeString(comment.Body) + "</p>"
	}
	if comment.Author != "" {
		rendered = "<p><em>" + html.EscapeString(comment.Author) + " wrote:</em></p>" + rendered
	}
	return &models.WorkItemComment{
		CommentHTML:    rendered,
		ExternalID:     comment.ID,
		ExternalSource: string(source),
	}
}

// MapState resolves a provider state or action through a mapping, case-insensitively.
func MapState(mapping map[string]string, state string) string {
	if state == "" || len(mapping) == 0 {
		return ""
	}
	if v, ok := mapping[state]; ok {
		return v
	}
	lower := strings.ToLower(state)
	for k, v := range mapping {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}
