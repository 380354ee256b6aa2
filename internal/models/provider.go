package models

import (
	"fmt"
	"time"
)

// RepoRef addresses a provider repository. GitLab uses ID, GitHub uses Owner/Name.
type RepoRef struct {
	Owner string `json:"owner,omitempty"`
	Name  string `json:"name"`
	ID    string `json:"id,omitempty"`
}

// FullName returns owner/name, or the bare name when no owner is set.
func (r RepoRef) FullName() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// ProviderIssue is the provider-agnostic view of an issue pulled from a provider.
type ProviderIssue struct {
	ExternalID string    `json:"external_id"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	State      string    `json:"state"`
	Labels     []string  `json:"labels,omitempty"`
	URL        string    `json:"url"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IssueExternalID builds the stable external id of a provider issue within a repository.
func IssueExternalID(repoKey string, number int) string {
	return fmt.Sprintf("%s_%d", repoKey, number)
}

// WorkItem is an internal tracker work item.
type WorkItem struct {
	ID              string   `json:"id,omitempty"`
	ProjectID       string   `json:"project_id,omitempty"`
	Name            string   `json:"name,omitempty"`
	DescriptionMD   string   `json:"description_markdown,omitempty"`
	DescriptionHTML string   `json:"description_html,omitempty"`
	State           string   `json:"state,omitempty"`
	Labels          []string `json:"labels,omitempty"`
	ExternalID      string   `json:"external_id,omitempty"`
	ExternalSource  string   `json:"external_source,omitempty"`
	Identifier      string   `json:"identifier,omitempty"`
}

// WorkItemComment is a comment on an internal work item.
type WorkItemComment struct {
	ID             string `json:"id,omitempty"`
	CommentHTML    string `json:"comment_html"`
	ExternalID     string `json:"external_id,omitempty"`
	ExternalSource string `json:"external_source,omitempty"`
}

// WorkItemLink attaches an external URL to a work item.
type WorkItemLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
