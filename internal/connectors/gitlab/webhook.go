package gitlab

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/tracksync/internal/models"
)

const (
	headerToken     = "X-Gitlab-Token"
	headerEvent     = "X-Gitlab-Event"
	headerEventUUID = "X-Gitlab-Event-UUID"

	hookMergeRequest = "Merge Request Hook"
	hookIssue        = "Issue Hook"
	hookNote         = "Note Hook"
)

type hookProject struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

type hookLabel struct {
	Title string `json:"title"`
}

type hookAttributes struct {
	ID           int64  `json:"id"`
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	Action       string `json:"action"`
	URL          string `json:"url"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Draft        bool   `json:"draft"`
	Note         string `json:"note"`
	NoteableType string `json:"noteable_type"`
}

type hookPayload struct {
	ObjectKind       string          `json:"object_kind"`
	User             apiUser         `json:"user"`
	Project          hookProject     `json:"project"`
	ObjectAttributes hookAttributes  `json:"object_attributes"`
	Labels           []hookLabel     `json:"labels"`
	Issue            *hookAttributes `json:"issue"`
	MergeRequest     *hookAttributes `json:"merge_request"`
}

// ParseWebhook checks the X-Gitlab-Token of a delivery and converts merge request,
// issue and note hooks into a WebhookEvent. An empty secret skips the token check.
func ParseWebhook(r *http.Request, secret string, enterprise bool) (*models.WebhookEvent, error) {
	if secret != "" {
		token := r.Header.Get(headerToken)
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return nil, models.ErrInvalidSignature
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}

	hook := r.Header.Get(headerEvent)
	switch hook {
	case hookMergeRequest, hookIssue, hookNote:
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrIgnoredEvent, hook)
	}

	var payload hookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", hook, err)
	}

	projectID := strconv.FormatInt(payload.Project.ID, 10)
	owner, name := splitNamespace(payload.Project.PathWithNamespace)
	attrs := payload.ObjectAttributes

	event := &models.WebhookEvent{
		DeliveryID: deliveryID(r, body),
		Provider:   models.ProviderGitLab,
		Enterprise: enterprise,
		EntityID:   projectID,
		Owner:      owner,
		Repository: name,
		Labels:     labelTitles(payload.Labels),
	}

	switch hook {
	case hookMergeRequest:
		event.Category = models.EventMergeRequest
		event.Action = normalizeAction(attrs.Action)
		setAttributes(event, projectID, attrs)
		event.Extra = map[string]string{
			"source_branch": attrs.SourceBranch,
			"target_branch": attrs.TargetBranch,
			"draft":         strconv.FormatBool(attrs.Draft),
		}

	case hookIssue:
		event.Category = models.EventIssue
		event.Action = normalizeAction(attrs.Action)
		setAttributes(event, projectID, attrs)

	case hookNote:
		if attrs.NoteableType != "Issue" || payload.Issue == nil {
			return nil, fmt.Errorf("%w: note on %s", models.ErrIgnoredEvent, attrs.NoteableType)
		}
		event.Category = models.EventIssueComment
		event.Action = normalizeAction(attrs.Action)
		if event.Action == "" {
			event.Action = "created"
		}
		setAttributes(event, projectID, *payload.Issue)
		event.Comment = &models.EventComment{
			ID:     strconv.FormatInt(attrs.ID, 10),
			Body:   attrs.Note,
			Author: payload.User.Username,
			URL:    attrs.URL,
		}
	}

	return event, nil
}

func setAttributes(event *models.WebhookEvent, projectID string, attrs hookAttributes) {
	event.Number = attrs.IID
	event.ExternalID = models.IssueExternalID(projectID, attrs.IID)
	event.Title = attrs.Title
	event.Body = attrs.Description
	event.URL = attrs.URL
	event.State = attrs.State
}

// normalizeAction maps GitLab verbs onto the past tense actions GitHub uses.
func normalizeAction(action string) string {
	switch action {
	case "open":
		return "opened"
	case "close":
		return "closed"
	case "reopen":
		return "reopened"
	case "update":
		return "updated"
	case "merge":
		return "merged"
	case "create":
		return "created"
	}
	return action
}

func splitNamespace(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func deliveryID(r *http.Request, body []byte) string {
	if id := r.Header.Get(headerEventUUID); id != "" {
		return id
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func labelTitles(labels []hookLabel) []string {
	if len(labels) == 0 {
		return nil
	}
	titles := make([]string, 0, len(labels))
	for _, l := range labels {
		titles = append(titles, l.Title)
	}
	return titles
}
