package github

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/tracksync/internal/models"
)

// ParseWebhook validates the X-Hub-Signature-256 of a delivery and converts the
// event into a WebhookEvent. An empty secret skips signature validation.
func ParseWebhook(r *http.Request, secret string, enterprise bool) (*models.WebhookEvent, error) {
	payload, err := github.ValidatePayload(r, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}

	eventType := github.WebHookType(r)
	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrIgnoredEvent, eventType, err)
	}

	event := &models.WebhookEvent{
		DeliveryID: github.DeliveryID(r),
		Provider:   models.ProviderGitHub,
		Enterprise: enterprise,
	}

	switch e := raw.(type) {
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		event.Category = models.EventMergeRequest
		event.Action = pullRequestAction(e.GetAction(), pr)
		setRepository(event, e.GetRepo(), e.GetInstallation())
		event.Number = pr.GetNumber()
		event.ExternalID = strconv.FormatInt(pr.GetID(), 10)
		event.Title = pr.GetTitle()
		event.Body = pr.GetBody()
		event.URL = pr.GetHTMLURL()
		event.State = pr.GetState()
		event.Labels = labelNames(pr.Labels)
		event.Extra = map[string]string{
			"source_branch": pr.GetHead().GetRef(),
			"target_branch": pr.GetBase().GetRef(),
			"draft":         strconv.FormatBool(pr.GetDraft()),
		}

	case *github.IssuesEvent:
		issue := e.GetIssue()
		event.Category = models.EventIssue
		event.Action = e.GetAction()
		setRepository(event, e.GetRepo(), e.GetInstallation())
		setIssue(event, issue)

	case *github.IssueCommentEvent:
		issue := e.GetIssue()
		comment := e.GetComment()
		event.Category = models.EventIssueComment
		event.Action = e.GetAction()
		setRepository(event, e.GetRepo(), e.GetInstallation())
		setIssue(event, issue)
		event.Comment = &models.EventComment{
			ID:     strconv.FormatInt(comment.GetID(), 10),
			Body:   comment.GetBody(),
			Author: comment.GetUser().GetLogin(),
			URL:    comment.GetHTMLURL(),
		}
		if issue.IsPullRequest() {
			event.Extra = map[string]string{"pull_request": "true"}
		}

	default:
		return nil, fmt.Errorf("%w: %s", models.ErrIgnoredEvent, eventType)
	}

	return event, nil
}

// pullRequestAction folds a closed+merged pull request into "merged".
func pullRequestAction(action string, pr *github.PullRequest) string {
	if action == "closed" && pr.GetMerged() {
		return "merged"
	}
	return action
}

func setRepository(event *models.WebhookEvent, repo *github.Repository, installation *github.Installation) {
	event.EntityID = strconv.FormatInt(repo.GetID(), 10)
	event.Owner = repo.GetOwner().GetLogin()
	event.Repository = repo.GetName()
	if installation != nil {
		event.InstallationID = strconv.FormatInt(installation.GetID(), 10)
	}
}

func setIssue(event *models.WebhookEvent, issue *github.Issue) {
	event.Number = issue.GetNumber()
	event.ExternalID = strconv.FormatInt(issue.GetID(), 10)
	event.Title = issue.GetTitle()
	event.Body = issue.GetBody()
	event.URL = issue.GetHTMLURL()
	event.State = issue.GetState()
	event.Labels = labelNames(issue.Labels)
}

func labelNames(labels []*github.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}
