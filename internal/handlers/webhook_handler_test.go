package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	githubconn "github.com/ternarybob/tracksync/internal/connectors/github"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

func stubParser(event *models.WebhookEvent, err error) WebhookParser {
	return func(r *http.Request, secret string, enterprise bool) (*models.WebhookEvent, error) {
		if err != nil {
			return nil, err
		}
		copied := *event
		copied.Enterprise = enterprise
		return &copied, nil
	}
}

func stubEvent(deliveryID string) *models.WebhookEvent {
	return &models.WebhookEvent{
		DeliveryID: deliveryID,
		Provider:   models.ProviderGitLab,
		Category:   models.EventMergeRequest,
		Action:     "opened",
		EntityID:   "42",
		Owner:      "acme",
		Repository: "widgets",
		Number:     7,
	}
}

func newTestWebhookHandler(mq interfaces.MQ, kv interfaces.KeyValueStorage, sources ...WebhookSource) *WebhookHandler {
	return NewWebhookHandler(sources, mq, kv, "webhooks", time.Minute, 1024, arbor.NewNoOpLogger())
}

func postWebhook(h *WebhookHandler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ReceiveHandler(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestWebhookHandler_AcceptsAndEnqueues(t *testing.T) {
	mq := &fakeMQ{}
	h := newTestWebhookHandler(mq, newTestStorage(t).KeyValueStorage(),
		WebhookSource{Name: "gitlab-enterprise", Parse: stubParser(stubEvent("d-1"), nil), Enterprise: true})

	rec := postWebhook(h, "/webhooks/gitlab-enterprise", `{}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, mq.sent, 1)
	msg := mq.sent[0]
	assert.Equal(t, "webhooks", msg.headers.Route)
	assert.Equal(t, string(models.EventMergeRequest), msg.headers.Type)
	assert.True(t, msg.headers.Enterprise)

	var event models.WebhookEvent
	require.NoError(t, json.Unmarshal(msg.payload, &event))
	assert.Equal(t, "d-1", event.DeliveryID)
	assert.True(t, event.Enterprise)
}

func TestWebhookHandler_DuplicateDeliveryIsNotEnqueued(t *testing.T) {
	mq := &fakeMQ{}
	h := newTestWebhookHandler(mq, newTestStorage(t).KeyValueStorage(),
		WebhookSource{Name: "gitlab", Parse: stubParser(stubEvent("d-1"), nil)})

	assert.Equal(t, http.StatusAccepted, postWebhook(h, "/webhooks/gitlab", `{}`).Code)
	rec := postWebhook(h, "/webhooks/gitlab", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
	assert.Len(t, mq.sent, 1)
}

func TestWebhookHandler_EnqueueFailureReleasesDedupKey(t *testing.T) {
	mq := &fakeMQ{err: errors.New("queue full")}
	h := newTestWebhookHandler(mq, newTestStorage(t).KeyValueStorage(),
		WebhookSource{Name: "gitlab", Parse: stubParser(stubEvent("d-1"), nil)})

	assert.Equal(t, http.StatusServiceUnavailable, postWebhook(h, "/webhooks/gitlab", `{}`).Code)

	mq.err = nil
	assert.Equal(t, http.StatusAccepted, postWebhook(h, "/webhooks/gitlab", `{}`).Code)
	assert.Len(t, mq.sent, 1)
}

func TestWebhookHandler_DedupOutageStillEnqueues(t *testing.T) {
	mq := &fakeMQ{}
	h := newTestWebhookHandler(mq, failingKV{},
		WebhookSource{Name: "gitlab", Parse: stubParser(stubEvent("d-1"), nil)})

	assert.Equal(t, http.StatusAccepted, postWebhook(h, "/webhooks/gitlab", `{}`).Code)
	assert.Len(t, mq.sent, 1)
}

func TestWebhookHandler_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		parseErr error
		want     int
	}{
		{name: "unknown source", path: "/webhooks/bitbucket", want: http.StatusNotFound},
		{name: "bad signature", path: "/webhooks/gitlab", parseErr: fmt.Errorf("%w: mismatch", models.ErrInvalidSignature), want: http.StatusUnauthorized},
		{name: "ignored event", path: "/webhooks/gitlab", parseErr: fmt.Errorf("%w: Push Hook", models.ErrIgnoredEvent), want: http.StatusOK},
		{name: "malformed", path: "/webhooks/gitlab", parseErr: errors.New("unexpected end of JSON input"), want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := &fakeMQ{}
			h := newTestWebhookHandler(mq, nil,
				WebhookSource{Name: "gitlab", Parse: stubParser(stubEvent("d-1"), tt.parseErr)})

			rec := postWebhook(h, tt.path, `{}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, mq.sent)
		})
	}
}

func TestWebhookHandler_RejectsGet(t *testing.T) {
	h := newTestWebhookHandler(&fakeMQ{}, nil)
	rec := httptest.NewRecorder()
	h.ReceiveHandler(rec, httptest.NewRequest(http.MethodGet, "/webhooks/github", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookHandler_GitHubSignedDelivery(t *testing.T) {
	const secret = "s3cret"
	body := `{
	  "action": "opened",
	  "number": 12,
	  "pull_request": {"id": 5001, "number": 12, "title": "WEB-4 fix login", "state": "open",
	    "head": {"ref": "feature/web-4"}, "base": {"ref": "main"}},
	  "repository": {"id": 42, "name": "widgets", "owner": {"login": "acme"}}
	}`

	sign := func(payload string) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		return "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}
	request := func(signature string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "pull_request")
		req.Header.Set("X-GitHub-Delivery", "gh-delivery-1")
		req.Header.Set("X-Hub-Signature-256", signature)
		return req
	}

	mq := &fakeMQ{}
	h := NewWebhookHandler(
		[]WebhookSource{{Name: "github", Parse: githubconn.ParseWebhook, Secret: secret}},
		mq, nil, "webhooks", time.Minute, 1<<20, arbor.NewNoOpLogger(),
	)

	rec := httptest.NewRecorder()
	h.ReceiveHandler(rec, request("sha256=deadbeef"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, mq.sent)

	rec = httptest.NewRecorder()
	h.ReceiveHandler(rec, request(sign(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, mq.sent, 1)

	var event models.WebhookEvent
	require.NoError(t, json.Unmarshal(mq.sent[0].payload, &event))
	assert.Equal(t, "gh-delivery-1", event.DeliveryID)
	assert.Equal(t, "42", event.EntityID)
	assert.Equal(t, models.EventMergeRequest, event.Category)
}
