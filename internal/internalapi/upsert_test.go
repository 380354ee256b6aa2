package internalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tracksync/internal/models"
)

func TestUpsertWorkItem(t *testing.T) {
	var calls []string
	existing := map[string]bool{"101": true}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			if existing[r.URL.Query().Get("external_id")] {
				json.NewEncoder(w).Encode([]models.WorkItem{{ID: "wi-101"}})
				return
			}
			w.Write([]byte(`[]`))
		case http.MethodPatch:
			assert.True(t, strings.HasSuffix(r.URL.Path, "/issues/wi-101/"))
			w.Write([]byte(`{"name":"patched"}`))
		case http.MethodPost:
			w.Write([]byte(`{"id":"wi-new"}`))
		}
	})

	item, created, err := UpsertWorkItem(context.Background(), client, "p1", &models.WorkItem{ExternalID: "101", ExternalSource: "GITHUB"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "wi-101", item.ID)

	item, created, err = UpsertWorkItem(context.Background(), client, "p1", &models.WorkItem{ExternalID: "202", ExternalSource: "GITHUB"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "wi-new", item.ID)

	assert.Equal(t, []string{"GET", "PATCH", "GET", "POST"}, calls)
}

func TestUpsertComment(t *testing.T) {
	var posted bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.Write([]byte(`[]`))
			return
		}
		posted = r.Method == http.MethodPost
		w.Write([]byte(`{"id":"c-9","comment_html":"<p>x</p>"}`))
	})

	c, err := UpsertComment(context.Background(), client, "p1", "wi-1", &models.WorkItemComment{ExternalID: "31", CommentHTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.True(t, posted)
	assert.Equal(t, "c-9", c.ID)
}
