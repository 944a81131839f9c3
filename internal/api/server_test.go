package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/dispatch"
	"github.com/wina-futureobjects/track-futura/internal/folders"
	"github.com/wina-futureobjects/track-futura/internal/ingest"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
	"github.com/wina-futureobjects/track-futura/internal/storage/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type uuidGen struct{}

func (uuidGen) NewID() (string, error) { return uuid.NewString(), nil }

// stubAdapter accepts every dispatch and normalizes {"post_id",...} items.
type stubAdapter struct {
	prov   scraper.Provider
	nextID int
}

func (a *stubAdapter) Provider() scraper.Provider { return a.prov }

func (a *stubAdapter) Dispatch(context.Context, scraper.DispatchRequest) (scraper.JobHandle, error) {
	a.nextID++
	return scraper.JobHandle{Provider: a.prov, JobID: fmt.Sprintf("s_%d", a.nextID)}, nil
}

func (a *stubAdapter) FetchResult(context.Context, string) (scraper.ResultBatch, error) {
	return scraper.ResultBatch{}, scraper.ErrNotReady
}

func (a *stubAdapter) Normalize(raw []byte) (scraper.PostCandidate, error) {
	var item struct {
		PostID string `json:"post_id"`
		Author string `json:"author"`
		Likes  int    `json:"likes"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return scraper.PostCandidate{}, err
	}
	if item.PostID == "" {
		return scraper.PostCandidate{}, fmt.Errorf("item has no post id")
	}
	return scraper.PostCandidate{
		PostID:       item.PostID,
		AuthorHandle: item.Author,
		Likes:        item.Likes,
		Raw:          raw,
	}, nil
}

type testEnv struct {
	server   *httptest.Server
	requests *memory.RequestStore
	posts    *memory.PostStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	clock := fixedClock{at: time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)}

	folderStore := memory.NewFolderStore()
	requestStore := memory.NewRequestStore(folderStore)
	postStore := memory.NewPostStore()

	registry := provider.NewRegistry()
	registry.Register(&stubAdapter{prov: scraper.ProviderBrightData},
		scraper.PlatformInstagram, scraper.PlatformFacebook)

	resolver := folders.NewResolver(folderStore, uuidGen{}, clock, logger)
	dispatcher := dispatch.New(requestStore, resolver, registry,
		scraper.NewExponentialRetryPolicy(), uuidGen{}, clock, dispatch.Config{}, logger)
	gateway := ingest.New(requestStore, postStore, registry,
		memory.NewRawArchive(), nil, "", clock, logger)

	srv := NewServer(dispatcher, gateway, requestStore, postStore, folderStore, nil, cfg, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, requests: requestStore, posts: postStore}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) createRequest(t *testing.T) scraper.CollectionRequest {
	t.Helper()
	resp := e.postJSON(t, "/api/scrape-requests", scrapeRequestBody{
		ProjectID: "proj-1",
		RunName:   "Nike Run",
		Platform:  "instagram",
		Service:   "posts",
		Targets:   []string{"https://instagram.com/nike"},
		Limit:     50,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[struct {
		Request scraper.CollectionRequest `json:"request"`
	}](t, resp)
	return body.Request
}

func TestCreateScrapeRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	req := env.createRequest(t)
	require.NotEmpty(t, req.ID)
	require.Equal(t, scraper.StatusProcessing, req.Status)
	require.Equal(t, "s_1", req.ProviderJobID)
	require.Equal(t, 1, req.ScrapeNumber)
	require.NotEmpty(t, req.FolderID)
}

func TestCreateScrapeRequestValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	resp := env.postJSON(t, "/api/scrape-requests", scrapeRequestBody{
		ProjectID: "proj-1",
		RunName:   "Nike Run",
		Platform:  "instagram",
		Service:   "posts",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetScrapeRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	created := env.createRequest(t)

	resp, err := http.Get(env.server.URL + "/api/scrape-requests/" + created.ID)
	require.NoError(t, err)
	body := decodeBody[struct {
		Request scraper.CollectionRequest `json:"request"`
	}](t, resp)
	require.Equal(t, created.ID, body.Request.ID)

	missing, err := http.Get(env.server.URL + "/api/scrape-requests/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebhookDelivery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	created := env.createRequest(t)

	payload := `[{"post_id":"p1","author":"nike","likes":10},{"post_id":"p2"}]`
	req, err := http.NewRequest(http.MethodPost,
		env.server.URL+"/api/webhooks/brightdata", bytes.NewBufferString(payload))
	require.NoError(t, err)
	req.Header.Set("Snapshot-Id", created.ProviderJobID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[webhookResponse](t, resp)
	require.Equal(t, 2, body.ItemsProcessed)
	require.False(t, body.Unmatched)

	stored, err := env.requests.GetRequest(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.StatusCompleted, stored.Status)
}

func TestWebhookUnmatchedStillAccepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	resp, err := http.Post(env.server.URL+"/api/webhooks/brightdata?snapshot_id=s_unknown",
		"application/json", bytes.NewBufferString(`[{"post_id":"p1"}]`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[webhookResponse](t, resp)
	require.True(t, body.Unmatched)
}

func TestWebhookUnknownProvider(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	resp, err := http.Post(env.server.URL+"/api/webhooks/scrapylord",
		"application/json", bytes.NewBufferString(`[]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFolderPosts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	created := env.createRequest(t)

	req, err := http.NewRequest(http.MethodPost,
		env.server.URL+"/api/webhooks/brightdata",
		bytes.NewBufferString(`[{"post_id":"p1","author":"nike","likes":10}]`))
	require.NoError(t, err)
	req.Header.Set("Snapshot-Id", created.ProviderJobID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	listResp, err := http.Get(env.server.URL + "/api/folders/" + created.FolderID + "/posts")
	require.NoError(t, err)
	body := decodeBody[folderPostsResponse](t, listResp)
	require.True(t, body.Success)
	require.Equal(t, 1, body.TotalResults)
	require.Equal(t, "completed", body.Status)
	require.Equal(t, "Nike Run - Posts", body.FolderName)
	require.Equal(t, "p1", body.Data[0].PostID)
}

func TestListFolderPostsWhileProcessing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	created := env.createRequest(t)

	resp, err := http.Get(env.server.URL + "/api/folders/" + created.FolderID + "/posts")
	require.NoError(t, err)
	body := decodeBody[folderPostsResponse](t, resp)
	require.False(t, body.Success)
	require.Equal(t, "processing", body.Status)
	require.Empty(t, body.Data)
}

func TestAPIKeyProtectsManagementEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{AuthEnabled: true, APIKey: "secret"})

	// Management endpoint without key is rejected.
	resp := env.postJSON(t, "/api/scrape-requests", scrapeRequestBody{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Webhooks never require the key.
	hook, err := http.Post(env.server.URL+"/api/webhooks/apify?snapshot_id=run-1",
		"application/json", bytes.NewBufferString(`[]`))
	require.NoError(t, err)
	defer hook.Body.Close()
	require.Equal(t, http.StatusOK, hook.StatusCode)

	// And the key opens the management surface.
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/scrape-requests/nope", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	require.Equal(t, http.StatusNotFound, authed.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
