package apify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestAdapter(baseURL string, now time.Time) *Adapter {
	return New(Config{
		BaseURL: baseURL,
		Token:   "apify-token",
		ActorIDs: map[scraper.Platform]string{
			scraper.PlatformTikTok: "clockworks~tiktok-scraper",
		},
	}, fixedClock{now: now}, zap.NewNop())
}

func TestDispatch_StartsActorRun(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	var gotPath string
	var gotInput runInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, "apify-token", r.URL.Query().Get("token"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotInput))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"run_1","status":"READY","defaultDatasetId":"ds_1"}}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, now)
	handle, err := adapter.Dispatch(context.Background(), scraper.DispatchRequest{
		Platform: scraper.PlatformTikTok,
		Targets:  []string{"https://www.tiktok.com/@nike"},
		Limit:    25,
		Window: scraper.DateWindow{
			Start: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			End:   now,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "run_1", handle.JobID)
	require.Equal(t, scraper.ProviderApify, handle.Provider)

	require.Equal(t, "/v2/acts/clockworks~tiktok-scraper/runs", gotPath)
	require.Equal(t, []string{"https://www.tiktok.com/@nike"}, gotInput.URLs)
	require.Equal(t, 25, gotInput.ResultsLimit)
	require.Equal(t, "14-10-2025", gotInput.EndDate)
}

func TestDispatch_Rejected4xxIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"token-not-found"}}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.Dispatch(context.Background(), scraper.DispatchRequest{
		Platform: scraper.PlatformTikTok,
		Targets:  []string{"https://www.tiktok.com/@nike"},
	})
	require.True(t, scraper.IsPermanent(err))
}

func TestFetchResult_RunningMeansNotReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"run_1","status":"RUNNING"}}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.FetchResult(context.Background(), "run_1")
	require.ErrorIs(t, err, scraper.ErrNotReady)
}

func TestFetchResult_SucceededFetchesDatasetItems(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/actor-runs/run_1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"run_1","status":"SUCCEEDED","defaultDatasetId":"ds_1"}}`))
	})
	mux.HandleFunc("/v2/datasets/ds_1/items", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"v1"},{"id":"v2"},{"id":"v3"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	batch, err := adapter.FetchResult(context.Background(), "run_1")
	require.NoError(t, err)
	require.Len(t, batch.Items, 3)
}

func TestFetchResult_AbortedRunIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"run_1","status":"ABORTED"}}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.FetchResult(context.Background(), "run_1")
	require.Error(t, err)
	require.NotErrorIs(t, err, scraper.ErrNotReady)
}

func TestNormalize_TikTokItem(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	candidate, err := adapter.Normalize([]byte(`{
		"id": "729912345",
		"authorMeta": {"name": "nike"},
		"text": "new drop",
		"diggCount": 999,
		"commentCount": 55,
		"shareCount": 12,
		"createTimeISO": "2025-09-20T08:00:00Z"
	}`))
	require.NoError(t, err)
	require.Equal(t, "729912345", candidate.PostID)
	require.Equal(t, "nike", candidate.AuthorHandle)
	require.Equal(t, 999, candidate.Likes)
	require.Equal(t, 55, candidate.Comments)
	require.Equal(t, 12, candidate.Shares)
}

func TestNormalize_NoResultsMarker(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	_, err := adapter.Normalize([]byte(`{"noResults":true}`))
	require.ErrorIs(t, err, scraper.ErrEmptyMarker)
}
