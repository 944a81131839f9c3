package brightdata

import (
	"context"
	"encoding/json"
	"errors"
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
		APIKey:  "test-key",
		DatasetIDs: map[scraper.Platform]string{
			scraper.PlatformInstagram: "gd_instagram",
		},
		WebhookURL: "https://engine.example.com/api/webhooks/brightdata",
	}, fixedClock{now: now}, zap.NewNop())
}

func TestDispatch_TriggersDatasetWithClampedWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	var gotPath string
	var gotQuery map[string][]string
	var gotAuth string
	var gotEntries []triggerEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotEntries))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"snapshot_id":"s_abc123"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, now)
	handle, err := adapter.Dispatch(context.Background(), scraper.DispatchRequest{
		Platform: scraper.PlatformInstagram,
		Targets:  []string{"https://www.instagram.com/nike/"},
		Limit:    10,
		Window: scraper.DateWindow{
			Start: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			End:   now, // ends today, must be clamped
		},
	})
	require.NoError(t, err)
	require.Equal(t, "s_abc123", handle.JobID)
	require.Equal(t, scraper.ProviderBrightData, handle.Provider)

	require.Equal(t, "/datasets/v3/trigger", gotPath)
	require.Equal(t, "gd_instagram", gotQuery["dataset_id"][0])
	require.Equal(t, "https://engine.example.com/api/webhooks/brightdata", gotQuery["endpoint"][0])
	require.Equal(t, "Bearer test-key", gotAuth)

	require.Len(t, gotEntries, 1)
	require.Equal(t, "https://www.instagram.com/nike/", gotEntries[0].URL)
	require.Equal(t, 10, gotEntries[0].NumPosts)
	require.Equal(t, "01-09-2025", gotEntries[0].StartDate)
	require.Equal(t, "14-10-2025", gotEntries[0].EndDate)
	require.NotEqual(t, now.Format(scraper.WireDateFormat), gotEntries[0].EndDate)
}

func TestDispatch_Permanent4xxBecomesDispatchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid dataset payload"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.Dispatch(context.Background(), scraper.DispatchRequest{
		Platform: scraper.PlatformInstagram,
		Targets:  []string{"https://www.instagram.com/nike/"},
	})
	require.Error(t, err)

	var de *scraper.DispatchError
	require.ErrorAs(t, err, &de)
	require.Equal(t, http.StatusBadRequest, de.StatusCode)
	require.Contains(t, de.Body, "invalid dataset payload")
}

func TestDispatch_UnconfiguredPlatformIsPermanent(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	_, err := adapter.Dispatch(context.Background(), scraper.DispatchRequest{
		Platform: scraper.PlatformTikTok,
	})
	require.True(t, scraper.IsPermanent(err))
}

func TestFetchResult_AcceptedMeansNotReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.FetchResult(context.Background(), "s_abc123")
	require.ErrorIs(t, err, scraper.ErrNotReady)
}

func TestFetchResult_RunningEnvelopeMeansNotReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","snapshot_id":"s_abc123"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	_, err := adapter.FetchResult(context.Background(), "s_abc123")
	require.ErrorIs(t, err, scraper.ErrNotReady)
}

func TestFetchResult_ReturnsItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/datasets/v3/snapshot/s_abc123", r.URL.Path)
		_, _ = w.Write([]byte(`[{"post_id":"p1"},{"post_id":"p2"}]`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, time.Now())
	batch, err := adapter.FetchResult(context.Background(), "s_abc123")
	require.NoError(t, err)
	require.Len(t, batch.Items, 2)
}

func TestNormalize_FullItem(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	raw := []byte(`{
		"post_id": "3412345",
		"user_posted": "nike",
		"description": "Just do it",
		"likes": 120,
		"num_comments": 4,
		"num_shares": 2,
		"date_posted": "2025-09-18T10:00:00Z"
	}`)

	candidate, err := adapter.Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "3412345", candidate.PostID)
	require.Equal(t, "nike", candidate.AuthorHandle)
	require.Equal(t, "Just do it", candidate.Content)
	require.Equal(t, 120, candidate.Likes)
	require.Equal(t, 4, candidate.Comments)
	require.Equal(t, 2, candidate.Shares)
	require.Equal(t, time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC), candidate.PostedAt)
	require.JSONEq(t, string(raw), string(candidate.Raw))
}

func TestNormalize_WarningMarker(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	_, err := adapter.Normalize([]byte(`{"warning":"no posts found for this page","warning_code":"dead_page"}`))
	require.ErrorIs(t, err, scraper.ErrEmptyMarker)
}

func TestNormalize_MissingEngagementDefaultsToZero(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	candidate, err := adapter.Normalize([]byte(`{"post_id":"p9"}`))
	require.NoError(t, err)
	require.Zero(t, candidate.Likes)
	require.Zero(t, candidate.Comments)
	require.Zero(t, candidate.Shares)
}

func TestNormalize_MissingIDFails(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter("http://unused.invalid", time.Now())
	_, err := adapter.Normalize([]byte(`{"likes":3}`))
	require.Error(t, err)
	require.False(t, errors.Is(err, scraper.ErrEmptyMarker))
}
