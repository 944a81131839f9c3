package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/ingest"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
	"github.com/wina-futureobjects/track-futura/internal/storage/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// pollAdapter scripts FetchResult responses per job id, one per call.
type pollAdapter struct {
	mu      sync.Mutex
	prov    scraper.Provider
	results map[string][]fetchStep
	fetches int
}

type fetchStep struct {
	batch scraper.ResultBatch
	err   error
}

func (a *pollAdapter) Provider() scraper.Provider { return a.prov }

func (a *pollAdapter) Dispatch(context.Context, scraper.DispatchRequest) (scraper.JobHandle, error) {
	return scraper.JobHandle{}, fmt.Errorf("not used")
}

func (a *pollAdapter) FetchResult(_ context.Context, jobID string) (scraper.ResultBatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	steps := a.results[jobID]
	if len(steps) == 0 {
		return scraper.ResultBatch{}, scraper.ErrNotReady
	}
	step := steps[0]
	a.results[jobID] = steps[1:]
	return step.batch, step.err
}

func (a *pollAdapter) Normalize(raw []byte) (scraper.PostCandidate, error) {
	var item struct {
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return scraper.PostCandidate{}, err
	}
	return scraper.PostCandidate{PostID: item.PostID, Raw: raw}, nil
}

type harness struct {
	sweeper  *Sweeper
	adapter  *pollAdapter
	requests *memory.RequestStore
	posts    *memory.PostStore
	clock    fixedClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	folders := memory.NewFolderStore()
	_, err := folders.CreateFolder(context.Background(), scraper.Folder{
		ID:        "folder-1",
		Kind:      scraper.FolderKindJob,
		Name:      "Nike Run - Posts",
		ProjectID: "proj-1",
	})
	require.NoError(t, err)

	requests := memory.NewRequestStore(folders)
	posts := memory.NewPostStore()
	clock := fixedClock{at: time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)}

	adapter := &pollAdapter{prov: scraper.ProviderApify, results: make(map[string][]fetchStep)}
	registry := provider.NewRegistry()
	registry.Register(adapter, scraper.PlatformTikTok)

	gateway := ingest.New(requests, posts, registry, memory.NewRawArchive(), nil, "", clock, zap.NewNop())

	return &harness{
		sweeper:  New(cfg, requests, registry, gateway, clock, zap.NewNop()),
		adapter:  adapter,
		requests: requests,
		posts:    posts,
		clock:    clock,
	}
}

// seedStale creates a processing request old enough for the sweeper to pick up.
func (h *harness) seedStale(t *testing.T, id, jobID string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.requests.CreateRequest(ctx, scraper.CollectionRequest{
		ID:       id,
		Platform: scraper.PlatformTikTok,
		Provider: scraper.ProviderApify,
		Target:   "https://tiktok.com/@nike",
		FolderID: "folder-1",
	})
	require.NoError(t, err)
	started := h.clock.Now().Add(-time.Hour)
	require.NoError(t, h.requests.MarkProcessing(ctx, id, jobID, started))
}

func TestSweepCompletesReadyRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 3})
	h.seedStale(t, "req-1", "run-1")
	h.adapter.results["run-1"] = []fetchStep{{
		batch: scraper.ResultBatch{Items: []json.RawMessage{
			json.RawMessage(`{"post_id":"p1"}`),
			json.RawMessage(`{"post_id":"p2"}`),
		}},
	}}

	require.NoError(t, h.sweeper.SweepOnce(context.Background()))

	req, err := h.requests.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, scraper.StatusCompleted, req.Status)

	count, err := h.posts.CountPosts(context.Background(), "folder-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSweepNotReadyConsumesAttempt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 3})
	h.seedStale(t, "req-1", "run-1")

	require.NoError(t, h.sweeper.SweepOnce(context.Background()))

	req, err := h.requests.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, scraper.StatusProcessing, req.Status)
	require.Equal(t, 1, req.PollAttempts)
}

func TestSweepExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 3})
	h.seedStale(t, "req-1", "run-1")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.sweeper.SweepOnce(ctx))
	}

	req, err := h.requests.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, scraper.StatusFailed, req.Status)
	require.Contains(t, req.LastError, "no result after 3 poll attempts")

	// A failed request never gets polled again.
	before := h.adapter.fetches
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, before, h.adapter.fetches)
}

func TestSweepPermanentErrorFailsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 10})
	h.seedStale(t, "req-1", "run-1")
	h.adapter.results["run-1"] = []fetchStep{{
		err: &scraper.DispatchError{Provider: scraper.ProviderApify, StatusCode: 404, Body: "run not found"},
	}}

	require.NoError(t, h.sweeper.SweepOnce(context.Background()))

	req, err := h.requests.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, scraper.StatusFailed, req.Status)
	require.Contains(t, req.LastError, "run not found")
	require.Zero(t, req.PollAttempts)
}

func TestSweepTransientErrorRecordsReason(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 3})
	h.seedStale(t, "req-1", "run-1")
	h.adapter.results["run-1"] = []fetchStep{{
		err: fmt.Errorf("connection reset"),
	}}

	require.NoError(t, h.sweeper.SweepOnce(context.Background()))

	req, err := h.requests.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, scraper.StatusProcessing, req.Status)
	require.Equal(t, 1, req.PollAttempts)
	require.Contains(t, req.LastError, "connection reset")
}

func TestSweepSkipsFreshRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Staleness: 5 * time.Minute, MaxPollAttempts: 3})

	ctx := context.Background()
	_, err := h.requests.CreateRequest(ctx, scraper.CollectionRequest{
		ID:       "req-fresh",
		Platform: scraper.PlatformTikTok,
		Provider: scraper.ProviderApify,
		FolderID: "folder-1",
	})
	require.NoError(t, err)
	// Started just now: inside the staleness window.
	require.NoError(t, h.requests.MarkProcessing(ctx, "req-fresh", "run-9", h.clock.Now()))

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Zero(t, h.adapter.fetches)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Interval: 5 * time.Millisecond, Staleness: 5 * time.Minute, MaxPollAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sweeper.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
