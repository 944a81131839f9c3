// Package apify implements the actor/run-style scraping vendor.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Config holds the vendor connection settings.
type Config struct {
	BaseURL           string
	Token             string
	ActorIDs          map[scraper.Platform]string
	WebhookURL        string
	DispatchTimeout   time.Duration
	PollTimeout       time.Duration
	RequestsPerSecond float64
}

// Adapter speaks the actor-run API: dispatch starts a run, polling checks
// the run status and fetches the default dataset once the run succeeds.
type Adapter struct {
	cfg      Config
	dispatch *provider.Caller
	poll     *provider.Caller
	clock    scraper.Clock
	logger   *zap.Logger
}

// New constructs an Adapter.
func New(cfg Config, clock scraper.Clock, logger *zap.Logger) *Adapter {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 15 * time.Second
	}
	return &Adapter{
		cfg:      cfg,
		dispatch: provider.NewCaller(cfg.DispatchTimeout, cfg.RequestsPerSecond),
		poll:     provider.NewCaller(cfg.PollTimeout, cfg.RequestsPerSecond),
		clock:    clock,
		logger:   logger,
	}
}

// Provider identifies this vendor.
func (a *Adapter) Provider() scraper.Provider {
	return scraper.ProviderApify
}

type runInput struct {
	URLs         []string `json:"urls"`
	ResultsLimit int      `json:"resultsLimit"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate"`
	WebhookURL   string   `json:"webhookUrl,omitempty"`
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// Dispatch starts an actor run for the platform's configured actor.
func (a *Adapter) Dispatch(ctx context.Context, req scraper.DispatchRequest) (scraper.JobHandle, error) {
	actorID, ok := a.cfg.ActorIDs[req.Platform]
	if !ok {
		return scraper.JobHandle{}, &scraper.DispatchError{
			Provider: a.Provider(),
			Body:     fmt.Sprintf("no actor configured for platform %q", req.Platform),
		}
	}

	window, err := scraper.ClampWindow(req.Window, a.clock.Now())
	if err != nil {
		return scraper.JobHandle{}, &scraper.DispatchError{Provider: a.Provider(), Body: err.Error()}
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = a.cfg.WebhookURL
	}
	input := runInput{
		URLs:         req.Targets,
		ResultsLimit: req.Limit,
		StartDate:    window.Start.Format(scraper.WireDateFormat),
		EndDate:      window.End.Format(scraper.WireDateFormat),
		WebhookURL:   callback,
	}
	body, err := json.Marshal(input)
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("marshal run input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs?token=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(actorID), url.QueryEscape(a.cfg.Token))
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	status, respBody, err := a.dispatch.Do(ctx, httpReq)
	metrics.ObserveProviderCall(string(a.Provider()), "dispatch", time.Since(start))
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("start actor run: %w", err)
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return scraper.JobHandle{}, &scraper.DispatchError{
			Provider:   a.Provider(),
			StatusCode: status,
			Body:       string(respBody),
		}
	}
	if status >= 300 {
		return scraper.JobHandle{}, fmt.Errorf("start actor run: unexpected status %d: %s", status, respBody)
	}

	var run runEnvelope
	if err := json.Unmarshal(respBody, &run); err != nil {
		return scraper.JobHandle{}, fmt.Errorf("decode run response: %w", err)
	}
	if run.Data.ID == "" {
		return scraper.JobHandle{}, fmt.Errorf("run response missing id: %s", respBody)
	}

	a.logger.Info("actor run started",
		zap.String("actor_id", actorID),
		zap.String("run_id", run.Data.ID),
		zap.String("platform", string(req.Platform)),
	)
	return scraper.JobHandle{
		Provider:    a.Provider(),
		JobID:       run.Data.ID,
		CallbackURL: callback,
	}, nil
}

// FetchResult checks the run status and, once the run has succeeded, fetches
// the default dataset's items.
func (a *Adapter) FetchResult(ctx context.Context, providerJobID string) (scraper.ResultBatch, error) {
	endpoint := fmt.Sprintf("%s/v2/actor-runs/%s?token=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(providerJobID), url.QueryEscape(a.cfg.Token))
	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("build run status request: %w", err)
	}

	start := time.Now()
	status, body, err := a.poll.Do(ctx, httpReq)
	metrics.ObserveProviderCall(string(a.Provider()), "poll", time.Since(start))
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("fetch run status: %w", err)
	}
	if status >= 300 {
		return scraper.ResultBatch{}, fmt.Errorf("fetch run status: unexpected status %d: %s", status, body)
	}

	var run runEnvelope
	if err := json.Unmarshal(body, &run); err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("decode run status: %w", err)
	}
	switch run.Data.Status {
	case "READY", "RUNNING":
		return scraper.ResultBatch{}, scraper.ErrNotReady
	case "SUCCEEDED":
		return a.fetchDataset(ctx, run.Data.DefaultDatasetID)
	default:
		return scraper.ResultBatch{}, fmt.Errorf("actor run %s ended %s", providerJobID, run.Data.Status)
	}
}

func (a *Adapter) fetchDataset(ctx context.Context, datasetID string) (scraper.ResultBatch, error) {
	if datasetID == "" {
		return scraper.ResultBatch{}, fmt.Errorf("succeeded run has no dataset id")
	}
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?format=json&token=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(datasetID), url.QueryEscape(a.cfg.Token))
	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("build dataset request: %w", err)
	}

	start := time.Now()
	status, body, err := a.poll.Do(ctx, httpReq)
	metrics.ObserveProviderCall(string(a.Provider()), "dataset", time.Since(start))
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("fetch dataset items: %w", err)
	}
	if status >= 300 {
		return scraper.ResultBatch{}, fmt.Errorf("fetch dataset items: unexpected status %d: %s", status, body)
	}

	items, err := scraper.DecodeItems(body)
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("decode dataset items: %w", err)
	}
	return scraper.ResultBatch{Items: items}, nil
}

type rawItem struct {
	ID         string `json:"id"`
	WebVideoID string `json:"webVideoUrl"`
	AuthorMeta struct {
		Name string `json:"name"`
	} `json:"authorMeta"`
	Author        string `json:"author"`
	Text          string `json:"text"`
	DiggCount     int    `json:"diggCount"`
	LikesCount    int    `json:"likesCount"`
	CommentCount  int    `json:"commentCount"`
	CommentsCount int    `json:"commentsCount"`
	ShareCount    int    `json:"shareCount"`
	SharesCount   int    `json:"sharesCount"`
	CreateTimeISO string `json:"createTimeISO"`
	Timestamp     string `json:"timestamp"`
	NoResults     bool   `json:"noResults"`
	Error         string `json:"error"`
}

// Normalize converts one raw dataset item into the canonical candidate shape.
func (a *Adapter) Normalize(raw []byte) (scraper.PostCandidate, error) {
	var item rawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return scraper.PostCandidate{}, fmt.Errorf("decode item: %w", err)
	}
	if item.NoResults || item.Error != "" {
		return scraper.PostCandidate{}, fmt.Errorf("%w: %s", scraper.ErrEmptyMarker, item.Error)
	}

	postID := item.ID
	if postID == "" {
		postID = item.WebVideoID
	}
	if postID == "" {
		return scraper.PostCandidate{}, fmt.Errorf("item has no usable post id")
	}

	author := item.AuthorMeta.Name
	if author == "" {
		author = item.Author
	}
	postedRaw := item.CreateTimeISO
	if postedRaw == "" {
		postedRaw = item.Timestamp
	}
	postedAt, _ := time.Parse(time.RFC3339, postedRaw)

	return scraper.PostCandidate{
		PostID:       postID,
		AuthorHandle: author,
		Content:      item.Text,
		Likes:        max(item.DiggCount, item.LikesCount),
		Comments:     max(item.CommentCount, item.CommentsCount),
		Shares:       max(item.ShareCount, item.SharesCount),
		PostedAt:     postedAt,
		Raw:          json.RawMessage(raw),
	}, nil
}
