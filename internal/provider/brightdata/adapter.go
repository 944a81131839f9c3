// Package brightdata implements the dataset/snapshot-style scraping vendor.
package brightdata

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
	APIKey            string
	DatasetIDs        map[scraper.Platform]string
	WebhookURL        string
	DispatchTimeout   time.Duration
	PollTimeout       time.Duration
	RequestsPerSecond float64
}

// Adapter speaks the dataset trigger/snapshot API.
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
	return scraper.ProviderBrightData
}

type triggerEntry struct {
	URL       string `json:"url"`
	NumPosts  int    `json:"num_of_posts"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	PostType  string `json:"post_type"`
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// Dispatch triggers a dataset collection and returns the snapshot handle.
func (a *Adapter) Dispatch(ctx context.Context, req scraper.DispatchRequest) (scraper.JobHandle, error) {
	datasetID, ok := a.cfg.DatasetIDs[req.Platform]
	if !ok {
		return scraper.JobHandle{}, &scraper.DispatchError{
			Provider: a.Provider(),
			Body:     fmt.Sprintf("no dataset configured for platform %q", req.Platform),
		}
	}

	window, err := scraper.ClampWindow(req.Window, a.clock.Now())
	if err != nil {
		return scraper.JobHandle{}, &scraper.DispatchError{Provider: a.Provider(), Body: err.Error()}
	}

	entries := make([]triggerEntry, 0, len(req.Targets))
	for _, target := range req.Targets {
		entries = append(entries, triggerEntry{
			URL:       target,
			NumPosts:  req.Limit,
			StartDate: window.Start.Format(scraper.WireDateFormat),
			EndDate:   window.End.Format(scraper.WireDateFormat),
			PostType:  "Post",
		})
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("marshal trigger payload: %w", err)
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = a.cfg.WebhookURL
	}

	params := url.Values{}
	params.Set("dataset_id", datasetID)
	params.Set("format", "json")
	params.Set("include_errors", "true")
	if callback != "" {
		params.Set("endpoint", callback)
	}

	endpoint := fmt.Sprintf("%s/datasets/v3/trigger?%s", strings.TrimRight(a.cfg.BaseURL, "/"), params.Encode())
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("build trigger request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	status, respBody, err := a.dispatch.Do(ctx, httpReq)
	metrics.ObserveProviderCall(string(a.Provider()), "dispatch", time.Since(start))
	if err != nil {
		return scraper.JobHandle{}, fmt.Errorf("trigger dataset: %w", err)
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return scraper.JobHandle{}, &scraper.DispatchError{
			Provider:   a.Provider(),
			StatusCode: status,
			Body:       string(respBody),
		}
	}
	if status >= 300 {
		return scraper.JobHandle{}, fmt.Errorf("trigger dataset: unexpected status %d: %s", status, respBody)
	}

	var trigger triggerResponse
	if err := json.Unmarshal(respBody, &trigger); err != nil {
		return scraper.JobHandle{}, fmt.Errorf("decode trigger response: %w", err)
	}
	if trigger.SnapshotID == "" {
		return scraper.JobHandle{}, fmt.Errorf("trigger response missing snapshot id: %s", respBody)
	}

	a.logger.Info("dataset triggered",
		zap.String("dataset_id", datasetID),
		zap.String("snapshot_id", trigger.SnapshotID),
		zap.String("platform", string(req.Platform)),
	)
	return scraper.JobHandle{
		Provider:    a.Provider(),
		JobID:       trigger.SnapshotID,
		CallbackURL: callback,
	}, nil
}

// FetchResult retrieves a snapshot's output. A 202 or a progress envelope
// means the collection is still running.
func (a *Adapter) FetchResult(ctx context.Context, providerJobID string) (scraper.ResultBatch, error) {
	endpoint := fmt.Sprintf("%s/datasets/v3/snapshot/%s?format=json",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(providerJobID))
	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("build snapshot request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	start := time.Now()
	status, body, err := a.poll.Do(ctx, httpReq)
	metrics.ObserveProviderCall(string(a.Provider()), "poll", time.Since(start))
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	switch {
	case status == http.StatusAccepted:
		return scraper.ResultBatch{}, scraper.ErrNotReady
	case status >= 300:
		return scraper.ResultBatch{}, fmt.Errorf("fetch snapshot: unexpected status %d: %s", status, body)
	}

	if inProgress(body) {
		return scraper.ResultBatch{}, scraper.ErrNotReady
	}

	items, err := scraper.DecodeItems(body)
	if err != nil {
		return scraper.ResultBatch{}, fmt.Errorf("decode snapshot body: %w", err)
	}
	return scraper.ResultBatch{Items: items}, nil
}

// inProgress detects the {"status":"running"} progress envelope some
// snapshot endpoints return with a 200.
func inProgress(body []byte) bool {
	var progress struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &progress); err != nil {
		return false
	}
	switch strings.ToLower(progress.Status) {
	case "running", "building", "collecting":
		return true
	default:
		return false
	}
}

type rawItem struct {
	PostID      string `json:"post_id"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	UserPosted  string `json:"user_posted"`
	Username    string `json:"user_username"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Likes       int    `json:"likes"`
	NumComments int    `json:"num_comments"`
	Comments    int    `json:"comments"`
	NumShares   int    `json:"num_shares"`
	Shares      int    `json:"shares"`
	DatePosted  string `json:"date_posted"`
	Warning     string `json:"warning"`
	WarningCode string `json:"warning_code"`
}

// Normalize converts one raw dataset row into the canonical candidate shape.
func (a *Adapter) Normalize(raw []byte) (scraper.PostCandidate, error) {
	var item rawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return scraper.PostCandidate{}, fmt.Errorf("decode item: %w", err)
	}
	if item.Warning != "" || item.WarningCode != "" {
		return scraper.PostCandidate{}, fmt.Errorf("%w: %s %s", scraper.ErrEmptyMarker, item.WarningCode, item.Warning)
	}

	postID := firstNonEmpty(item.PostID, item.ID, item.URL)
	if postID == "" {
		return scraper.PostCandidate{}, fmt.Errorf("item has no usable post id")
	}

	postedAt, _ := time.Parse(time.RFC3339, item.DatePosted)

	return scraper.PostCandidate{
		PostID:       postID,
		AuthorHandle: firstNonEmpty(item.UserPosted, item.Username),
		Content:      firstNonEmpty(item.Description, item.Content),
		Likes:        item.Likes,
		Comments:     max(item.NumComments, item.Comments),
		Shares:       max(item.NumShares, item.Shares),
		PostedAt:     postedAt,
		Raw:          json.RawMessage(raw),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
