// Package scraper defines core types shared across subsystems.
package scraper

import (
	"encoding/json"
	"time"
)

// Platform identifies the content source a request targets.
type Platform string

// Supported content platforms.
const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformTikTok    Platform = "tiktok"
	PlatformLinkedIn  Platform = "linkedin"
)

// Provider identifies the external vendor that performs the scraping.
type Provider string

// Known scraping vendors.
const (
	ProviderBrightData Provider = "brightdata"
	ProviderApify      Provider = "apify"
)

// RequestStatus represents the lifecycle state of a collection request.
// Transitions are monotonic: pending -> processing -> {completed, failed}.
type RequestStatus string

// Request status values persisted in the request store.
const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// DeliveryChannel records how a batch of results reached the engine.
type DeliveryChannel string

// Delivery channels.
const (
	ChannelWebhook DeliveryChannel = "webhook"
	ChannelPoll    DeliveryChannel = "poll"
)

// DateWindow bounds the publication dates a request asks the provider for.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CollectionRequest is one logical unit of scraping work dispatched to a
// provider and tracked through its lifecycle.
type CollectionRequest struct {
	ID            string        `json:"id"`
	Platform      Platform      `json:"platform"`
	Provider      Provider      `json:"provider"`
	Target        string        `json:"target"`
	Limit         int           `json:"limit"`
	Window        DateWindow    `json:"window"`
	ProviderJobID string        `json:"provider_job_id,omitempty"`
	Status        RequestStatus `json:"status"`
	FolderID      string        `json:"folder_id"`
	ScrapeNumber  int           `json:"scrape_number"`
	PollAttempts  int           `json:"poll_attempts"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// Terminal reports whether the request has reached a final status.
func (r CollectionRequest) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// ScrapedPost is one normalized content item. The tuple
// (platform, post id, folder id) is unique in the post store.
type ScrapedPost struct {
	Platform     Platform        `json:"platform"`
	PostID       string          `json:"post_id"`
	FolderID     string          `json:"folder_id"`
	AuthorHandle string          `json:"author_handle"`
	Content      string          `json:"content"`
	Likes        int             `json:"likes"`
	Comments     int             `json:"comments"`
	Shares       int             `json:"shares"`
	PostedAt     time.Time       `json:"posted_at"`
	RequestID    string          `json:"request_id"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty"`
	Channel      DeliveryChannel `json:"delivery_channel"`
	DeliveredAt  time.Time       `json:"delivered_at"`
}

// FolderKind is one of the four levels of the folder hierarchy.
type FolderKind string

// Folder kinds, top of the tree first.
const (
	FolderKindRun      FolderKind = "run"
	FolderKindPlatform FolderKind = "platform"
	FolderKindService  FolderKind = "service"
	FolderKindJob      FolderKind = "job"
)

// Folder is one node of the run/platform/service/job tree. A job folder owns
// collection requests and scraped posts; its ancestors exist for grouping.
type Folder struct {
	ID               string     `json:"id"`
	Kind             FolderKind `json:"kind"`
	Name             string     `json:"name"`
	ParentID         *string    `json:"parent_id,omitempty"`
	ProjectID        string     `json:"project_id"`
	PlatformCode     string     `json:"platform_code,omitempty"`
	ServiceCode      string     `json:"service_code,omitempty"`
	LastScrapeNumber int        `json:"last_scrape_number"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DispatchRequest is the canonical shape handed to a provider adapter.
type DispatchRequest struct {
	Platform    Platform
	Targets     []string
	Window      DateWindow
	Limit       int
	RequestID   string
	CallbackURL string
}

// JobHandle is returned by a successful provider dispatch.
type JobHandle struct {
	Provider    Provider `json:"provider"`
	JobID       string   `json:"job_id"`
	CallbackURL string   `json:"callback_url,omitempty"`
}

// ResultBatch carries the raw items a provider delivered for one job.
type ResultBatch struct {
	Items []json.RawMessage
}

// PostCandidate is the adapter-normalized form of one raw provider item,
// before the gateway attaches folder and request identity.
type PostCandidate struct {
	PostID       string
	AuthorHandle string
	Content      string
	Likes        int
	Comments     int
	Shares       int
	PostedAt     time.Time
	Raw          json.RawMessage
}

// UpsertStats summarizes one post-store upsert batch.
type UpsertStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Total returns the number of rows the batch touched or matched.
func (s UpsertStats) Total() int {
	return s.Inserted + s.Updated + s.Skipped
}
