package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/dispatch"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

type scrapeRequestBody struct {
	ProjectID string   `json:"project_id"`
	RunName   string   `json:"run_name"`
	Platform  string   `json:"platform"`
	Service   string   `json:"service"`
	Targets   []string `json:"targets"`
	Limit     int      `json:"limit"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	NewJob    bool     `json:"new_job,omitempty"`
}

func (b scrapeRequestBody) toParams() (dispatch.Params, error) {
	if b.ProjectID == "" || b.RunName == "" || b.Platform == "" || b.Service == "" {
		return dispatch.Params{}, errors.New("project_id, run_name, platform, and service are required")
	}
	if len(b.Targets) == 0 {
		return dispatch.Params{}, errors.New("at least one target is required")
	}
	params := dispatch.Params{
		ProjectID: b.ProjectID,
		RunName:   b.RunName,
		Platform:  scraper.Platform(b.Platform),
		Service:   b.Service,
		Targets:   b.Targets,
		Limit:     b.Limit,
		NewJob:    b.NewJob,
	}
	if b.StartDate != "" {
		start, err := time.Parse(scraper.WireDateFormat, b.StartDate)
		if err != nil {
			return dispatch.Params{}, fmt.Errorf("start_date: want DD-MM-YYYY: %w", err)
		}
		params.Window.Start = start
	}
	if b.EndDate != "" {
		end, err := time.Parse(scraper.WireDateFormat, b.EndDate)
		if err != nil {
			return dispatch.Params{}, fmt.Errorf("end_date: want DD-MM-YYYY: %w", err)
		}
		params.Window.End = end
	}
	return params, nil
}

func (s *Server) createScrapeRequest(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := body.toParams()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.dispatcher.CreateAndDispatch(r.Context(), params)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// A failed dispatch still created the request; the caller can inspect it.
	s.writeJSON(w, http.StatusAccepted, map[string]any{"request": req})
}

func (s *Server) getScrapeRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	req, err := s.requests.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, scraper.ErrRequestNotFound) {
			s.writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "fetch request failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

type webhookResponse struct {
	ItemsProcessed int  `json:"items_processed"`
	Unmatched      bool `json:"unmatched"`
}

// handleWebhook ingests a provider push. It answers 200 for every delivery
// the server could read: a non-2xx would make the provider retry payloads we
// have already archived or can reconcile by polling.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	prov := scraper.Provider(chi.URLParam(r, "provider"))
	if prov != scraper.ProviderBrightData && prov != scraper.ProviderApify {
		s.writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	jobID := r.Header.Get("Snapshot-Id")
	if jobID == "" {
		jobID = r.URL.Query().Get("snapshot_id")
	}
	if jobID == "" {
		s.logger.Warn("webhook without job id", zap.String("provider", string(prov)))
		s.writeJSON(w, http.StatusOK, webhookResponse{Unmatched: true})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	outcome, err := s.gateway.IngestWebhook(r.Context(), prov, jobID, payload)
	if err != nil {
		// The payload is archived; reconciliation falls to the sweeper.
		s.logger.Error("webhook ingestion failed",
			zap.String("provider", string(prov)),
			zap.String("provider_job_id", jobID),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusOK, webhookResponse{Unmatched: !outcome.Matched})
		return
	}
	s.writeJSON(w, http.StatusOK, webhookResponse{
		ItemsProcessed: outcome.ItemsProcessed,
		Unmatched:      !outcome.Matched,
	})
}

type folderPostsResponse struct {
	Success      bool                  `json:"success"`
	TotalResults int                   `json:"total_results"`
	Data         []scraper.ScrapedPost `json:"data"`
	FolderName   string                `json:"folder_name"`
	Status       string                `json:"status"`
}

func (s *Server) listFolderPosts(w http.ResponseWriter, r *http.Request) {
	folderID := chi.URLParam(r, "folder_id")
	folder, err := s.folders.GetFolder(r.Context(), folderID)
	if err != nil {
		if errors.Is(err, scraper.ErrFolderNotFound) {
			s.writeError(w, http.StatusNotFound, "folder not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "fetch folder failed")
		return
	}

	posts, err := s.posts.ListPosts(r.Context(), folderID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "fetch posts failed")
		return
	}
	requests, err := s.requests.ListByFolder(r.Context(), folderID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "fetch requests failed")
		return
	}

	status := aggregateStatus(requests)
	if posts == nil {
		posts = []scraper.ScrapedPost{}
	}
	s.writeJSON(w, http.StatusOK, folderPostsResponse{
		Success:      status == string(scraper.StatusCompleted),
		TotalResults: len(posts),
		Data:         posts,
		FolderName:   folder.Name,
		Status:       status,
	})
}

// aggregateStatus reduces a folder's requests to one status: any in-flight
// request keeps the folder processing; a folder completes once at least one
// request completed and none are still running.
func aggregateStatus(requests []scraper.CollectionRequest) string {
	if len(requests) == 0 {
		return string(scraper.StatusPending)
	}
	anyCompleted := false
	for _, req := range requests {
		switch req.Status {
		case scraper.StatusPending, scraper.StatusProcessing:
			return string(scraper.StatusProcessing)
		case scraper.StatusCompleted:
			anyCompleted = true
		}
	}
	if anyCompleted {
		return string(scraper.StatusCompleted)
	}
	return string(scraper.StatusFailed)
}
