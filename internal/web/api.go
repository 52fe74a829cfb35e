package web

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lvcoi/tubeform/internal/db"
	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

type optionView struct {
	media.Option
	SizeLabel      string `json:"size_label"`
	HighResolution bool   `json:"high_resolution,omitempty"`
}

type infoResponse struct {
	URL          string       `json:"url"`
	Video        *media.Video `json:"video"`
	Duration     string       `json:"duration"`
	Views        string       `json:"views"`
	Quality      string       `json:"quality,omitempty"`
	Options      []optionView `json:"options"`
	Languages    []string     `json:"languages,omitempty"`
	FetchSeconds float64      `json:"fetch_seconds"`
	Extractor    string       `json:"extractor"`
	Transcoder   bool         `json:"transcoder"`
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeJSONError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	res, err := s.service.Probe(r.Context(), rawURL)
	if err != nil {
		writeDownloadError(w, err)
		return
	}
	views := make([]optionView, 0, len(res.Options))
	for _, o := range res.Options {
		views = append(views, optionView{Option: o, SizeLabel: o.SizeLabel(), HighResolution: o.HighResolution()})
	}
	writeJSON(w, http.StatusOK, infoResponse{
		URL:          res.URL,
		Video:        res.Video,
		Duration:     media.FormatDuration(res.Video.Duration),
		Views:        media.FormatViews(res.Video.Views),
		Quality:      media.QualityTier(res.Video.MaxHeight()),
		Options:      views,
		Languages:    res.Languages,
		FetchSeconds: res.Elapsed.Seconds(),
		Extractor:    s.service.Extractor(),
		Transcoder:   s.service.TranscoderAvailable(),
	})
}

type apiDownloadRequest struct {
	URL      string `json:"url"`
	Quality  string `json:"quality"`
	Audio    bool   `json:"audio"`
	Language string `json:"language"`
	Direct   bool   `json:"direct"`
}

type apiDownloadResponse struct {
	Status    string                  `json:"status"`
	JobID     string                  `json:"job_id,omitempty"`
	Option    string                  `json:"option"`
	StatusURL string                  `json:"status_url,omitempty"`
	FileURL   string                  `json:"file_url,omitempty"`
	WSURL     string                  `json:"ws_url,omitempty"`
	Links     []downloader.StreamLink `json:"links,omitempty"`
}

func (s *Server) handleAPIDownload(w http.ResponseWriter, r *http.Request) {
	var req apiDownloadRequest
	if reqErr := decodeJSONBody(w, r, &req); reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}
	req.Language = strings.TrimSpace(req.Language)
	if req.Language != "" && !media.ValidLanguage(req.Language) {
		writeJSONError(w, http.StatusBadRequest, "language must be a language code such as en or pt-BR")
		return
	}

	res, err := s.service.Probe(r.Context(), req.URL)
	if err != nil {
		writeDownloadError(w, err)
		return
	}
	opt, err := media.ResolveOption(res.Options, req.Quality, req.Audio)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Direct {
		links, err := s.service.DirectLinks(r.Context(), res.URL, opt, req.Language)
		if err != nil {
			writeDownloadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiDownloadResponse{Status: "ok", Option: opt.Name, Links: links})
		return
	}

	job, err := s.startDownload(s.sessionID(w, r), downloader.DownloadRequest{
		URL:      res.URL,
		Option:   opt,
		Language: req.Language,
		Title:    res.Video.Title,
		Channel:  res.Video.Channel,
		VideoID:  res.Video.ID,
	})
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	key := "key=" + url.QueryEscape(job.Key())
	writeJSON(w, http.StatusAccepted, apiDownloadResponse{
		Status:    statusQueued,
		JobID:     job.ID,
		Option:    opt.Name,
		StatusURL: s.opts.PublicBaseURL + "/api/jobs/" + job.ID + "?" + key,
		FileURL:   s.opts.PublicBaseURL + fileURL(job.ID) + "?" + key,
		WSURL:     "/ws?job=" + url.QueryEscape(job.ID) + "&" + key,
	})
}

func (s *Server) handleAPIJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if !authorizeJob(r, job) {
		writeJSONError(w, http.StatusForbidden, errForeignJob.Error())
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

type statusResponse struct {
	ActiveDownloads int    `json:"active_downloads"`
	Queued          int    `json:"queued"`
	Running         int    `json:"running"`
	Uptime          string `json:"uptime"`
	Extractor       string `json:"extractor"`
	Transcoder      bool   `json:"transcoder"`
	WSClients       int    `json:"ws_clients"`
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		ActiveDownloads: s.jobs.ActiveCount(),
		Queued:          s.pool.Queued(),
		Running:         s.pool.Running(),
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		Extractor:       s.service.Extractor(),
		Transcoder:      s.service.TranscoderAvailable(),
		WSClients:       s.hub.ClientCount(),
	})
}

type historyResponse struct {
	Items  []db.Download `json:"items"`
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "download history is disabled")
		return
	}
	offset, limit, err := parsePagination(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	switch category {
	case "", db.CategoryMusic, db.CategoryPodcast, db.CategoryVideo:
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid category parameter")
		return
	}

	items, err := s.opts.History.List(r.Context(), category, limit, offset)
	if err != nil {
		s.logger.Error("listing history failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not list history")
		return
	}
	total, err := s.opts.History.Count(r.Context(), category)
	if err != nil {
		s.logger.Error("counting history failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not list history")
		return
	}
	if items == nil {
		items = []db.Download{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}
