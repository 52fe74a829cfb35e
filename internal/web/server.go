// Package web serves the download form and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lvcoi/tubeform/internal/db"
	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
	"github.com/lvcoi/tubeform/internal/session"
	"github.com/lvcoi/tubeform/internal/ws"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	jobCompletedTTL     = 15 * time.Minute
	jobErroredTTL       = 30 * time.Minute
	jobCleanupInterval  = time.Minute
)

// History lists recorded downloads.
type History interface {
	List(ctx context.Context, category string, limit, offset int) ([]db.Download, error)
	Count(ctx context.Context, category string) (int, error)
}

// Publisher uploads a finished artifact and returns a shareable URL.
type Publisher interface {
	Publish(ctx context.Context, a *media.Artifact) (string, error)
}

// Metrics is the web-side view of the metrics registry.
type Metrics interface {
	Handler() http.Handler
	AddServedBytes(n int64)
	DownloadStarted()
	DownloadFinished()
}

// Options wires the server's collaborators. Service and Sessions are
// required; the rest are optional.
type Options struct {
	Service   *downloader.Service
	Sessions  session.Store
	History   History
	Publisher Publisher
	Metrics   Metrics
	Hub       *ws.Hub
	Logger    *slog.Logger

	MaxDownloads   int
	RequestTimeout time.Duration
	// OutputDir keeps finished files on disk when set; otherwise artifacts
	// are removed once served or expired.
	OutputDir string
	// PublicBaseURL prefixes links returned by the API, e.g.
	// "https://dl.example.com". Relative links are used when empty.
	PublicBaseURL string
	SecureCookies bool
}

// Server is the HTTP front end.
type Server struct {
	opts      Options
	service   *downloader.Service
	sessions  session.Store
	jobs      *jobTracker
	pool      *downloader.Pool
	hub       *ws.Hub
	logger    *slog.Logger
	page      *pageRenderer
	startedAt time.Time
}

// New builds a server. Call Start (or ListenAndServe) before serving.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("web: service is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("web: session store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxDownloads < 1 {
		opts.MaxDownloads = 2
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	if opts.Hub == nil {
		opts.Hub = ws.NewHub(opts.Logger)
	}
	page, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:      opts,
		service:   opts.Service,
		sessions:  opts.Sessions,
		jobs:      newJobTracker(),
		hub:       opts.Hub,
		logger:    opts.Logger,
		page:      page,
		startedAt: time.Now(),
	}
	s.pool = downloader.NewPool(opts.MaxDownloads, opts.Service, s.hub)
	return s, nil
}

// Start runs the background workers until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	s.pool.Start(ctx)
	s.jobs.StartCleanup(ctx, jobCleanupInterval, jobCompletedTTL, jobErroredTTL)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(withSecurityHeaders)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Get("/", s.handleIndex)
		r.Post("/fetch", s.handleFetch)
		r.Post("/download", s.handleDownload)
		r.Post("/direct", s.handleDirect)
		r.Post("/reset", s.handleReset)

		r.Route("/api", func(r chi.Router) {
			r.Get("/info", s.handleAPIInfo)
			r.Post("/download", s.handleAPIDownload)
			r.Get("/jobs/{id}", s.handleAPIJob)
			r.Get("/status", s.handleAPIStatus)
			r.Get("/history", s.handleAPIHistory)
		})
	})

	// Long-lived responses stay outside the request timeout.
	r.Get("/files/{jobID}", s.handleFile)
	r.Get("/ws", s.handleWS)
	r.Handle("/static/*", staticHandler())
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // artifacts can take minutes to stream
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("web server listening", "addr", addr, "extractor", s.service.Extractor(), "ffmpeg", s.service.TranscoderAvailable())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.pool.Stop()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

type errorResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Hint     string `json:"hint,omitempty"`
	Category string `json:"category,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: message})
}

// writeDownloadError reports an extractor or pipeline failure with its
// category and hint.
func writeDownloadError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{
		Status:   "error",
		Error:    downloader.UserMessage(err),
		Hint:     downloader.Hint(err),
		Category: string(downloader.CategoryOf(err)),
	})
}

func statusForError(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch downloader.CategoryOf(err) {
	case downloader.CategoryInvalidURL:
		return http.StatusBadRequest
	case downloader.CategoryUnsupported:
		return http.StatusUnprocessableEntity
	case downloader.CategoryRestricted:
		return http.StatusForbidden
	case downloader.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; connect-src 'self'; media-src 'self'; form-action 'self'"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}

func parsePagination(r *http.Request) (offset int, limit int, err error) {
	offset = 0
	limit = defaultHistoryLimit
	q := r.URL.Query()
	if rawOffset := q.Get("offset"); rawOffset != "" {
		parsed, parseErr := strconv.Atoi(rawOffset)
		if parseErr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter")
		}
		offset = parsed
	}
	if rawLimit := q.Get("limit"); rawLimit != "" {
		parsed, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit parameter")
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}
	return offset, limit, nil
}
