package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
	"github.com/lvcoi/tubeform/internal/session"
)

const sessionCookie = "tubeform_sid"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

type pageRenderer struct {
	index *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	funcs := template.FuncMap{
		"size":     media.FormatSize,
		"duration": media.FormatDuration,
		"views":    media.FormatViews,
		"tier":     media.QualityTier,
		"percent":  func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
		"seconds":  func(s float64) string { return fmt.Sprintf("%.1f", s) },
	}
	tmpl, err := template.New("index.html").Funcs(funcs).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &pageRenderer{index: tmpl}, nil
}

func (p *pageRenderer) render(w http.ResponseWriter, data pageData) error {
	var buf bytes.Buffer
	if err := p.index.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, err := buf.WriteTo(w)
	return err
}

// pageData is everything the form page renders.
type pageData struct {
	State      *session.State
	Selected   media.Option
	Progress   downloader.Progress
	Queued     bool
	Extractor  string
	Transcoder bool
}

// InProgress reports whether the page should show the live progress block.
func (d pageData) InProgress() bool {
	st := d.State
	return st.Started && !st.Complete && st.Error == "" && st.JobID != ""
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if id := requestSession(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// requestSession returns the caller's session cookie without issuing one.
func requestSession(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) loadState(ctx context.Context, id string) *session.State {
	st, err := s.sessions.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("loading session failed", "err", err)
		}
		return &session.State{}
	}
	return st
}

func (s *Server) saveState(ctx context.Context, id string, st *session.State) {
	if err := s.sessions.Save(ctx, id, st); err != nil {
		s.logger.Warn("saving session failed", "err", err)
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	id := s.sessionID(w, r)
	st := s.loadState(r.Context(), id)
	progress, queued := s.reconcile(st)
	s.saveState(r.Context(), id, st)

	data := pageData{
		State:      st,
		Progress:   progress,
		Queued:     queued,
		Extractor:  s.service.Extractor(),
		Transcoder: s.service.TranscoderAvailable(),
	}
	if opt, ok := media.FindOption(st.Options, st.SelectedOption); ok {
		data.Selected = opt
	}
	if err := s.page.render(w, data); err != nil {
		s.logger.Error("rendering page failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// reconcile folds the outcome of the session's job into its flags.
func (s *Server) reconcile(st *session.State) (downloader.Progress, bool) {
	if st.JobID == "" || !st.Started || st.Complete || st.Error != "" {
		return downloader.Progress{}, false
	}
	job, ok := s.jobs.Get(st.JobID)
	if !ok {
		st.ResetDownload()
		st.Error = "The download expired before it was collected."
		st.Hint = "Start the download again."
		return downloader.Progress{}, false
	}
	snap := job.Snapshot()
	st.Fallback = snap.Fallback
	switch snap.Status {
	case statusComplete:
		st.Complete = true
		st.Filename = snap.Filename
		st.PublicURL = snap.PublicURL
		if snap.PublicURL != "" {
			st.Path = snap.PublicURL
			return snap.Progress, false
		}
		st.Path = fileURL(job.ID)
		if a := job.Artifact(); a != nil {
			if _, err := os.Stat(a.Path); err != nil {
				st.Complete = false
				st.Error = fmt.Sprintf("Download finished but %s was not found on the server.", a.Filename)
				st.Hint = "Try downloading again."
			}
		}
	case statusError:
		st.Started = false
		st.Error = snap.Error
		st.Hint = snap.Hint
	case statusQueued:
		return snap.Progress, true
	}
	return snap.Progress, false
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form submission")
		return
	}
	s.discardJob(s.loadState(r.Context(), id))

	st := &session.State{URL: strings.TrimSpace(r.PostFormValue("url"))}
	res, err := s.service.Probe(r.Context(), st.URL)
	if err != nil {
		st.Fail(err)
	} else {
		st.URL = res.URL
		st.Video = res.Video
		st.Options = res.Options
		st.Languages = res.Languages
		st.FetchSeconds = res.Elapsed.Seconds()
		if len(res.Options) > 0 {
			st.SelectedOption = res.Options[0].Name
		}
	}
	s.saveState(r.Context(), id, st)
	redirectHome(w, r)
}

// selection reads the quality and language fields shared by the download
// and direct-link forms.
func (s *Server) selection(r *http.Request, st *session.State) (media.Option, bool) {
	if err := r.ParseForm(); err != nil {
		return media.Option{}, false
	}
	if st.Video == nil {
		st.Error = "Fetch a video first."
		st.Hint = "Paste a link and press Fetch."
		return media.Option{}, false
	}
	name := r.PostFormValue("option")
	opt, ok := media.FindOption(st.Options, name)
	if !ok {
		st.Error = "Choose one of the offered qualities."
		st.Hint = ""
		return media.Option{}, false
	}
	st.SelectedOption = opt.Name
	st.Language = strings.TrimSpace(r.PostFormValue("language"))
	if st.Language != "" && !slices.Contains(st.Languages, st.Language) {
		st.Language = ""
		st.Error = "Choose one of the offered audio languages."
		st.Hint = ""
		return media.Option{}, false
	}
	return opt, true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	st := s.loadState(r.Context(), id)
	s.discardJob(st)
	st.ResetDownload()
	defer func() {
		s.saveState(r.Context(), id, st)
		redirectHome(w, r)
	}()

	opt, ok := s.selection(r, st)
	if !ok {
		return
	}
	job, err := s.startDownload(id, downloader.DownloadRequest{
		URL:      st.URL,
		Option:   opt,
		Language: st.Language,
		Title:    st.Video.Title,
		Channel:  st.Video.Channel,
		VideoID:  st.Video.ID,
	})
	if err != nil {
		s.logger.Error("queueing download failed", "err", err)
		st.Error = "The server is shutting down."
		st.Hint = "Try again in a moment."
		return
	}
	st.Started = true
	st.JobID = job.ID
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	st := s.loadState(r.Context(), id)
	s.discardJob(st)
	st.ResetDownload()
	defer func() {
		s.saveState(r.Context(), id, st)
		redirectHome(w, r)
	}()

	opt, ok := s.selection(r, st)
	if !ok {
		return
	}
	links, err := s.service.DirectLinks(r.Context(), st.URL, opt, st.Language)
	if err != nil {
		st.Fail(err)
		return
	}
	st.Links = links
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.discardJob(s.loadState(r.Context(), id))
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Warn("deleting session failed", "err", err)
	}
	redirectHome(w, r)
}

// discardJob drops a finished job the visitor is moving away from. Running
// jobs are left to finish and expire.
func (s *Server) discardJob(st *session.State) {
	if st == nil || st.JobID == "" {
		return
	}
	job, ok := s.jobs.Get(st.JobID)
	if !ok || job.isActive() {
		return
	}
	s.jobs.Delete(st.JobID)
}
