package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

// handleFile streams a finished artifact exactly once. Temporary files are
// removed as soon as the response is written.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "download not found or expired")
		return
	}
	if !authorizeJob(r, job) {
		writeJSONError(w, http.StatusForbidden, errForeignJob.Error())
		return
	}
	if public := job.Snapshot().PublicURL; public != "" {
		http.Redirect(w, r, public, http.StatusFound)
		return
	}

	a, err := job.TakeArtifact()
	switch {
	case errors.Is(err, errArtifactServed):
		writeJSONError(w, http.StatusGone, err.Error())
		return
	case errors.Is(err, errArtifactMissing):
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f, err := downloader.OpenArtifact(a)
	if err != nil {
		s.logger.Warn("artifact missing on disk", "job", id, "file", a.Filename, "err", err)
		downloader.Discard(a)
		writeJSONError(w, http.StatusGone, "the downloaded file could not be found on the server")
		return
	}
	defer f.Close()

	size := a.Size
	if info, statErr := f.Stat(); statErr == nil {
		size = info.Size()
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(a.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if s.opts.Metrics != nil {
		s.opts.Metrics.AddServedBytes(n)
	}
	if err != nil {
		s.logger.Warn("serving artifact interrupted", "job", id, "file", a.Filename, "written", n, "err", err)
		return
	}
	s.logger.Info("artifact served", "job", id, "file", a.Filename, "size", n)
}

// handleWS subscribes the owner of a job to its progress messages.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("job")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing job parameter")
		return
	}
	job, ok := s.jobs.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if !authorizeJob(r, job) {
		writeJSONError(w, http.StatusForbidden, errForeignJob.Error())
		return
	}
	s.hub.HandleWS(w, r)
}

var errForeignJob = errors.New("download belongs to another session")

// authorizeJob reports whether r comes from the job's session or carries
// its key in the query string.
func authorizeJob(r *http.Request, job *Job) bool {
	return job.accessibleBy(requestSession(r), r.URL.Query().Get("key"))
}

func contentDisposition(filename string) string {
	name := media.SanitizeFilename(filename)
	if name == "" {
		name = "download"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
