package web

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

const publishTimeout = 10 * time.Minute

func fileURL(jobID string) string { return "/files/" + jobID }

// startDownload creates a job for req owned by the given session and queues
// it on the pool. Form and API submissions share this path.
func (s *Server) startDownload(owner string, req downloader.DownloadRequest) (*Job, error) {
	job := s.jobs.Create(owner, req.URL, req.Title, req.Option)
	req.Progress = job.SetProgress
	req.OutputDir = s.opts.OutputDir

	var started atomic.Bool
	task := downloader.Task{
		ID:      job.ID,
		Request: req,
		FileURL: fileURL(job.ID),
		OnStart: func(string) {
			job.SetRunning()
			if s.opts.Metrics != nil {
				started.Store(true)
				s.opts.Metrics.DownloadStarted()
			}
		},
		OnFinish: func(_ string, res *downloader.DownloadResult, err error) {
			if started.Load() {
				s.opts.Metrics.DownloadFinished()
			}
			var publicURL string
			if err == nil && s.opts.Publisher != nil {
				publicURL = s.publish(job.ID, res.Artifact)
			}
			job.Finish(res, err, s.jobs.now())
			if publicURL != "" {
				job.SetPublicURL(publicURL)
				job.discard()
			}
		},
	}
	if err := s.pool.AddTask(task); err != nil {
		s.jobs.Delete(job.ID)
		return nil, err
	}
	s.logger.Info("download queued", "job", job.ID, "url", req.URL, "option", req.Option.Name)
	return job, nil
}

// publish uploads a finished artifact. Failures fall back to serving the
// local file.
func (s *Server) publish(jobID string, a *media.Artifact) string {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	url, err := s.opts.Publisher.Publish(ctx, a)
	if err != nil {
		s.logger.Warn("publishing artifact failed", "job", jobID, "file", a.Filename, "err", err)
		return ""
	}
	s.logger.Info("artifact published", "job", jobID, "file", a.Filename)
	return url
}
