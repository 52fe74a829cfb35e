package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

// Job statuses.
const (
	statusQueued   = "queued"
	statusRunning  = "running"
	statusComplete = "complete"
	statusError    = "error"
)

var (
	errArtifactServed  = errors.New("file was already downloaded")
	errArtifactMissing = errors.New("download has not finished")
)

// JobStatus is the serializable view of a job.
type JobStatus struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	URL         string              `json:"url"`
	Title       string              `json:"title,omitempty"`
	Option      string              `json:"option"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt time.Time           `json:"completed_at,omitempty"`
	Progress    downloader.Progress `json:"progress"`
	Filename    string              `json:"filename,omitempty"`
	Size        int64               `json:"size,omitempty"`
	Fallback    bool                `json:"fallback,omitempty"`
	PublicURL   string              `json:"public_url,omitempty"`
	Error       string              `json:"error,omitempty"`
	Hint        string              `json:"hint,omitempty"`
	Category    string              `json:"category,omitempty"`
	Served      bool                `json:"served,omitempty"`
}

// Job is one download started from the form or the API. Only the session
// that started it, or a caller holding its key, may read or fetch it.
type Job struct {
	ID string

	owner string
	key   string

	mu       sync.RWMutex
	st       JobStatus
	artifact *media.Artifact
}

// jobTracker manages download jobs until they expire.
type jobTracker struct {
	jobs sync.Map
	now  func() time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{now: time.Now}
}

func (jt *jobTracker) Create(owner, url, title string, option media.Option) *Job {
	id := uuid.NewString()
	job := &Job{
		ID:    id,
		owner: owner,
		key:   uuid.NewString(),
		st: JobStatus{
			ID:        id,
			Status:    statusQueued,
			URL:       url,
			Title:     title,
			Option:    option.Name,
			CreatedAt: jt.now(),
		},
	}
	jt.jobs.Store(job.ID, job)
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	v, ok := jt.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (jt *jobTracker) ActiveCount() int {
	count := 0
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok && j.isActive() {
			count++
		}
		return true
	})
	return count
}

// Delete forgets a job and removes its unserved artifact.
func (jt *jobTracker) Delete(id string) {
	v, ok := jt.jobs.LoadAndDelete(id)
	if !ok {
		return
	}
	v.(*Job).discard()
}

// RemoveExpired drops finished jobs older than their TTL along with any
// temporary artifact that was never fetched.
func (jt *jobTracker) RemoveExpired(now time.Time, completedTTL, erroredTTL time.Duration) int {
	removed := 0
	jt.jobs.Range(func(key, value any) bool {
		id, ok := key.(string)
		if !ok {
			return true
		}
		job, ok := value.(*Job)
		if !ok {
			return true
		}
		if job.isExpired(now, completedTTL, erroredTTL) {
			jt.jobs.Delete(id)
			job.discard()
			removed++
		}
		return true
	})
	return removed
}

func (jt *jobTracker) StartCleanup(ctx context.Context, interval, completedTTL, erroredTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, completedTTL, erroredTTL)
			}
		}
	}()
}

// Key is the capability handed to API clients in job links.
func (j *Job) Key() string { return j.key }

func (j *Job) accessibleBy(sessionID, key string) bool {
	if sessionID != "" && j.owner != "" && subtle.ConstantTimeCompare([]byte(sessionID), []byte(j.owner)) == 1 {
		return true
	}
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(j.key)) == 1
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.st.Status == statusQueued || j.st.Status == statusRunning
}

// Snapshot returns a copy safe to serialize.
func (j *Job) Snapshot() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.st
}

func (j *Job) SetRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.st.Status = statusRunning
}

func (j *Job) SetProgress(p downloader.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.st.Progress = p
	if p.Fallback {
		j.st.Fallback = true
	}
}

func (j *Job) SetPublicURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.st.PublicURL = url
}

// Finish records the outcome of the download.
func (j *Job) Finish(res *downloader.DownloadResult, err error, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.st.CompletedAt = now
	if err != nil {
		j.st.Status = statusError
		j.st.Error = downloader.UserMessage(err)
		j.st.Hint = downloader.Hint(err)
		j.st.Category = string(downloader.CategoryOf(err))
		return
	}
	j.st.Status = statusComplete
	j.artifact = res.Artifact
	j.st.Filename = res.Artifact.Filename
	j.st.Size = res.Artifact.Size
	j.st.Fallback = j.st.Fallback || res.Fallback
}

// Artifact returns the finished artifact without handing it over.
func (j *Job) Artifact() *media.Artifact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.artifact
}

// TakeArtifact hands the artifact to exactly one caller.
func (j *Job) TakeArtifact() (*media.Artifact, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.st.Served {
		return nil, errArtifactServed
	}
	if j.artifact == nil {
		return nil, errArtifactMissing
	}
	j.st.Served = true
	a := j.artifact
	j.artifact = nil
	return a, nil
}

func (j *Job) discard() {
	j.mu.Lock()
	a := j.artifact
	j.artifact = nil
	j.mu.Unlock()
	if a != nil && a.Temporary {
		downloader.Discard(a)
	}
}

func (j *Job) isExpired(now time.Time, completedTTL, erroredTTL time.Duration) bool {
	j.mu.RLock()
	status := j.st.Status
	completedAt := j.st.CompletedAt
	j.mu.RUnlock()

	if completedAt.IsZero() {
		return false
	}
	switch status {
	case statusComplete:
		if completedTTL <= 0 {
			return false
		}
		return now.Sub(completedAt) > completedTTL
	case statusError:
		if erroredTTL <= 0 {
			return false
		}
		return now.Sub(completedAt) > erroredTTL
	default:
		return false
	}
}
