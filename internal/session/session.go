// Package session keeps the per-browser form state between requests.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

// ErrNotFound is returned by Load when no state exists for the ID.
var ErrNotFound = errors.New("session not found")

// DefaultTTL bounds how long idle state is kept.
const DefaultTTL = 2 * time.Hour

// State is what the page remembers for one visitor. The flags mirror the
// form's lifecycle: a probe fills Video, a download sets Started and then
// either Complete or Error.
type State struct {
	URL            string                  `json:"url,omitempty"`
	Video          *media.Video            `json:"video,omitempty"`
	Options        []media.Option          `json:"options,omitempty"`
	Languages      []string                `json:"languages,omitempty"`
	FetchSeconds   float64                 `json:"fetch_seconds,omitempty"`
	SelectedOption string                  `json:"selected_option,omitempty"`
	Language       string                  `json:"language,omitempty"`
	Started        bool                    `json:"started,omitempty"`
	Complete       bool                    `json:"complete,omitempty"`
	Error          string                  `json:"error,omitempty"`
	Hint           string                  `json:"hint,omitempty"`
	Filename       string                  `json:"filename,omitempty"`
	Path           string                  `json:"path,omitempty"`
	JobID          string                  `json:"job_id,omitempty"`
	PublicURL      string                  `json:"public_url,omitempty"`
	Fallback       bool                    `json:"fallback,omitempty"`
	Links          []downloader.StreamLink `json:"links,omitempty"`
}

// ResetDownload clears the outcome of the previous download while keeping
// the fetched video.
func (s *State) ResetDownload() {
	s.Started = false
	s.Complete = false
	s.Error = ""
	s.Hint = ""
	s.Filename = ""
	s.Path = ""
	s.JobID = ""
	s.PublicURL = ""
	s.Fallback = false
	s.Links = nil
}

// Fail records a user-facing error and its hint.
func (s *State) Fail(err error) {
	s.Started = false
	s.Complete = false
	s.Error = downloader.UserMessage(err)
	s.Hint = downloader.Hint(err)
}

// Store persists State by session ID.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, id string, state *State) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemoryStore keeps state in process. Entries expire after the TTL and are
// swept lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore; ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().After(e.expires) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	st := e.state
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, state *State) error {
	if state == nil {
		return errors.New("nil session state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	m.entries[id] = memoryEntry{state: *state, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	return len(m.entries)
}

func (m *MemoryStore) sweep(now time.Time) {
	for id, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, id)
		}
	}
}
