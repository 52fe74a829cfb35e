package downloader

import (
	"context"
	"time"

	"github.com/lvcoi/tubeform/internal/media"
)

// Extractor resolves site pages into media metadata and stream files.
// Implementations delegate the site-specific work to an external tool or
// library.
type Extractor interface {
	Name() string
	Probe(ctx context.Context, url string) (*media.Video, error)
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
	StreamLinks(ctx context.Context, url, selector string) ([]StreamLink, error)
}

// FetchRequest describes one extractor download into Dir.
type FetchRequest struct {
	URL       string
	Selector  string
	Dir       string
	AudioOnly bool
	// PostProcess asks the extractor to merge or convert on its own when it
	// is able to. Extractors that cannot leave raw streams in Dir.
	PostProcess  bool
	AudioBitrate string
	Progress     ProgressFunc
}

// FetchResult lists the files an extractor produced.
type FetchResult struct {
	Title string
	Files []string
	// Processed reports that Files already holds the final container.
	Processed bool
}

// StreamLink is a direct media URL returned instead of a download.
type StreamLink struct {
	Kind   string `json:"kind"`
	URL    string `json:"url"`
	Ext    string `json:"ext,omitempty"`
	Height int    `json:"height,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Stream link kinds.
const (
	LinkProgressive = "progressive"
	LinkVideo       = "video"
	LinkAudio       = "audio"
)

// Progress is a point-in-time view of a running download.
type Progress struct {
	Stage      string        `json:"stage"`
	Downloaded int64         `json:"downloaded"`
	Total      int64         `json:"total"`
	Percent    float64       `json:"percent"`
	Speed      string        `json:"speed,omitempty"`
	ETA        time.Duration `json:"eta,omitempty"`
	Message    string        `json:"message,omitempty"`
	// Fallback is set once the requested quality was replaced.
	Fallback bool `json:"fallback,omitempty"`
}

// Progress stages.
const (
	StageStarting    = "starting"
	StageDownloading = "downloading"
	StageProcessing  = "processing"
	StageComplete    = "complete"
	StageFailed      = "failed"
)

// ProgressFunc receives progress updates. It may be called from another
// goroutine and must not block.
type ProgressFunc func(Progress)

func (f ProgressFunc) emit(p Progress) {
	if f != nil {
		f(p)
	}
}
