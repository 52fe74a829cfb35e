package downloader

import (
	"context"
	"io"

	"github.com/kkdai/youtube/v2"
)

// YouTubeClient is the subset of *youtube.Client the in-process extractor
// needs. Tests substitute a fake.
type YouTubeClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// youtubeClientAdapter wraps *youtube.Client so chunk size can be set
// through the interface owner.
type youtubeClientAdapter struct {
	*youtube.Client
}

func (a *youtubeClientAdapter) SetChunkSize(s int64) { a.Client.ChunkSize = s }

var _ YouTubeClient = (*youtubeClientAdapter)(nil)
