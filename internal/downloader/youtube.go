package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/tubeform/internal/media"
)

// YouTube is an in-process extractor backed by github.com/kkdai/youtube. It
// handles youtube.com URLs only and never post-processes: separate video and
// audio streams are left for the Service to merge or package.
type YouTube struct {
	client YouTubeClient
}

// YouTubeOptions tunes the HTTP client used for API and stream requests.
type YouTubeOptions struct {
	Timeout   time.Duration
	Retries   int
	ChunkSize int64
}

// NewYouTube builds the kkdai-backed extractor.
func NewYouTube(opts YouTubeOptions) *YouTube {
	adapter := &youtubeClientAdapter{&youtube.Client{HTTPClient: newHTTPClient(opts.Timeout, opts.Retries)}}
	if opts.ChunkSize > 0 {
		adapter.SetChunkSize(opts.ChunkSize)
	}
	return &YouTube{client: adapter}
}

// NewYouTubeWithClient wires a caller-provided client.
func NewYouTubeWithClient(client YouTubeClient) *YouTube {
	return &YouTube{client: client}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) video(ctx context.Context, url string) (*youtube.Video, error) {
	if !IsYouTubeURL(url) {
		return nil, wrapCategory(CategoryUnsupported, fmt.Errorf("unsupported url: %s is not a YouTube link", url))
	}
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyYouTubeError(err)
	}
	return video, nil
}

// Probe maps the player response into media.Video.
func (y *YouTube) Probe(ctx context.Context, url string) (*media.Video, error) {
	video, err := y.video(ctx, url)
	if err != nil {
		return nil, err
	}
	out := &media.Video{
		ID:         video.ID,
		Title:      video.Title,
		Channel:    video.Author,
		Duration:   int(video.Duration / time.Second),
		Views:      int64(video.Views),
		WebpageURL: "https://www.youtube.com/watch?v=" + video.ID,
		Extractor:  y.Name(),
	}
	if n := len(video.Thumbnails); n > 0 {
		out.Thumbnail = video.Thumbnails[n-1].URL
	}
	for i := range video.Formats {
		out.Formats = append(out.Formats, convertFormat(&video.Formats[i]))
	}
	return out, nil
}

// Fetch downloads the streams chosen by the selector into req.Dir.
func (y *YouTube) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	video, err := y.video(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	picked, err := pickStreams(video, media.ParseSelector(req.Selector))
	if err != nil {
		return nil, err
	}

	result := &FetchResult{Title: video.Title}
	for i, f := range picked {
		label := fmt.Sprintf("stream %d/%d", i+1, len(picked))
		path, err := y.download(ctx, video, f, req.Dir, label, req.Progress)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, path)
	}
	return result, nil
}

// StreamLinks resolves direct URLs for the streams the selector picks.
func (y *YouTube) StreamLinks(ctx context.Context, url, selector string) ([]StreamLink, error) {
	video, err := y.video(ctx, url)
	if err != nil {
		return nil, err
	}
	picked, err := pickStreams(video, media.ParseSelector(selector))
	if err != nil {
		return nil, err
	}
	links := make([]StreamLink, 0, len(picked))
	for _, f := range picked {
		streamURL, err := y.client.GetStreamURLContext(ctx, video, f)
		if err != nil {
			return nil, classifyYouTubeError(err)
		}
		mf := convertFormat(f)
		links = append(links, StreamLink{
			Kind:   linkKind(mf),
			URL:    streamURL,
			Ext:    mf.Ext,
			Height: mf.Height,
			Note:   mf.Note,
		})
	}
	return links, nil
}

func (y *YouTube) download(ctx context.Context, video *youtube.Video, f *youtube.Format, dir, label string, report ProgressFunc) (string, error) {
	stream, size, err := y.client.GetStreamContext(ctx, video, f)
	if err != nil {
		return "", classifyYouTubeError(err)
	}
	defer stream.Close()

	mf := convertFormat(f)
	path := filepath.Join(dir, fmt.Sprintf("%s.f%d.%s", video.ID, f.ItagNo, mf.Ext))
	file, err := os.Create(path)
	if err != nil {
		return "", wrapCategory(CategoryFilesystem, fmt.Errorf("creating %s: %w", filepath.Base(path), err))
	}

	if size <= 0 {
		size = f.ContentLength
	}
	progress := newProgressWriter(size, label, report)
	_, copyErr := copyWithContext(ctx, io.MultiWriter(file, progress), stream)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", wrapCategory(CategoryNetwork, fmt.Errorf("download interrupted: %w", copyErr))
	}
	if closeErr != nil {
		return "", wrapCategory(CategoryFilesystem, closeErr)
	}
	progress.Finish()
	return path, nil
}

// pickStreams returns either one progressive/audio stream, or a video-only
// stream followed by an audio-only stream.
func pickStreams(video *youtube.Video, sel media.Selector) ([]*youtube.Format, error) {
	var videoOnly, audioOnly, progressive []*youtube.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		mf := convertFormat(f)
		switch {
		case mf.HasVideo() && mf.HasAudio():
			progressive = append(progressive, f)
		case mf.HasVideo():
			videoOnly = append(videoOnly, f)
		case mf.HasAudio():
			audioOnly = append(audioOnly, f)
		}
	}

	if sel.AudioOnly {
		if a := bestAudio(audioOnly, sel.Language, ""); a != nil {
			return []*youtube.Format{a}, nil
		}
		if p := bestVideo(progressive, 0, ""); p != nil {
			return []*youtube.Format{p}, nil
		}
		return nil, wrapCategory(CategoryUnsupported, errors.New("requested format not available: no audio streams"))
	}

	v := bestVideo(videoOnly, sel.MaxHeight, sel.Ext)
	p := bestVideo(progressive, sel.MaxHeight, sel.Ext)
	if v != nil && (p == nil || v.Height > p.Height) {
		audioExt := ""
		if convertFormat(v).Ext == "mp4" {
			audioExt = "m4a"
		}
		if a := bestAudio(audioOnly, sel.Language, audioExt); a != nil {
			return []*youtube.Format{v, a}, nil
		}
	}
	if p != nil {
		return []*youtube.Format{p}, nil
	}
	return nil, wrapCategory(CategoryUnsupported, fmt.Errorf("requested format not available: nothing at or below %dp", sel.MaxHeight))
}

func bestVideo(formats []*youtube.Format, maxHeight int, ext string) *youtube.Format {
	candidates := make([]*youtube.Format, 0, len(formats))
	for _, f := range formats {
		if maxHeight > 0 && f.Height > maxHeight {
			continue
		}
		candidates = append(candidates, f)
	}
	if ext != "" {
		var matching []*youtube.Format
		for _, f := range candidates {
			if convertFormat(f).Ext == ext {
				matching = append(matching, f)
			}
		}
		if len(matching) > 0 {
			candidates = matching
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Height != candidates[j].Height {
			return candidates[i].Height > candidates[j].Height
		}
		return candidates[i].Bitrate > candidates[j].Bitrate
	})
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

func bestAudio(formats []*youtube.Format, language, ext string) *youtube.Format {
	candidates := formats
	if language != "" {
		var matching []*youtube.Format
		for _, f := range formats {
			if strings.EqualFold(trackLanguage(f), language) {
				matching = append(matching, f)
			}
		}
		if len(matching) > 0 {
			candidates = matching
		}
	}
	if ext != "" {
		var matching []*youtube.Format
		for _, f := range candidates {
			if convertFormat(f).Ext == ext {
				matching = append(matching, f)
			}
		}
		if len(matching) > 0 {
			candidates = matching
		}
	}
	var best *youtube.Format
	for _, f := range candidates {
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// trackLanguage returns the language tag of a multi-language audio track.
// Track IDs look like "en.4" or "en-US.4"; single-track videos have none.
func trackLanguage(f *youtube.Format) string {
	if f.AudioTrack == nil {
		return ""
	}
	tag, _, _ := strings.Cut(f.AudioTrack.ID, ".")
	return tag
}

// convertFormat derives container and codecs from the MIME type, e.g.
// `video/mp4; codecs="avc1.64001F, mp4a.40.2"`.
func convertFormat(f *youtube.Format) media.Format {
	out := media.Format{
		ID:       strconv.Itoa(f.ItagNo),
		Height:   f.Height,
		Width:    f.Width,
		Filesize: f.ContentLength,
		Bitrate:  f.Bitrate,
		Language: trackLanguage(f),
		Note:     f.QualityLabel,
		URL:      f.URL,
	}
	mediaType, params, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		mediaType = f.MimeType
	}
	var codecs []string
	for _, c := range strings.Split(params["codecs"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}
	kind, container, _ := strings.Cut(mediaType, "/")
	out.Ext = container
	switch kind {
	case "audio":
		out.VCodec = "none"
		out.ACodec = firstOr(codecs, 0, "unknown")
		if container == "mp4" {
			out.Ext = "m4a"
		}
		if out.Note == "" {
			out.Note = strings.TrimPrefix(strings.ToLower(f.AudioQuality), "audio_quality_")
		}
	case "video":
		out.VCodec = firstOr(codecs, 0, "unknown")
		out.ACodec = "none"
		if f.AudioChannels > 0 {
			out.ACodec = firstOr(codecs, 1, "unknown")
		}
	}
	return out
}

func firstOr(values []string, i int, fallback string) string {
	if i < len(values) {
		return values[i]
	}
	return fallback
}

func linkKind(f media.Format) string {
	switch {
	case f.HasVideo() && f.HasAudio():
		return LinkProgressive
	case f.HasVideo():
		return LinkVideo
	default:
		return LinkAudio
	}
}

func classifyYouTubeError(err error) error {
	var statusErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &statusErr) && int(statusErr) == 403 {
		return wrapCategory(CategoryRestricted, fmt.Errorf("http error 403: %w", err))
	}
	return Classify(err)
}
