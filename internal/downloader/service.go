package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lvcoi/tubeform/internal/media"
	"github.com/lvcoi/tubeform/internal/transcode"
)

// Transcoder is the ffmpeg surface the Service post-processes with.
type Transcoder interface {
	Available() bool
	Merge(ctx context.Context, videoPath, audioPath, outputPath string) error
	ExtractMP3(ctx context.Context, inputPath, outputPath, bitrate string) error
	ConvertMP4(ctx context.Context, inputPath, outputPath string) error
}

// HistoryRecorder persists completed downloads.
type HistoryRecorder interface {
	RecordDownload(ctx context.Context, entry media.HistoryEntry) error
}

// Observer receives timings and outcomes, typically for metrics.
type Observer interface {
	ObserveProbe(extractor string, elapsed time.Duration, err error)
	ObserveDownload(kind media.Kind, elapsed time.Duration, size int64, err error)
	ObserveFallback()
}

type noopObserver struct{}

func (noopObserver) ObserveProbe(string, time.Duration, error)                {}
func (noopObserver) ObserveDownload(media.Kind, time.Duration, int64, error) {}
func (noopObserver) ObserveFallback()                                         {}

// Service ties an Extractor to post-processing, history and metrics.
type Service struct {
	extractor    Extractor
	transcoder   Transcoder
	history      HistoryRecorder
	observer     Observer
	logger       *slog.Logger
	tempDir      string
	audioBitrate string
	timeout      time.Duration
	now          func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func WithHistory(h HistoryRecorder) ServiceOption { return func(s *Service) { s.history = h } }

func WithObserver(o Observer) ServiceOption { return func(s *Service) { s.observer = o } }

// WithTempDir sets the parent directory for per-download work dirs.
func WithTempDir(dir string) ServiceOption { return func(s *Service) { s.tempDir = dir } }

// WithAudioBitrate sets the MP3 bitrate, e.g. "192k".
func WithAudioBitrate(b string) ServiceOption { return func(s *Service) { s.audioBitrate = b } }

// WithTimeout bounds each extractor call.
func WithTimeout(d time.Duration) ServiceOption { return func(s *Service) { s.timeout = d } }

func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// NewService builds a Service. transcoder may be nil.
func NewService(extractor Extractor, transcoder Transcoder, opts ...ServiceOption) *Service {
	s := &Service{
		extractor:    extractor,
		transcoder:   transcoder,
		observer:     noopObserver{},
		logger:       slog.Default(),
		audioBitrate: "192k",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extractor returns the backend name.
func (s *Service) Extractor() string { return s.extractor.Name() }

// TranscoderAvailable reports whether merged MP4 and MP3 output is possible.
func (s *Service) TranscoderAvailable() bool {
	return s.transcoder != nil && s.transcoder.Available()
}

// ProbeResult is the metadata view shown before downloading.
type ProbeResult struct {
	URL       string         `json:"url"`
	Video     *media.Video   `json:"video"`
	Options   []media.Option `json:"options"`
	Languages []string       `json:"languages,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// Probe fetches metadata and builds the quality options.
func (s *Service) Probe(ctx context.Context, rawURL string) (*ProbeResult, error) {
	url, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := s.now()
	video, err := s.extractor.Probe(ctx, url)
	elapsed := s.now().Sub(start)
	s.observer.ObserveProbe(s.extractor.Name(), elapsed, err)
	if err != nil {
		err = Classify(err)
		s.logger.Warn("probe failed", "url", url, "extractor", s.extractor.Name(), "category", CategoryOf(err), "err", err)
		return nil, err
	}
	s.logger.Info("probe complete", "url", url, "title", video.Title, "formats", len(video.Formats), "elapsed", elapsed)
	return &ProbeResult{
		URL:       url,
		Video:     video,
		Options:   media.BuildOptions(video),
		Languages: media.Languages(video),
		Elapsed:   elapsed,
	}, nil
}

// DownloadRequest describes one download. Title, Channel and VideoID come
// from an earlier Probe and are used for naming, tags and history.
type DownloadRequest struct {
	URL      string
	Option   media.Option
	Language string
	Title    string
	Channel  string
	VideoID  string
	// OutputDir keeps the artifact there instead of a temporary directory.
	OutputDir string
	Progress  ProgressFunc
}

// DownloadResult is a finished download.
type DownloadResult struct {
	Artifact *media.Artifact `json:"artifact"`
	Fallback bool            `json:"fallback"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// FallbackNotice is the progress message emitted when the requested quality
// is unavailable and the fallback selector is tried.
const FallbackNotice = "Requested quality not available. Trying a lower quality..."

// Download runs the extractor for req.Option, retrying once with
// FallbackSelector when the requested format is unavailable, then
// post-processes into a single artifact.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	url, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	if req.Option.Selector == "" {
		return nil, wrapCategory(CategoryUnsupported, errors.New("no quality option selected"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := s.now()
	result, err := s.download(ctx, url, req)
	elapsed := s.now().Sub(start)
	if err != nil {
		err = Classify(err)
		s.observer.ObserveDownload(kindOfOption(req.Option), elapsed, 0, err)
		req.Progress.emit(Progress{Stage: StageFailed, Message: UserMessage(err)})
		s.logger.Error("download failed", "url", url, "option", req.Option.Name, "category", CategoryOf(err), "err", err)
		return nil, err
	}
	result.Elapsed = elapsed
	a := result.Artifact
	s.observer.ObserveDownload(a.Kind, elapsed, a.Size, nil)
	req.Progress.emit(Progress{Stage: StageComplete, Percent: 100, Downloaded: a.Size, Total: a.Size, Message: a.Filename})
	s.logger.Info("download complete", "url", url, "file", a.Filename, "size", a.Size, "kind", a.Kind, "fallback", result.Fallback, "elapsed", elapsed)

	if s.history != nil {
		entry := media.HistoryEntry{
			Title:     req.Title,
			Channel:   req.Channel,
			VideoID:   req.VideoID,
			Option:    req.Option.Name,
			Filename:  a.Filename,
			Size:      a.Size,
			Kind:      a.Kind,
			SourceURL: url,
			Extractor: s.extractor.Name(),
			CreatedAt: s.now().UTC(),
		}
		if err := s.history.RecordDownload(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Warn("recording history failed", "err", err)
		}
	}
	return result, nil
}

func (s *Service) download(ctx context.Context, url string, req DownloadRequest) (*DownloadResult, error) {
	workDir, err := os.MkdirTemp(s.tempDir, "tubeform-*")
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("creating work dir: %w", err))
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(workDir)
		}
	}()

	selector, err := media.LanguageSelector(req.Option.Selector, req.Language)
	if err != nil {
		return nil, wrapCategory(CategoryUnsupported, err)
	}
	canTranscode := s.TranscoderAvailable()
	fetch := FetchRequest{
		URL:          url,
		Selector:     selector,
		Dir:          workDir,
		AudioOnly:    req.Option.AudioOnly,
		PostProcess:  canTranscode,
		AudioBitrate: strings.ToUpper(s.audioBitrate),
		Progress:     req.Progress,
	}
	req.Progress.emit(Progress{Stage: StageStarting, Message: req.Option.Name})

	fallback := false
	res, err := s.extractor.Fetch(ctx, fetch)
	if err != nil && isFormatUnavailable(err) {
		s.observer.ObserveFallback()
		s.logger.Warn("requested format not available, retrying with fallback", "url", url, "selector", fetch.Selector)
		req.Progress.emit(Progress{Stage: StageStarting, Message: FallbackNotice, Fallback: true})
		if cleanErr := clearDir(workDir); cleanErr != nil {
			return nil, cleanErr
		}
		fetch.Selector = media.FallbackSelector
		fallback = true
		res, err = s.extractor.Fetch(ctx, fetch)
	}
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = res.Title
	}
	if title == "" {
		title = "video"
	}

	path, err := s.finalize(ctx, workDir, title, res, req.Option.AudioOnly, canTranscode, req.Progress)
	if err != nil {
		return nil, err
	}
	ext := extOf(path)
	kind := kindForExt(ext)
	if req.Option.AudioOnly && kind != media.KindZip {
		// Without ffmpeg the audio stream keeps its container, often webm.
		kind = media.KindAudio
	}
	if kind == media.KindAudio {
		tags := transcode.Tags{Title: title, Artist: req.Channel, Comment: url}
		if err := transcode.TagMP3(path, tags); err != nil {
			s.logger.Warn("writing ID3 tags failed", "file", filepath.Base(path), "err", err)
		}
	}

	filename := media.TimestampedName(s.now(), title, ext)
	destDir := workDir
	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("creating output dir: %w", err))
		}
		destDir = req.OutputDir
	}
	dest := filepath.Join(destDir, filename)
	if err := moveFile(path, dest); err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("saving %s: %w", filename, err))
	}
	dest, err = locateOutput(dest)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, err)
	}

	artifact := &media.Artifact{
		Path:        dest,
		Dir:         workDir,
		Filename:    filepath.Base(dest),
		ContentType: contentTypeFor(extOf(dest), kind),
		Size:        info.Size(),
		Kind:        kind,
		Temporary:   req.OutputDir == "",
	}
	if req.OutputDir != "" {
		_ = os.RemoveAll(workDir)
		artifact.Dir = req.OutputDir
	}
	ok = true
	return &DownloadResult{Artifact: artifact, Fallback: fallback}, nil
}

// finalize turns the extractor's files into one deliverable file in dir.
func (s *Service) finalize(ctx context.Context, dir, title string, res *FetchResult, audioOnly, canTranscode bool, report ProgressFunc) (string, error) {
	files := res.Files
	if len(files) == 0 {
		return "", wrapCategory(CategoryFilesystem, errors.New("download completed but file not found"))
	}

	if len(files) == 1 {
		in := files[0]
		ext := extOf(in)
		switch {
		case audioOnly && ext != "mp3" && canTranscode:
			report.emit(Progress{Stage: StageProcessing, Message: "Converting to MP3"})
			return s.convert(in, filepath.Join(dir, "output.mp3"), func(out string) error {
				return s.transcoder.ExtractMP3(ctx, in, out, s.audioBitrate)
			})
		case !audioOnly && kindForExt(ext) == media.KindVideo && ext != "mp4" && canTranscode:
			report.emit(Progress{Stage: StageProcessing, Message: "Converting to MP4"})
			return s.convert(in, filepath.Join(dir, "output.mp4"), func(out string) error {
				return s.transcoder.ConvertMP4(ctx, in, out)
			})
		}
		return in, nil
	}

	video, audio := splitStreams(files)
	if canTranscode {
		report.emit(Progress{Stage: StageProcessing, Message: "Merging video and audio"})
		out := filepath.Join(dir, "output.mp4")
		if err := s.transcoder.Merge(ctx, video, audio, out); err != nil {
			return "", wrapCategory(CategoryTranscoder, err)
		}
		removeAll(files...)
		return out, nil
	}

	report.emit(Progress{Stage: StageProcessing, Message: "FFmpeg not available, packaging video and audio as ZIP"})
	s.logger.Warn("ffmpeg not available, packaging separate streams", "title", title)
	safe := media.SanitizeFilename(title)
	out := filepath.Join(dir, "output.zip")
	err := transcode.PackageZip(out,
		transcode.ZipEntry{Path: video, Name: safe + " (video)." + extOf(video)},
		transcode.ZipEntry{Path: audio, Name: safe + " (audio)." + extOf(audio)},
	)
	if err != nil {
		return "", wrapCategory(CategoryFilesystem, err)
	}
	removeAll(files...)
	return out, nil
}

func (s *Service) convert(in, out string, run func(out string) error) (string, error) {
	if err := run(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", wrapCategory(CategoryTranscoder, err)
	}
	removeAll(in)
	return out, nil
}

// DirectLinks resolves stream URLs for option without downloading. The same
// single fallback as Download applies.
func (s *Service) DirectLinks(ctx context.Context, rawURL string, option media.Option, language string) ([]StreamLink, error) {
	url, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	selector, err := media.LanguageSelector(option.Selector, language)
	if err != nil {
		return nil, wrapCategory(CategoryUnsupported, err)
	}
	links, err := s.extractor.StreamLinks(ctx, url, selector)
	if err != nil && isFormatUnavailable(err) {
		s.observer.ObserveFallback()
		links, err = s.extractor.StreamLinks(ctx, url, media.FallbackSelector)
	}
	if err != nil {
		err = Classify(err)
		s.logger.Warn("direct link failed", "url", url, "option", option.Name, "err", err)
		return nil, err
	}
	return links, nil
}

func kindOfOption(o media.Option) media.Kind {
	if o.AudioOnly {
		return media.KindAudio
	}
	return media.KindVideo
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return wrapCategory(CategoryFilesystem, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return wrapCategory(CategoryFilesystem, err)
		}
	}
	return nil
}

func removeAll(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
