package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/lvcoi/tubeform/internal/media"
)

// YtDlp delegates extraction to the yt-dlp executable through go-ytdlp.
type YtDlp struct {
	ffmpegLocation string
}

// YtDlpOptions configures the yt-dlp backend.
type YtDlpOptions struct {
	// FFmpegLocation is passed as --ffmpeg-location when set.
	FFmpegLocation string
}

// NewYtDlp returns a yt-dlp backed extractor. The executable is resolved by
// go-ytdlp from PATH or its install cache.
func NewYtDlp(opts YtDlpOptions) *YtDlp {
	return &YtDlp{ffmpegLocation: opts.FFmpegLocation}
}

// InstallYtDlp downloads a yt-dlp build into the go-ytdlp cache when none is
// available.
func InstallYtDlp(ctx context.Context) error {
	_, err := ytdlp.Install(ctx, nil)
	return err
}

func (y *YtDlp) Name() string { return "yt-dlp" }

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New().NoPlaylist()
	if y.ffmpegLocation != "" {
		cmd = cmd.FFmpegLocation(y.ffmpegLocation)
	}
	return cmd
}

// Probe runs yt-dlp in metadata-only mode.
func (y *YtDlp) Probe(ctx context.Context, url string) (*media.Video, error) {
	info, err := y.dumpJSON(ctx, url, "")
	if err != nil {
		return nil, err
	}
	video := &media.Video{
		ID:         info.ID,
		Title:      info.Title,
		Channel:    info.channel(),
		Duration:   int(info.Duration),
		Views:      info.ViewCount,
		Thumbnail:  info.Thumbnail,
		WebpageURL: info.WebpageURL,
		Extractor:  info.ExtractorKey,
	}
	for _, f := range info.Formats {
		video.Formats = append(video.Formats, f.toMedia())
	}
	return video, nil
}

// Fetch downloads with the given selector into req.Dir.
func (y *YtDlp) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	cmd := y.command().
		Format(req.Selector).
		Output(filepath.Join(req.Dir, "%(id)s.%(ext)s")).
		ForceOverwrites().
		ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			req.Progress.emit(progressFromUpdate(update))
		})
	if req.PostProcess {
		if req.AudioOnly {
			bitrate := req.AudioBitrate
			if bitrate == "" {
				bitrate = "192K"
			}
			cmd = cmd.ExtractAudio().AudioFormat("mp3").AudioQuality(bitrate)
		} else {
			cmd = cmd.MergeOutputFormat("mp4")
		}
	}

	res, err := cmd.Run(ctx, req.URL)
	if err != nil {
		return nil, runError(ctx, res, err)
	}

	files, err := listOutputs(req.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("yt-dlp finished but no output file was found in %s", req.Dir))
	}
	return &FetchResult{Files: files, Processed: req.PostProcess}, nil
}

// StreamLinks asks yt-dlp which formats the selector resolves to and returns
// their URLs without downloading.
func (y *YtDlp) StreamLinks(ctx context.Context, url, selector string) ([]StreamLink, error) {
	info, err := y.dumpJSON(ctx, url, selector)
	if err != nil {
		return nil, err
	}
	chosen := info.RequestedFormats
	if len(chosen) == 0 && info.URL != "" {
		chosen = []ytdlpFormat{info.ytdlpFormat}
	}
	links := make([]StreamLink, 0, len(chosen))
	for _, f := range chosen {
		if f.URL == "" {
			continue
		}
		mf := f.toMedia()
		links = append(links, StreamLink{
			Kind:   linkKind(mf),
			URL:    f.URL,
			Ext:    mf.Ext,
			Height: mf.Height,
			Note:   mf.Note,
		})
	}
	if len(links) == 0 {
		return nil, wrapCategory(CategoryUnsupported, fmt.Errorf("no direct stream URL for %q", selector))
	}
	return links, nil
}

func (y *YtDlp) dumpJSON(ctx context.Context, url, selector string) (*ytdlpInfo, error) {
	cmd := y.command().DumpSingleJSON().SkipDownload()
	if selector != "" {
		cmd = cmd.Format(selector)
	}
	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, runError(ctx, res, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("decoding yt-dlp output: %w", err)
	}
	return &info, nil
}

func progressFromUpdate(update ytdlp.ProgressUpdate) Progress {
	p := Progress{
		Stage:      StageDownloading,
		Downloaded: int64(update.DownloadedBytes),
		Total:      int64(update.TotalBytes),
		ETA:        update.ETA(),
	}
	if p.Total > 0 {
		p.Percent = float64(p.Downloaded) * 100 / float64(p.Total)
		if p.Percent >= 100 {
			p.Percent = 100
			p.Stage = StageProcessing
		}
	}
	if !update.Started.IsZero() && p.Downloaded > 0 {
		if secs := time.Since(update.Started).Seconds(); secs > 0 {
			p.Speed = media.FormatSize(int64(float64(p.Downloaded)/secs)) + "/s"
		}
	}
	if update.Info != nil && update.Info.Title != nil {
		p.Message = CleanANSI(*update.Info.Title)
	}
	return p
}

// runError folds the last yt-dlp error line into err so message-based
// classification and hints can see it.
func runError(ctx context.Context, res *ytdlp.Result, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if res != nil {
		if line := lastErrorLine(res.Stderr); line != "" && !strings.Contains(err.Error(), line) {
			err = fmt.Errorf("%s: %w", line, err)
		}
	}
	return Classify(err)
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(CleanANSI(stderr), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
		if last == "" {
			last = line
		}
	}
	return last
}

// listOutputs returns finished files in dir, skipping partial downloads.
func listOutputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch filepath.Ext(name) {
		case ".part", ".ytdl", ".temp", ".tmp":
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
	Language       string  `json:"language"`
	FormatNote     string  `json:"format_note"`
	URL            string  `json:"url"`
}

func (f ytdlpFormat) toMedia() media.Format {
	size := f.Filesize
	if size <= 0 {
		size = f.FilesizeApprox
	}
	return media.Format{
		ID:       f.FormatID,
		Height:   f.Height,
		Width:    f.Width,
		Ext:      f.Ext,
		VCodec:   f.VCodec,
		ACodec:   f.ACodec,
		Filesize: int64(size),
		Bitrate:  int(f.TBR * 1000),
		Language: f.Language,
		Note:     f.FormatNote,
		URL:      f.URL,
	}
}

type ytdlpInfo struct {
	ytdlpFormat
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Channel          string        `json:"channel"`
	Uploader         string        `json:"uploader"`
	Duration         float64       `json:"duration"`
	ViewCount        int64         `json:"view_count"`
	Thumbnail        string        `json:"thumbnail"`
	WebpageURL       string        `json:"webpage_url"`
	ExtractorKey     string        `json:"extractor_key"`
	Formats          []ytdlpFormat `json:"formats"`
	RequestedFormats []ytdlpFormat `json:"requested_formats"`
}

func (i ytdlpInfo) channel() string {
	if i.Channel != "" {
		return i.Channel
	}
	return i.Uploader
}
