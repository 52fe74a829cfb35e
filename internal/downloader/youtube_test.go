package downloader

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/tubeform/internal/media"
)

type fakeYouTubeClient struct {
	video     *youtube.Video
	err       error
	streamErr error
	requested []int
}

func (f *fakeYouTubeClient) GetVideoContext(ctx context.Context, url string) (*youtube.Video, error) {
	return f.video, f.err
}

func (f *fakeYouTubeClient) GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	if f.streamErr != nil {
		return nil, 0, f.streamErr
	}
	f.requested = append(f.requested, format.ItagNo)
	body := strings.Repeat("z", format.ItagNo)
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func (f *fakeYouTubeClient) GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error) {
	return "https://rr.example/videoplayback?itag=" + format.URL, nil
}

func sampleVideo() *youtube.Video {
	return &youtube.Video{
		ID:       "abc123",
		Title:    "Sample",
		Author:   "Channel",
		Duration: 90 * time.Second,
		Views:    1234,
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Width: 640, Height: 360, AudioChannels: 2, Bitrate: 500000, QualityLabel: "360p", URL: "18"},
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Width: 1920, Height: 1080, Bitrate: 4000000, QualityLabel: "1080p", ContentLength: 5000, URL: "137"},
			{ItagNo: 136, MimeType: `video/mp4; codecs="avc1.4d401f"`, Width: 1280, Height: 720, Bitrate: 2000000, QualityLabel: "720p", URL: "136"},
			{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Width: 1920, Height: 1080, Bitrate: 3000000, QualityLabel: "1080p", URL: "248"},
			{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, AudioChannels: 2, AudioQuality: "AUDIO_QUALITY_MEDIUM", URL: "140"},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2, URL: "251"},
		},
	}
}

func TestConvertFormat(t *testing.T) {
	v := sampleVideo()

	progressive := convertFormat(&v.Formats[0])
	if progressive.Ext != "mp4" || !progressive.HasVideo() || !progressive.HasAudio() {
		t.Fatalf("unexpected progressive mapping: %+v", progressive)
	}
	if progressive.ACodec != "mp4a.40.2" {
		t.Fatalf("expected audio codec from mime, got %q", progressive.ACodec)
	}

	videoOnly := convertFormat(&v.Formats[1])
	if videoOnly.HasAudio() || videoOnly.Height != 1080 || videoOnly.Filesize != 5000 {
		t.Fatalf("unexpected video-only mapping: %+v", videoOnly)
	}

	audio := convertFormat(&v.Formats[4])
	if audio.Ext != "m4a" || audio.HasVideo() || audio.Note != "medium" {
		t.Fatalf("unexpected audio mapping: %+v", audio)
	}
}

func TestYouTubeProbe(t *testing.T) {
	y := NewYouTubeWithClient(&fakeYouTubeClient{video: sampleVideo()})
	v, err := y.Probe(context.Background(), "https://www.youtube.com/watch?v=abc123")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if v.Title != "Sample" || v.Channel != "Channel" || v.Duration != 90 || v.Views != 1234 {
		t.Fatalf("unexpected metadata: %+v", v)
	}
	if len(v.Formats) != 6 || v.MaxHeight() != 1080 {
		t.Fatalf("unexpected formats: %d, max %d", len(v.Formats), v.MaxHeight())
	}
}

func TestYouTubeRejectsOtherHosts(t *testing.T) {
	y := NewYouTubeWithClient(&fakeYouTubeClient{video: sampleVideo()})
	_, err := y.Probe(context.Background(), "https://vimeo.com/1")
	if CategoryOf(err) != CategoryUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestPickStreams(t *testing.T) {
	v := sampleVideo()
	tests := []struct {
		name     string
		selector string
		want     []int
	}{
		{name: "1080 mp4 with m4a", selector: "bestvideo[height<=1080]+bestaudio/best[height<=1080]", want: []int{137, 140}},
		{name: "720 cap", selector: "bestvideo[height<=720]+bestaudio/best[height<=720]", want: []int{136, 140}},
		{name: "progressive at 360", selector: "bestvideo[height<=360]+bestaudio/best[height<=360]", want: []int{18}},
		{name: "audio picks highest bitrate", selector: "bestaudio/best", want: []int{251}},
		{name: "fallback prefers mp4", selector: "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", want: []int{137, 140}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picked, err := pickStreams(v, media.ParseSelector(tt.selector))
			if err != nil {
				t.Fatalf("pickStreams: %v", err)
			}
			var got []int
			for _, f := range picked {
				got = append(got, f.ItagNo)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPickStreamsBelowSmallest(t *testing.T) {
	v := &youtube.Video{Formats: youtube.FormatList{
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1"`, Height: 1080},
	}}
	_, err := pickStreams(v, media.ParseSelector("bestvideo[height<=144]+bestaudio/best[height<=144]"))
	if !isFormatUnavailable(err) {
		t.Fatalf("expected format unavailable error, got %v", err)
	}
}

func TestYouTubeFetchWritesStreams(t *testing.T) {
	client := &fakeYouTubeClient{video: sampleVideo()}
	y := NewYouTubeWithClient(client)
	dir := t.TempDir()

	var updates int
	res, err := y.Fetch(context.Background(), FetchRequest{
		URL:      "https://www.youtube.com/watch?v=abc123",
		Selector: "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
		Dir:      dir,
		Progress: func(Progress) { updates++ },
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Processed {
		t.Fatalf("in-process extractor must not report post-processing")
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected 2 files, got %v", res.Files)
	}
	data, err := os.ReadFile(res.Files[0])
	if err != nil {
		t.Fatalf("reading video stream: %v", err)
	}
	if len(data) != 137 {
		t.Fatalf("expected 137 bytes, got %d", len(data))
	}
	if !strings.HasSuffix(res.Files[1], ".f140.m4a") {
		t.Fatalf("unexpected audio file name %s", res.Files[1])
	}
	if updates < 2 {
		t.Fatalf("expected a final progress update per stream, got %d", updates)
	}
}

func TestYouTubeStreamLinks(t *testing.T) {
	y := NewYouTubeWithClient(&fakeYouTubeClient{video: sampleVideo()})
	links, err := y.StreamLinks(context.Background(), "https://youtu.be/abc123", "bestvideo[height<=360]+bestaudio/best[height<=360]")
	if err != nil {
		t.Fatalf("StreamLinks: %v", err)
	}
	if len(links) != 1 || links[0].Kind != LinkProgressive || links[0].Height != 360 {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestClassifyYouTubeError(t *testing.T) {
	err := classifyYouTubeError(youtube.ErrUnexpectedStatusCode(403))
	if CategoryOf(err) != CategoryRestricted {
		t.Fatalf("expected restricted, got %s", CategoryOf(err))
	}
	if Hint(err) == "" {
		t.Fatalf("expected a hint for 403")
	}
}

type audioTrack = struct {
	DisplayName    string `json:"displayName"`
	ID             string `json:"id"`
	AudioIsDefault bool   `json:"audioIsDefault"`
}

func dubbedVideo() *youtube.Video {
	v := sampleVideo()
	v.Formats = append(youtube.FormatList{},
		youtube.Format{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, URL: "140",
			AudioTrack: &audioTrack{DisplayName: "English (United States) original", ID: "en-US.4", AudioIsDefault: true}},
		youtube.Format{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 50000, URL: "139",
			AudioTrack: &audioTrack{DisplayName: "German", ID: "de.3"}},
		v.Formats[1],
	)
	return v
}

func TestConvertFormatUsesTrackLanguageTag(t *testing.T) {
	v := dubbedVideo()
	if got := convertFormat(&v.Formats[0]).Language; got != "en-US" {
		t.Fatalf("expected en-US, got %q", got)
	}
	if got := convertFormat(&v.Formats[2]).Language; got != "" {
		t.Fatalf("expected no language for video stream, got %q", got)
	}

	langs := media.Languages(&media.Video{Formats: []media.Format{convertFormat(&v.Formats[0]), convertFormat(&v.Formats[1])}})
	if len(langs) != 2 || langs[0] != "de" || langs[1] != "en-US" {
		t.Fatalf("unexpected languages: %v", langs)
	}
}

func TestPickStreamsByTrackLanguage(t *testing.T) {
	v := dubbedVideo()
	sel, err := media.LanguageSelector(media.AudioSelector, "de")
	if err != nil {
		t.Fatal(err)
	}
	picked, err := pickStreams(v, media.ParseSelector(sel))
	if err != nil {
		t.Fatalf("pickStreams: %v", err)
	}
	if len(picked) != 1 || picked[0].ItagNo != 139 {
		t.Fatalf("expected the German track, got %+v", picked)
	}
}
