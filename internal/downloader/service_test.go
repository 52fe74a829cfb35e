package downloader

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tubeform/internal/media"
)

const testURL = "https://www.youtube.com/watch?v=abc123"

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Name() string { return "fake" }

func (m *mockExtractor) Probe(ctx context.Context, url string) (*media.Video, error) {
	args := m.Called(ctx, url)
	v, _ := args.Get(0).(*media.Video)
	return v, args.Error(1)
}

// Fetch lets a test return either a fixed result or a function that writes
// files into the request's work dir.
func (m *mockExtractor) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(FetchRequest) (*FetchResult, error)); ok {
		return fn(req)
	}
	r, _ := args.Get(0).(*FetchResult)
	return r, args.Error(1)
}

func (m *mockExtractor) StreamLinks(ctx context.Context, url, selector string) ([]StreamLink, error) {
	args := m.Called(ctx, url, selector)
	links, _ := args.Get(0).([]StreamLink)
	return links, args.Error(1)
}

type fakeTranscoder struct {
	available bool
	mu        sync.Mutex
	calls     []string
}

func (f *fakeTranscoder) Available() bool { return f.available }

func (f *fakeTranscoder) record(call, out string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return os.WriteFile(out, []byte(call+" output"), 0o644)
}

func (f *fakeTranscoder) Merge(_ context.Context, _, _, out string) error {
	return f.record("merge", out)
}

func (f *fakeTranscoder) ExtractMP3(_ context.Context, _, out, _ string) error {
	return f.record("mp3", out)
}

func (f *fakeTranscoder) ConvertMP4(_ context.Context, _, out string) error {
	return f.record("mp4", out)
}

type memoryHistory struct {
	entries []media.HistoryEntry
}

func (h *memoryHistory) RecordDownload(_ context.Context, e media.HistoryEntry) error {
	h.entries = append(h.entries, e)
	return nil
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestService(t *testing.T, ex Extractor, tc Transcoder, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{
		WithTempDir(t.TempDir()),
		WithClock(func() time.Time { return fixedNow }),
	}
	return NewService(ex, tc, append(base, opts...)...)
}

// writeStreams returns a Fetch implementation that creates the named files.
func writeStreams(processed bool, names ...string) func(FetchRequest) (*FetchResult, error) {
	return func(req FetchRequest) (*FetchResult, error) {
		res := &FetchResult{Title: "Fetched Title", Processed: processed}
		for i, name := range names {
			path := filepath.Join(req.Dir, name)
			data := strings.Repeat("x", 100*(len(names)-i))
			if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
				return nil, err
			}
			res.Files = append(res.Files, path)
		}
		return res, nil
	}
}

var video1080 = media.Option{Name: "1080p (Full HD)", Selector: media.VideoSelector(1080), Height: 1080}
var audioOption = media.Option{Name: media.AudioOptionName, Selector: media.AudioSelector, AudioOnly: true}

func TestProbeBuildsOptions(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Probe", mock.Anything, "https://www.youtube.com/watch?v=abc123").Return(&media.Video{
		ID:       "abc123",
		Title:    "Clip",
		Duration: 60,
		Formats: []media.Format{
			{ID: "137", Height: 1080, VCodec: "avc1", ACodec: "none", Ext: "mp4"},
			{ID: "140", VCodec: "none", ACodec: "mp4a", Ext: "m4a", Language: "en"},
		},
	}, nil)

	svc := newTestService(t, ex, nil)
	res, err := svc.Probe(context.Background(), "https://youtu.be/abc123")
	require.NoError(t, err)

	assert.Equal(t, "Clip", res.Video.Title)
	assert.Equal(t, []string{"en"}, res.Languages)
	require.NotEmpty(t, res.Options)
	assert.Equal(t, "1080p (Full HD)", res.Options[0].Name)
	assert.Equal(t, media.AudioOptionName, res.Options[len(res.Options)-1].Name)
	ex.AssertExpectations(t)
}

func TestProbeRejectsInvalidURL(t *testing.T) {
	ex := &mockExtractor{}
	svc := newTestService(t, ex, nil)

	_, err := svc.Probe(context.Background(), "not a url")
	require.Error(t, err)
	assert.Equal(t, CategoryInvalidURL, CategoryOf(err))
	ex.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestProbeClassifiesExtractorErrors(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Probe", mock.Anything, testURL).Return(nil, errors.New("ERROR: [youtube] abc123: HTTP Error 403: Forbidden"))

	svc := newTestService(t, ex, nil)
	_, err := svc.Probe(context.Background(), testURL)
	require.Error(t, err)
	assert.Equal(t, CategoryRestricted, CategoryOf(err))
	assert.Equal(t, "This video may be restricted or not available for download.", Hint(err))
}

func TestDownloadFallsBackOnce(t *testing.T) {
	ex := &mockExtractor{}
	unavailable := errors.New("ERROR: [youtube] abc123: Requested format is not available. Use --list-formats for a list of available formats")
	ex.On("Fetch", mock.Anything, mock.MatchedBy(func(r FetchRequest) bool {
		return r.Selector == media.VideoSelector(1080)
	})).Return(nil, unavailable).Once()
	ex.On("Fetch", mock.Anything, mock.MatchedBy(func(r FetchRequest) bool {
		return r.Selector == media.FallbackSelector
	})).Return(writeStreams(true, "abc123.mp4"), nil).Once()

	svc := newTestService(t, ex, &fakeTranscoder{available: true})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080, Title: "Clip"})
	require.NoError(t, err)
	defer Discard(res.Artifact)

	assert.True(t, res.Fallback)
	assert.Equal(t, media.KindVideo, res.Artifact.Kind)
	assert.Equal(t, "20240102_030405_Clip.mp4", res.Artifact.Filename)
	ex.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestDownloadFallbackFailureIsReturned(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("requested format not available"))

	svc := newTestService(t, ex, nil)
	_, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080})
	require.Error(t, err)
	assert.Equal(t, CategoryUnsupported, CategoryOf(err))
	ex.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestDownloadPackagesZipWithoutTranscoder(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.MatchedBy(func(r FetchRequest) bool { return !r.PostProcess })).
		Return(writeStreams(false, "abc123.f248.webm", "abc123.f140.m4a"), nil)

	svc := newTestService(t, ex, &fakeTranscoder{available: false})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080, Title: "My: Clip"})
	require.NoError(t, err)
	defer Discard(res.Artifact)

	a := res.Artifact
	assert.Equal(t, media.KindZip, a.Kind)
	assert.Equal(t, "application/zip", a.ContentType)
	assert.Equal(t, "20240102_030405_My_ Clip.zip", a.Filename)

	zr, err := zip.OpenReader(a.Path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"My_ Clip (video).webm", "My_ Clip (audio).m4a"}, names)
}

func TestDownloadMergesWithTranscoder(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(false, "abc123.f137.mp4", "abc123.f140.m4a"), nil)
	tc := &fakeTranscoder{available: true}
	history := &memoryHistory{}

	svc := newTestService(t, ex, tc, WithHistory(history))
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080, Title: "Clip", VideoID: "abc123"})
	require.NoError(t, err)
	defer Discard(res.Artifact)

	assert.Equal(t, []string{"merge"}, tc.calls)
	assert.Equal(t, "20240102_030405_Clip.mp4", res.Artifact.Filename)
	assert.Equal(t, "video/mp4", res.Artifact.ContentType)

	entries, err := os.ReadDir(res.Artifact.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "intermediate streams should be removed")

	require.Len(t, history.entries, 1)
	assert.Equal(t, "abc123", history.entries[0].VideoID)
	assert.Equal(t, video1080.Name, history.entries[0].Option)
	assert.Equal(t, testURL, history.entries[0].SourceURL)
}

func TestDownloadConvertsAudioToMP3(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(false, "abc123.f140.m4a"), nil)
	tc := &fakeTranscoder{available: true}

	svc := newTestService(t, ex, tc)
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: audioOption, Title: "Song"})
	require.NoError(t, err)
	defer Discard(res.Artifact)

	assert.Equal(t, []string{"mp3"}, tc.calls)
	assert.Equal(t, media.KindAudio, res.Artifact.Kind)
	assert.True(t, strings.HasSuffix(res.Artifact.Filename, "_Song.mp3"))
}

func TestDownloadPassesLanguageSelector(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.MatchedBy(func(r FetchRequest) bool {
		return strings.HasPrefix(r.Selector, "bestaudio[language=de]/") && r.AudioOnly
	})).Return(writeStreams(true, "abc123.mp3"), nil)

	svc := newTestService(t, ex, &fakeTranscoder{available: true})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: audioOption, Language: "de"})
	require.NoError(t, err)
	Discard(res.Artifact)
	ex.AssertExpectations(t)
}

func TestDownloadRejectsInvalidLanguage(t *testing.T) {
	ex := &mockExtractor{}
	svc := newTestService(t, ex, &fakeTranscoder{available: true})

	_, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: audioOption, Language: "English (United States) original"})
	require.Error(t, err)
	assert.Equal(t, CategoryUnsupported, CategoryOf(err))

	_, err = svc.DirectLinks(context.Background(), testURL, audioOption, "en]/worst[")
	require.Error(t, err)
	assert.Equal(t, CategoryUnsupported, CategoryOf(err))
	ex.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "StreamLinks", mock.Anything, mock.Anything, mock.Anything)
}

func TestDownloadAudioWithoutTranscoderKeepsAudioKind(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(false, "abc123.webm"), nil)

	svc := newTestService(t, ex, &fakeTranscoder{})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: audioOption, Title: "Song"})
	require.NoError(t, err)
	defer Discard(res.Artifact)

	assert.Equal(t, media.KindAudio, res.Artifact.Kind)
	assert.Equal(t, "audio/webm", res.Artifact.ContentType)
	assert.True(t, strings.HasSuffix(res.Artifact.Filename, "_Song.webm"))
}

func TestDownloadToOutputDir(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(true, "abc123.mp4"), nil)

	out := filepath.Join(t.TempDir(), "saved")
	svc := newTestService(t, ex, &fakeTranscoder{available: true})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080, Title: "Clip", OutputDir: out})
	require.NoError(t, err)

	assert.False(t, res.Artifact.Temporary)
	assert.Equal(t, filepath.Join(out, "20240102_030405_Clip.mp4"), res.Artifact.Path)
	_, err = os.Stat(res.Artifact.Path)
	assert.NoError(t, err)
}

func TestDownloadReportsProgress(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(true, "abc123.mp4"), nil)

	var stages []string
	svc := newTestService(t, ex, &fakeTranscoder{available: true})
	res, err := svc.Download(context.Background(), DownloadRequest{
		URL:      testURL,
		Option:   video1080,
		Progress: func(p Progress) { stages = append(stages, p.Stage) },
	})
	require.NoError(t, err)
	Discard(res.Artifact)

	require.NotEmpty(t, stages)
	assert.Equal(t, StageStarting, stages[0])
	assert.Equal(t, StageComplete, stages[len(stages)-1])
}

func TestOpenArtifactRemovesTemporaryDir(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Fetch", mock.Anything, mock.Anything).Return(writeStreams(true, "abc123.mp4"), nil)

	svc := newTestService(t, ex, &fakeTranscoder{available: true})
	res, err := svc.Download(context.Background(), DownloadRequest{URL: testURL, Option: video1080})
	require.NoError(t, err)

	r, err := OpenArtifact(res.Artifact)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	require.NoError(t, r.Close())

	_, err = os.Stat(res.Artifact.Dir)
	assert.True(t, os.IsNotExist(err), "work dir should be removed after close")
}

func TestDirectLinksFallback(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("StreamLinks", mock.Anything, testURL, media.VideoSelector(1080)).
		Return(nil, errors.New("requested format not available")).Once()
	ex.On("StreamLinks", mock.Anything, testURL, media.FallbackSelector).
		Return([]StreamLink{{Kind: LinkProgressive, URL: "https://cdn.example/v.mp4"}}, nil).Once()

	svc := newTestService(t, ex, nil)
	links, err := svc.DirectLinks(context.Background(), testURL, video1080, "")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://cdn.example/v.mp4", links[0].URL)
	ex.AssertExpectations(t)
}

func TestSplitStreams(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "a.f248.webm")
	small := filepath.Join(dir, "a.f251.webm")
	require.NoError(t, os.WriteFile(big, make([]byte, 200), 0o644))
	require.NoError(t, os.WriteFile(small, make([]byte, 10), 0o644))

	v, a := splitStreams([]string{small, big})
	assert.Equal(t, big, v)
	assert.Equal(t, small, a)

	v, a = splitStreams([]string{"x.m4a", "x.mp4"})
	assert.Equal(t, "x.mp4", v)
	assert.Equal(t, "x.m4a", a)
}
