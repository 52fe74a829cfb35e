package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureVideo() *Video {
	return &Video{
		ID:       "abc123",
		Title:    "Fixture",
		Duration: 600,
		Formats: []Format{
			{ID: "137", Height: 1080, Ext: "mp4", VCodec: "avc1", ACodec: "none", Filesize: 80 * mib},
			{ID: "136", Height: 720, Ext: "mp4", VCodec: "avc1", ACodec: "none", Filesize: 40 * mib},
			{ID: "18", Height: 360, Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Filesize: 15 * mib},
			{ID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a", Filesize: 9 * mib, Language: "en"},
			{ID: "251", Ext: "webm", VCodec: "none", ACodec: "opus", Filesize: 10 * mib, Language: "de"},
		},
	}
}

func TestBuildOptionsOrderAndOmission(t *testing.T) {
	options := BuildOptions(fixtureVideo())

	names := make([]string, 0, len(options))
	for _, o := range options {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{
		"1080p (Full HD)",
		"720p (HD)",
		"480p",
		"360p",
		"240p",
		"144p",
		AudioOptionName,
	}, names)

	last := options[len(options)-1]
	assert.True(t, last.AudioOnly)
	assert.Equal(t, AudioSelector, last.Selector)
	assert.Equal(t, "bestvideo[height<=1080]+bestaudio/best[height<=1080]", options[0].Selector)
}

func TestBuildOptionsKeepsAllBucketsWithoutHeights(t *testing.T) {
	options := BuildOptions(&Video{Duration: 60})
	require.Len(t, options, len(Buckets)+1)
	assert.Equal(t, "2160p (4K)", options[0].Name)
	assert.Equal(t, "1440p (2K)", options[1].Name)
	assert.True(t, options[0].HighResolution())
	assert.False(t, options[2].HighResolution())
}

func TestBuildOptionsKeepsBucketAboveOddHeight(t *testing.T) {
	v := &Video{Formats: []Format{{ID: "x", Height: 1012, VCodec: "vp9", ACodec: "none"}}}
	options := BuildOptions(v)
	require.NotEmpty(t, options)
	assert.Equal(t, 1080, options[0].Height)
}

func TestEstimateSizeUsesReportedSizes(t *testing.T) {
	v := fixtureVideo()

	size, exact := EstimateSize(v, 1080, false)
	assert.True(t, exact)
	assert.Equal(t, int64(80*mib+10*mib), size)

	size, exact = EstimateSize(v, 480, false)
	assert.True(t, exact)
	assert.Equal(t, int64(15*mib), size, "progressive stream needs no extra audio")

	size, exact = EstimateSize(v, 0, true)
	assert.True(t, exact)
	assert.Equal(t, int64(10*mib), size)
}

func TestEstimateSizeFallsBackToRateTable(t *testing.T) {
	v := &Video{Duration: 120}

	size, exact := EstimateSize(v, 2160, false)
	assert.False(t, exact)
	assert.Equal(t, int64(40*mib), size)

	size, _ = EstimateSize(v, 480, false)
	assert.Equal(t, int64(5*mib), size)

	lowest := 0.8
	size, _ = EstimateSize(v, 144, false)
	assert.Equal(t, int64(120*lowest*mib/60), size)

	size, _ = EstimateSize(v, 0, true)
	assert.Equal(t, int64(2*mib), size)

	size, _ = EstimateSize(&Video{}, 720, false)
	assert.Zero(t, size)
}

func TestOptionSizeLabel(t *testing.T) {
	assert.Equal(t, "1.5 MB", Option{EstimatedSize: 1572864, Exact: true}.SizeLabel())
	assert.Equal(t, "~1.5 MB", Option{EstimatedSize: 1572864}.SizeLabel())
	assert.Equal(t, "Unknown size", Option{}.SizeLabel())
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"de", "en"}, Languages(fixtureVideo()))
	assert.Empty(t, Languages(&Video{}))
}

func TestFindOption(t *testing.T) {
	options := BuildOptions(fixtureVideo())
	o, ok := FindOption(options, "720p (HD)")
	require.True(t, ok)
	assert.Equal(t, 720, o.Height)

	_, ok = FindOption(options, "8K")
	assert.False(t, ok)
}

func TestResolveOption(t *testing.T) {
	options := BuildOptions(fixtureVideo())
	tests := []struct {
		quality string
		audio   bool
		want    string
	}{
		{"", false, "1080p (Full HD)"},
		{"best", false, "1080p (Full HD)"},
		{"worst", false, "144p"},
		{"720p", false, "720p (HD)"},
		{"720", false, "720p (HD)"},
		{"600p", false, "480p"},
		{"4320p", false, "1080p (Full HD)"},
		{"360p", false, "360p"},
		{"audio", false, AudioOptionName},
		{"1080p", true, AudioOptionName},
		{"720p (HD)", false, "720p (HD)"},
	}
	for _, tt := range tests {
		t.Run(tt.quality, func(t *testing.T) {
			got, err := ResolveOption(options, tt.quality, tt.audio)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}

	_, err := ResolveOption(options, "100p", false)
	assert.Error(t, err)
	_, err = ResolveOption(options, "ultra", false)
	assert.Error(t, err)
}
