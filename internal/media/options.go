package media

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AudioOptionName is the label of the audio-only bucket.
const AudioOptionName = "Audio Only (MP3)"

// Option is one named quality bucket offered on the form.
type Option struct {
	Name          string `json:"name"`
	Selector      string `json:"selector"`
	Height        int    `json:"height,omitempty"`
	AudioOnly     bool   `json:"audio_only,omitempty"`
	EstimatedSize int64  `json:"estimated_size,omitempty"`
	Exact         bool   `json:"exact,omitempty"`
}

// SizeLabel renders the option's size for display.
func (o Option) SizeLabel() string {
	label := FormatSize(o.EstimatedSize)
	if o.EstimatedSize > 0 && !o.Exact {
		return "~" + label
	}
	return label
}

// HighResolution reports whether the option should carry a playback warning.
func (o Option) HighResolution() bool {
	return !o.AudioOnly && IsHighResolution(o.Height)
}

// Buckets are offered highest first.
var Buckets = []int{2160, 1440, 1080, 720, 480, 360, 240, 144}

// BucketName labels a resolution bucket, e.g. "1080p (Full HD)".
func BucketName(height int) string {
	if tier := QualityTier(height); tier != "" {
		return fmt.Sprintf("%dp (%s)", height, tier)
	}
	return fmt.Sprintf("%dp", height)
}

// VideoSelector is the extractor format selector that yields video and audio
// capped at height, falling back to a progressive stream.
func VideoSelector(height int) string {
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", height, height)
}

// AudioSelector selects the best audio stream.
const AudioSelector = "bestaudio/best"

// FallbackSelector is retried once when the requested quality is missing.
const FallbackSelector = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// BuildOptions reshapes extractor metadata into the fixed set of named
// quality buckets, highest resolution first and audio last. Buckets above
// what the video offers are dropped when format heights are known.
func BuildOptions(v *Video) []Option {
	maxHeight := v.MaxHeight()
	options := make([]Option, 0, len(Buckets)+1)

	for i, h := range Buckets {
		if maxHeight > 0 && h > maxHeight {
			// Keep the smallest bucket above maxHeight when maxHeight falls
			// between buckets so the top stream stays reachable.
			next := 0
			if i+1 < len(Buckets) {
				next = Buckets[i+1]
			}
			if next >= maxHeight {
				continue
			}
		}
		size, exact := EstimateSize(v, h, false)
		options = append(options, Option{
			Name:          BucketName(h),
			Selector:      VideoSelector(h),
			Height:        h,
			EstimatedSize: size,
			Exact:         exact,
		})
	}

	size, exact := EstimateSize(v, 0, true)
	options = append(options, Option{
		Name:          AudioOptionName,
		Selector:      AudioSelector,
		AudioOnly:     true,
		EstimatedSize: size,
		Exact:         exact,
	})
	return options
}

// FindOption looks an option up by its display name.
func FindOption(options []Option, name string) (Option, bool) {
	for _, o := range options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// ResolveOption picks the option for a user-supplied quality: an option
// name, a height such as "720p" or "720", "best" or empty for the highest
// bucket, "worst" for the lowest, or "audio". A height between buckets
// resolves to the next bucket down.
func ResolveOption(options []Option, quality string, audioOnly bool) (Option, error) {
	q := strings.ToLower(strings.TrimSpace(quality))
	if audioOnly || q == "audio" || q == "mp3" {
		for _, o := range options {
			if o.AudioOnly {
				return o, nil
			}
		}
		return Option{}, fmt.Errorf("no audio option available")
	}
	if o, ok := FindOption(options, quality); ok {
		return o, nil
	}

	var video []Option
	for _, o := range options {
		if !o.AudioOnly {
			video = append(video, o)
		}
	}
	if len(video) == 0 {
		return Option{}, fmt.Errorf("no video options available")
	}
	switch q {
	case "", "best", "highest":
		return video[0], nil
	case "worst", "lowest":
		return video[len(video)-1], nil
	}

	height, err := strconv.Atoi(strings.TrimSuffix(q, "p"))
	if err != nil || height <= 0 {
		return Option{}, fmt.Errorf("unknown quality %q", quality)
	}
	for _, o := range video {
		if o.Height <= height {
			return o, nil
		}
	}
	return Option{}, fmt.Errorf("quality %q is below the lowest available option", quality)
}

// megabytes per minute of playback, by minimum height
var sizeTable = []struct {
	minHeight int
	mbPerMin  float64
}{
	{2160, 20},
	{1440, 15},
	{1080, 10},
	{720, 5},
	{480, 2.5},
	{240, 1.2},
	{0, 0.8},
}

const audioMBPerMin = 1.0

// EstimateSize returns the expected output size for a bucket. When the
// extractor reported file sizes for the streams the selector would pick the
// result is exact; otherwise it comes from a per-minute rate table. A zero
// return means the size is unknown.
func EstimateSize(v *Video, height int, audioOnly bool) (int64, bool) {
	if v == nil {
		return 0, false
	}
	if size, ok := reportedSize(v, height, audioOnly); ok {
		return size, true
	}
	if v.Duration <= 0 {
		return 0, false
	}
	rate := audioMBPerMin
	if !audioOnly {
		for _, row := range sizeTable {
			if height >= row.minHeight {
				rate = row.mbPerMin
				break
			}
		}
	}
	return int64(float64(v.Duration) * rate * mib / 60), false
}

func reportedSize(v *Video, height int, audioOnly bool) (int64, bool) {
	var bestAudio *Format
	for i := range v.Formats {
		f := &v.Formats[i]
		if !f.HasAudio() || f.HasVideo() || f.Filesize <= 0 {
			continue
		}
		if bestAudio == nil || f.Filesize > bestAudio.Filesize {
			bestAudio = f
		}
	}
	if audioOnly {
		if bestAudio == nil {
			return 0, false
		}
		return bestAudio.Filesize, true
	}

	var bestVideo *Format
	for i := range v.Formats {
		f := &v.Formats[i]
		if !f.HasVideo() || f.Height == 0 || f.Height > height || f.Filesize <= 0 {
			continue
		}
		if bestVideo == nil || f.Height > bestVideo.Height ||
			(f.Height == bestVideo.Height && f.Filesize > bestVideo.Filesize) {
			bestVideo = f
		}
	}
	if bestVideo == nil {
		return 0, false
	}
	if bestVideo.HasAudio() {
		return bestVideo.Filesize, true
	}
	if bestAudio == nil {
		return 0, false
	}
	return bestVideo.Filesize + bestAudio.Filesize, true
}

// Languages lists the distinct audio track languages, sorted.
func Languages(v *Video) []string {
	if v == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, f := range v.Formats {
		lang := strings.TrimSpace(f.Language)
		if lang == "" || !f.HasAudio() || !ValidLanguage(lang) {
			continue
		}
		seen[lang] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
