// Package media holds the request-scoped shapes produced from extractor
// metadata and the pure helpers that turn them into display text.
package media

// Video is the metadata returned by an extractor in metadata-only mode.
// Every field is passed through as reported.
type Video struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Channel    string   `json:"channel"`
	Duration   int      `json:"duration_seconds"`
	Views      int64    `json:"views"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	WebpageURL string   `json:"webpage_url,omitempty"`
	Extractor  string   `json:"extractor,omitempty"`
	Formats    []Format `json:"formats,omitempty"`
}

// Format is one concrete container/codec/resolution combination.
type Format struct {
	ID       string `json:"id"`
	Height   int    `json:"height,omitempty"`
	Width    int    `json:"width,omitempty"`
	Ext      string `json:"ext"`
	VCodec   string `json:"vcodec,omitempty"`
	ACodec   string `json:"acodec,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
	Bitrate  int    `json:"bitrate,omitempty"`
	Language string `json:"language,omitempty"`
	Note     string `json:"note,omitempty"`
	URL      string `json:"url,omitempty"`
}

// HasVideo reports whether the format carries a video stream.
func (f Format) HasVideo() bool {
	if f.VCodec != "" {
		return f.VCodec != "none"
	}
	return f.Height > 0
}

// HasAudio reports whether the format carries an audio stream.
func (f Format) HasAudio() bool {
	if f.ACodec != "" {
		return f.ACodec != "none"
	}
	return f.Height == 0
}

// MaxHeight returns the tallest video format, or 0 when none report a height.
func (v *Video) MaxHeight() int {
	if v == nil {
		return 0
	}
	best := 0
	for _, f := range v.Formats {
		if f.HasVideo() && f.Height > best {
			best = f.Height
		}
	}
	return best
}

// Kind classifies a produced artifact.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindZip   Kind = "zip"
)

// Artifact is the output of a single download, held only long enough to be
// offered back to the user.
type Artifact struct {
	Path        string `json:"-"`
	Dir         string `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Kind        Kind   `json:"kind"`
	Temporary   bool   `json:"-"`
}

// ContentTypeFor maps a file extension to the MIME type served to browsers.
func ContentTypeFor(ext string) string {
	switch ext {
	case "mp4", "m4v":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "opus", "ogg":
		return "audio/ogg"
	case "zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
