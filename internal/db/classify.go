package db

import (
	"strings"

	"github.com/lvcoi/tubeform/internal/media"
)

// History categories.
const (
	CategoryMusic   = "music"
	CategoryPodcast = "podcast"
	CategoryVideo   = "video"
)

// Classify files a download under music, podcast or video using the signals
// available after a download:
//   - music: music.youtube.com source, a " - Topic" channel, or an audio-only
//     download
//   - podcast: "podcast" in the channel or title
//   - video: everything else
func Classify(entry media.HistoryEntry) string {
	if strings.Contains(entry.SourceURL, "music.youtube.com") {
		return CategoryMusic
	}
	if strings.HasSuffix(entry.Channel, " - Topic") {
		return CategoryMusic
	}
	if strings.Contains(strings.ToLower(entry.Channel+" "+entry.Title), "podcast") {
		return CategoryPodcast
	}
	if entry.Kind == media.KindAudio {
		return CategoryMusic
	}
	return CategoryVideo
}
