package db

import (
	"testing"

	"github.com/lvcoi/tubeform/internal/media"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		entry media.HistoryEntry
		want  string
	}{
		{
			name:  "music.youtube.com URL",
			entry: media.HistoryEntry{SourceURL: "https://music.youtube.com/watch?v=abc", Kind: media.KindVideo},
			want:  CategoryMusic,
		},
		{
			name:  "Topic channel",
			entry: media.HistoryEntry{Channel: "Taylor Swift - Topic", Kind: media.KindVideo},
			want:  CategoryMusic,
		},
		{
			name:  "podcast title beats audio kind",
			entry: media.HistoryEntry{Title: "The Daily Podcast #12", Kind: media.KindAudio},
			want:  CategoryPodcast,
		},
		{
			name:  "audio only download",
			entry: media.HistoryEntry{Title: "Live set", Kind: media.KindAudio},
			want:  CategoryMusic,
		},
		{
			name:  "zip stays video",
			entry: media.HistoryEntry{Title: "Trailer", Kind: media.KindZip},
			want:  CategoryVideo,
		},
		{
			name:  "default video",
			entry: media.HistoryEntry{SourceURL: "https://www.youtube.com/watch?v=abc", Kind: media.KindVideo},
			want:  CategoryVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.entry); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
