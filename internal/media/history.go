package media

import "time"

// HistoryEntry records one completed download.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel,omitempty"`
	VideoID   string    `json:"video_id,omitempty"`
	Option    string    `json:"option"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Kind      Kind      `json:"kind"`
	SourceURL string    `json:"source_url"`
	Extractor string    `json:"extractor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
