package downloader

import (
	"testing"
	"time"
)

func TestNewYouTubeConfiguresClient(t *testing.T) {
	y := NewYouTube(YouTubeOptions{Timeout: time.Minute, Retries: 2, ChunkSize: 1 << 20})
	adapter, ok := y.client.(*youtubeClientAdapter)
	if !ok {
		t.Fatalf("expected the library client adapter, got %T", y.client)
	}
	if adapter.ChunkSize != 1<<20 {
		t.Fatalf("expected chunk size to be applied, got %d", adapter.ChunkSize)
	}
	if adapter.HTTPClient == nil || adapter.HTTPClient.Timeout != time.Minute {
		t.Fatalf("expected retrying HTTP client with timeout, got %+v", adapter.HTTPClient)
	}
	if _, ok := adapter.HTTPClient.Transport.(*retryTransport); !ok {
		t.Fatalf("expected retry transport, got %T", adapter.HTTPClient.Transport)
	}
}
