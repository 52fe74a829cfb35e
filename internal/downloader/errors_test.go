package downloader

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "forbidden", err: errors.New("ERROR: unable to download video data: HTTP Error 403: Forbidden"), want: "This video may be restricted or not available for download."},
		{name: "signature", err: errors.New("Signature extraction failed: Some formats may be missing"), want: "YouTube may have changed their system. Try updating yt-dlp."},
		{name: "network", err: errors.New("network is unreachable"), want: "Network error. Check your internet connection and try again."},
		{name: "connection", err: errors.New("Connection reset by peer"), want: "Network error. Check your internet connection and try again."},
		{name: "invalid url", err: wrapCategory(CategoryInvalidURL, errors.New("bad")), want: "Enter a full http(s) video URL."},
		{name: "other", err: errors.New("something odd"), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hint(tt.err); got != tt.want {
				t.Fatalf("Hint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"HTTP Error 403: Forbidden", CategoryRestricted},
		{"Private video. Sign in if you've been granted access", CategoryRestricted},
		{"Requested format is not available", CategoryUnsupported},
		{"Unsupported URL: https://example.com", CategoryUnsupported},
		{"ffmpeg exited with status 1", CategoryTranscoder},
		{"read tcp: connection reset", CategoryNetwork},
		{"open out.mp4: permission denied", CategoryFilesystem},
		{"mystery", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := CategoryOf(Classify(errors.New(tt.msg))); got != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyKeepsExistingCategory(t *testing.T) {
	err := wrapCategory(CategoryFilesystem, errors.New("network drive full"))
	if got := CategoryOf(Classify(err)); got != CategoryFilesystem {
		t.Fatalf("expected existing category to win, got %s", got)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if CategoryOf(wrapped) != CategoryFilesystem {
		t.Fatalf("expected category through wrapping")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{context.Canceled, 130},
		{wrapCategory(CategoryInvalidURL, errors.New("x")), 2},
		{wrapCategory(CategoryUnsupported, errors.New("x")), 3},
		{wrapCategory(CategoryRestricted, errors.New("x")), 4},
		{wrapCategory(CategoryNetwork, errors.New("x")), 5},
		{wrapCategory(CategoryFilesystem, errors.New("x")), 6},
		{wrapCategory(CategoryTranscoder, errors.New("x")), 7},
		{errors.New("x"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	err := errors.New("\x1b[0;31mERROR:\x1b[0m [youtube] abc: Video unavailable")
	if got := UserMessage(err); got != "[youtube] abc: Video unavailable" {
		t.Fatalf("UserMessage() = %q", got)
	}
}
