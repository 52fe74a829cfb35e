package downloader

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory groups failures by what the user can do about them.
type ErrorCategory string

const (
	CategoryUnknown     ErrorCategory = "unknown"
	CategoryInvalidURL  ErrorCategory = "invalid_url"
	CategoryNetwork     ErrorCategory = "network"
	CategoryRestricted  ErrorCategory = "restricted"
	CategoryUnsupported ErrorCategory = "unsupported"
	CategoryFilesystem  ErrorCategory = "filesystem"
	CategoryTranscoder  ErrorCategory = "transcoder"
)

// CategorizedError attaches an ErrorCategory to an underlying error.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

func wrapCategory(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return &CategorizedError{Category: category, Err: err}
}

// CategoryOf returns the category attached to err, or CategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// ExitCode maps an error to a CLI process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL:
		return 2
	case CategoryUnsupported:
		return 3
	case CategoryRestricted:
		return 4
	case CategoryNetwork:
		return 5
	case CategoryFilesystem:
		return 6
	case CategoryTranscoder:
		return 7
	default:
		return 1
	}
}

var categoryMarkers = []struct {
	category ErrorCategory
	markers  []string
}{
	{CategoryRestricted, []string{"http error 403", "private video", "sign in", "login required", "members only", "age-restricted", "confirm your age"}},
	{CategoryUnsupported, []string{"requested format not available", "requested format is not available", "unsupported url", "signature", "no video formats", "is not a valid url"}},
	{CategoryTranscoder, []string{"ffmpeg", "ffprobe", "postprocessing"}},
	{CategoryNetwork, []string{"network", "connection", "timed out", "timeout", "temporary failure", "no such host", "http error 5"}},
	{CategoryFilesystem, []string{"no space left", "permission denied", "read-only file system"}},
}

// Classify attaches a category to err based on its message when it does not
// already carry one.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if CategoryOf(err) != CategoryUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapCategory(CategoryNetwork, err)
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range categoryMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(msg, marker) {
				return wrapCategory(entry.category, err)
			}
		}
	}
	return err
}

// Hint returns a short suggestion to show next to an error message, or "".
func Hint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "http error 403"):
		return "This video may be restricted or not available for download."
	case strings.Contains(msg, "signature"):
		return "YouTube may have changed their system. Try updating yt-dlp."
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return "Network error. Check your internet connection and try again."
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL:
		return "Enter a full http(s) video URL."
	case CategoryTranscoder:
		return "FFmpeg failed or is not installed. Install FFmpeg for merged and MP3 downloads."
	}
	return ""
}

func isFormatUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "requested format not available") ||
		strings.Contains(msg, "requested format is not available")
}

// UserMessage trims extractor noise such as color codes and "ERROR: "
// prefixes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(CleanANSI(err.Error()))
	return strings.TrimPrefix(msg, "ERROR: ")
}
