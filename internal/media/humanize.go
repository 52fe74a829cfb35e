package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

// FormatSize renders a byte count the way the form shows it: KB below one
// mebibyte, MB below one gibibyte, GB above. Unknown sizes are <= 0.
func FormatSize(n int64) string {
	switch {
	case n <= 0:
		return "Unknown size"
	case n < mib:
		return fmt.Sprintf("%.1f KB", float64(n)/kib)
	case n < gib:
		return fmt.Sprintf("%.1f MB", float64(n)/mib)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gib)
	}
}

// FormatDuration renders seconds as "4m 5s" or "1h 2m 3s".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "Unknown duration"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// FormatViews inserts thousands separators.
func FormatViews(n int64) string {
	if n < 0 {
		return "-" + FormatViews(-n)
	}
	digits := strconv.FormatInt(n, 10)
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatElapsed renders a fetch time as "1.23 seconds".
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

const maxFilenameRunes = 180

// SanitizeFilename makes a title safe to use as a single path element.
func SanitizeFilename(name string) string {
	clean := unsafeFilenameChars.ReplaceAllString(name, "_")
	clean = strings.TrimSpace(clean)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return "video"
	}
	if runes := []rune(clean); len(runes) > maxFilenameRunes {
		clean = strings.TrimSpace(string(runes[:maxFilenameRunes]))
	}
	return clean
}

// TimestampedName prefixes the sanitized title with the local time so newer
// downloads sort first in a file browser.
func TimestampedName(now time.Time, title, ext string) string {
	name := now.Format("20060102_150405") + "_" + SanitizeFilename(title)
	if ext == "" {
		return name
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// QualityTier returns the marketing label for a resolution, or "" when the
// resolution has none.
func QualityTier(height int) string {
	switch height {
	case 2160:
		return "4K"
	case 1440:
		return "2K"
	case 1080:
		return "Full HD"
	case 720:
		return "HD"
	default:
		return ""
	}
}

// IsHighResolution reports whether playback of the height may stutter on
// ordinary devices.
func IsHighResolution(height int) bool {
	return height >= 1440
}
