package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

// InfoCard renders probe results the way the form page shows them: a video
// card followed by the quality options with their sizes.
func InfoCard(res *downloader.ProbeResult, transcoder bool) string {
	if res == nil || res.Video == nil {
		return ""
	}
	v := res.Video

	var meta []string
	meta = append(meta, media.FormatDuration(v.Duration), media.FormatViews(v.Views)+" views")
	if tier := media.QualityTier(v.MaxHeight()); tier != "" {
		meta = append(meta, tier)
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render(v.Title))
	b.WriteString("\n")
	if v.Channel != "" {
		b.WriteString(mutedStyle.Render(v.Channel))
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(meta, " · "))
	b.WriteString("\n\n")

	width := 0
	for _, o := range res.Options {
		width = max(width, lipgloss.Width(o.Name))
	}
	for _, o := range res.Options {
		line := fmt.Sprintf("%-*s  %s", width, o.Name, percentStyle.Render(o.SizeLabel()))
		if o.HighResolution() {
			line += "  " + warnStyle.Render("high resolution")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(res.Languages) > 1 {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("audio languages: " + strings.Join(res.Languages, ", ")))
		b.WriteString("\n")
	}
	if !transcoder {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("ffmpeg not found: separate streams are packaged as ZIP"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("fetched in %.1fs", res.Elapsed.Seconds())))

	return titleStyle.Render(" tubeform ") + "\n" + cardStyle.Render(b.String())
}
