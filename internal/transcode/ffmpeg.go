// Package transcode wraps the external ffmpeg binary and the fallbacks used
// when it is not installed.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrUnavailable is returned when no ffmpeg binary can be found.
var ErrUnavailable = errors.New("ffmpeg not found")

// FFmpeg builds ffmpeg command lines with ffmpeg-go and runs them bound to a
// context.
type FFmpeg struct {
	Binary string
}

// New returns an FFmpeg using binary, or "ffmpeg" from PATH when empty.
func New(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

// Available checks if ffmpeg is installed and accessible.
func (f *FFmpeg) Available() bool {
	if f == nil {
		return false
	}
	_, err := exec.LookPath(f.Binary)
	return err == nil
}

// Merge muxes a video-only and an audio-only file into an MP4. H.264 video
// is copied; anything else is re-encoded for player compatibility.
func (f *FFmpeg) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	kwargs := ffmpeg.KwArgs{
		"c:a":      "aac",
		"b:a":      "192k",
		"movflags": "+faststart",
	}
	if strings.EqualFold(filepath.Ext(videoPath), ".mp4") {
		kwargs["c:v"] = "copy"
	} else {
		kwargs["c:v"] = "libx264"
		kwargs["preset"] = "fast"
		kwargs["crf"] = "23"
		kwargs["pix_fmt"] = "yuv420p"
	}
	stream := ffmpeg.Output([]*ffmpeg.Stream{
		ffmpeg.Input(videoPath).Video(),
		ffmpeg.Input(audioPath).Audio(),
	}, outputPath, kwargs).OverWriteOutput()
	return f.run(ctx, stream, outputPath)
}

// ExtractMP3 drops the video track and encodes the audio as MP3.
func (f *FFmpeg) ExtractMP3(ctx context.Context, inputPath, outputPath, bitrate string) error {
	if bitrate == "" {
		bitrate = "192k"
	}
	stream := ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "libmp3lame",
			"b:a":    bitrate,
		}).
		OverWriteOutput()
	return f.run(ctx, stream, outputPath)
}

// ConvertMP4 remuxes or re-encodes any container into MP4.
func (f *FFmpeg) ConvertMP4(ctx context.Context, inputPath, outputPath string) error {
	stream := ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{
			"c:v":      "libx264",
			"preset":   "fast",
			"crf":      "23",
			"pix_fmt":  "yuv420p",
			"c:a":      "aac",
			"b:a":      "192k",
			"movflags": "+faststart",
		}).
		OverWriteOutput()
	return f.run(ctx, stream, outputPath)
}

func (f *FFmpeg) run(ctx context.Context, stream *ffmpeg.Stream, outputPath string) error {
	if !f.Available() {
		return ErrUnavailable
	}
	cmd := exec.CommandContext(ctx, f.Binary, stream.GetArgs()...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stderr := lastLines(string(output), 3)
		if stderr != "" {
			return fmt.Errorf("ffmpeg %s: %s: %w", filepath.Ext(outputPath), stderr, err)
		}
		return fmt.Errorf("ffmpeg %s: %w", filepath.Ext(outputPath), err)
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}
