package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lvcoi/tubeform/internal/media"
)

// ArtifactReader streams an artifact and removes its temporary directory on
// Close. It embeds *os.File so it can be handed to http.ServeContent.
type ArtifactReader struct {
	*os.File
	cleanup string
}

// OpenArtifact opens a for reading. Temporary artifacts are deleted when the
// reader is closed.
func OpenArtifact(a *media.Artifact) (*ArtifactReader, error) {
	if a == nil {
		return nil, errors.New("no artifact")
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("opening %s: %w", a.Filename, err))
	}
	r := &ArtifactReader{File: f}
	if a.Temporary {
		r.cleanup = a.Dir
	}
	return r, nil
}

func (r *ArtifactReader) Close() error {
	err := r.File.Close()
	if r.cleanup != "" {
		_ = os.RemoveAll(r.cleanup)
	}
	return err
}

// Discard removes a temporary artifact without serving it.
func Discard(a *media.Artifact) {
	if a == nil || !a.Temporary || a.Dir == "" {
		return
	}
	_ = os.RemoveAll(a.Dir)
}

// kindForExt classifies a final file by its extension.
func kindForExt(ext string) media.Kind {
	switch strings.ToLower(ext) {
	case "mp3", "m4a", "opus", "ogg", "aac", "weba", "wav", "flac":
		return media.KindAudio
	case "zip":
		return media.KindZip
	default:
		return media.KindVideo
	}
}

// contentTypeFor is media.ContentTypeFor, except that audio kept in a
// video container is served with an audio type.
func contentTypeFor(ext string, kind media.Kind) string {
	if kind == media.KindAudio {
		switch ext {
		case "webm", "weba":
			return "audio/webm"
		case "mp4":
			return "audio/mp4"
		}
	}
	return media.ContentTypeFor(ext)
}

func extOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// splitStreams orders two raw stream files into video and audio. Known audio
// containers win; otherwise the larger file is taken as video.
func splitStreams(files []string) (video, audio string) {
	a, b := files[0], files[1]
	switch {
	case kindForExt(extOf(a)) == media.KindAudio:
		return b, a
	case kindForExt(extOf(b)) == media.KindAudio:
		return a, b
	}
	if fileSize(b) > fileSize(a) {
		return b, a
	}
	return a, b
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// locateOutput returns path if it exists, or a file in the same directory
// sharing its base name with another extension.
func locateOutput(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), globEscape(stem)+".*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", wrapCategory(CategoryFilesystem, fmt.Errorf("download completed but file not found: %s", filepath.Base(path)))
}

func globEscape(s string) string {
	replacer := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return replacer.Replace(s)
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
