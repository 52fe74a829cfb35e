package transcode

import (
	"path/filepath"
	"strings"

	id3v2 "github.com/bogem/id3v2/v2"
)

// Tags are the ID3 fields written to audio downloads.
type Tags struct {
	Title   string
	Artist  string
	Album   string
	Comment string
}

// TagMP3 writes ID3v2 tags into an MP3 file. Other extensions are left
// untouched.
func TagMP3(path string, tags Tags) error {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return nil
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if tags.Comment != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "source",
			Text:        tags.Comment,
		})
	}
	return tag.Save()
}
