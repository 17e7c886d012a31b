// Package tagging reads the embedded tags of cached MP3 and FLAC files.
package tagging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// ErrUnsupportedFormat is returned for files that are neither MP3 nor FLAC.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Tags is the subset of embedded metadata the cache uses.
type Tags struct {
	Title      string
	Artist     string
	Album      string
	HasPicture bool
}

// Empty reports whether no text tag was found.
func (t *Tags) Empty() bool {
	return t.Title == "" && t.Artist == "" && t.Album == ""
}

// ReadFile reads the tags of the audio file at filePath, picking the format
// from its extension.
func ReadFile(filePath string) (*Tags, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".flac":
		return readFLAC(filePath)
	case ".mp3":
		return readMP3(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readMP3(filePath string) (*Tags, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	return &Tags{
		Title:      strings.TrimSpace(tag.Title()),
		Artist:     strings.TrimSpace(tag.Artist()),
		Album:      strings.TrimSpace(tag.Album()),
		HasPicture: len(tag.GetFrames(tag.CommonID("Attached picture"))) > 0,
	}, nil
}

// readFLAC parses only the metadata blocks; audio frames are never read.
func readFLAC(filePath string) (*Tags, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	defer f.Close()

	file, err := flac.ParseMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC metadata: %w", err)
	}

	tags := &Tags{}
	for _, block := range file.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fmt.Errorf("failed to parse vorbis comment: %w", err)
			}
			tags.Title = firstComment(cmt, flacvorbis.FIELD_TITLE)
			tags.Artist = firstComment(cmt, flacvorbis.FIELD_ARTIST)
			tags.Album = firstComment(cmt, flacvorbis.FIELD_ALBUM)
		case flac.Picture:
			if _, err := flacpicture.ParseFromMetaDataBlock(*block); err == nil {
				tags.HasPicture = true
			}
		}
	}
	return tags, nil
}

func firstComment(cmt *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	values, err := cmt.Get(field)
	if err != nil {
		return ""
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
