// Package metadata reads tags from cached audio files and prepares cover art.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// TrackMetadata is the subset of tags the offline catalog needs
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	TrackNumber int
	DiscNumber  int
	Year        int
}

// ReadTags reads the tags of an MP3 or FLAC file. Other formats return an
// empty TrackMetadata so callers can fall back to the file name.
func ReadTags(filePath string) (*TrackMetadata, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return readMP3Tags(filePath)
	case ".flac":
		return readFLACTags(filePath)
	default:
		if !FileExists(filePath) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return &TrackMetadata{}, nil
	}
}

func readMP3Tags(filePath string) (*TrackMetadata, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	md := &TrackMetadata{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
		Year:   leadingInt(tag.Year()),
	}

	md.AlbumArtist = textFrame(tag, "Band/Orchestra/Accompaniment")
	md.TrackNumber = leadingInt(textFrame(tag, "Track number/Position in set"))
	md.DiscNumber = leadingInt(textFrame(tag, "Part of a set"))

	return md, nil
}

func textFrame(tag *id3v2.Tag, description string) string {
	frames := tag.GetFrames(tag.CommonID(description))
	if len(frames) == 0 {
		return ""
	}
	if tf, ok := frames[0].(id3v2.TextFrame); ok {
		return tf.Text
	}
	return ""
}

func readFLACTags(filePath string) (*TrackMetadata, error) {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	md := &TrackMetadata{}
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}

		first := func(field string) string {
			if values, err := cmt.Get(field); err == nil && len(values) > 0 {
				return values[0]
			}
			return ""
		}

		md.Title = first("TITLE")
		md.Artist = first("ARTIST")
		md.Album = first("ALBUM")
		md.AlbumArtist = first("ALBUMARTIST")
		md.Genre = first("GENRE")
		md.Year = leadingInt(first("DATE"))
		md.TrackNumber = leadingInt(first("TRACKNUMBER"))
		md.DiscNumber = leadingInt(first("DISCNUMBER"))
		break
	}

	return md, nil
}

// leadingInt parses "3/12" or "2004-05-01" style values.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
