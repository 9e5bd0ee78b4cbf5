// Package catalog holds the server-side entities the engine moves around.
package catalog

import (
	"strings"

	"github.com/samber/lo"
)

// Track is a reference to one streamable item in the remote catalog.
// JSON tags follow the Subsonic "child" element so REST responses decode
// straight into it.
type Track struct {
	ID               string `json:"id"`
	ParentID         string `json:"parent,omitempty"`
	Title            string `json:"title"`
	Artist           string `json:"artist,omitempty"`
	Album            string `json:"album,omitempty"`
	Suffix           string `json:"suffix,omitempty"`
	TranscodedSuffix string `json:"transcodedSuffix,omitempty"`
	Path             string `json:"path,omitempty"`
	CoverArtID       string `json:"coverArt,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	BitRate          int    `json:"bitRate,omitempty"`
	Size             int64  `json:"size,omitempty"`
	Track            int    `json:"track,omitempty"`
	DiscNumber       int    `json:"discNumber,omitempty"`
	Year             int    `json:"year,omitempty"`
	IsVideo          bool   `json:"isVideo,omitempty"`
}

// Extension returns the file extension the server will deliver, without the dot.
func (t Track) Extension() string {
	if t.TranscodedSuffix != "" {
		return strings.ToLower(t.TranscodedSuffix)
	}
	if t.Suffix != "" {
		return strings.ToLower(t.Suffix)
	}
	return "mp3"
}

// IDs extracts the track ids in order.
func IDs(tracks []Track) []string {
	return lo.Map(tracks, func(t Track, _ int) string { return t.ID })
}

// JukeboxStatus is the server-side jukebox state as last reported.
type JukeboxStatus struct {
	CurrentIndex    int     `json:"currentIndex"`
	Playing         bool    `json:"playing"`
	Gain            float64 `json:"gain"`
	PositionSeconds int     `json:"position"`
}
