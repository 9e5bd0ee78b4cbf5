// Package jukebox drives the server-side jukebox: commands are queued,
// de-duplicated by kind and executed one at a time against the server.
package jukebox

import (
	"context"

	"github.com/google/uuid"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
)

// Tag identifies the kind of a jukebox command
type Tag int

const (
	TagSetPlaylist Tag = iota
	TagSkip
	TagStop
	TagStart
	TagSetGain
	TagGetStatus
)

func (t Tag) String() string {
	switch t {
	case TagSetPlaylist:
		return "set_playlist"
	case TagSkip:
		return "skip"
	case TagStop:
		return "stop"
	case TagStart:
		return "start"
	case TagSetGain:
		return "set_gain"
	case TagGetStatus:
		return "get_status"
	default:
		return "unknown"
	}
}

// Remote is the server side of the jukebox
type Remote interface {
	SetPlaylist(ctx context.Context, ids []string) (*catalog.JukeboxStatus, error)
	Skip(ctx context.Context, index, offsetSeconds int) (*catalog.JukeboxStatus, error)
	Stop(ctx context.Context) (*catalog.JukeboxStatus, error)
	Start(ctx context.Context) (*catalog.JukeboxStatus, error)
	SetGain(ctx context.Context, gain float64) (*catalog.JukeboxStatus, error)
	GetStatus(ctx context.Context) (*catalog.JukeboxStatus, error)
}

// Command is one queued jukebox request
type Command struct {
	ID     uuid.UUID
	Tag    Tag
	IDs    []string
	Index  int
	Offset int
	Gain   float64
}

func newCommand(tag Tag) Command {
	return Command{ID: uuid.New(), Tag: tag}
}

func setPlaylistCommand(ids []string) Command {
	c := newCommand(TagSetPlaylist)
	c.IDs = append([]string(nil), ids...)
	return c
}

func skipCommand(index, offsetSeconds int) Command {
	c := newCommand(TagSkip)
	c.Index = index
	c.Offset = offsetSeconds
	return c
}

func setGainCommand(gain float64) Command {
	c := newCommand(TagSetGain)
	c.Gain = gain
	return c
}

// evicts lists the pending tags a new command makes obsolete. A new
// playlist supersedes any queued transport command, a skip supersedes
// queued play state changes.
func (c Command) evicts() []Tag {
	switch c.Tag {
	case TagSetPlaylist:
		return []Tag{TagSetPlaylist, TagSkip, TagStop, TagStart}
	case TagSkip:
		return []Tag{TagSkip, TagStop, TagStart}
	case TagStop, TagStart:
		return []Tag{TagStop, TagStart}
	default:
		return []Tag{c.Tag}
	}
}

func (c Command) execute(ctx context.Context, remote Remote) (*catalog.JukeboxStatus, error) {
	switch c.Tag {
	case TagSetPlaylist:
		return remote.SetPlaylist(ctx, c.IDs)
	case TagSkip:
		return remote.Skip(ctx, c.Index, c.Offset)
	case TagStop:
		return remote.Stop(ctx)
	case TagStart:
		return remote.Start(ctx)
	case TagSetGain:
		return remote.SetGain(ctx, c.Gain)
	default:
		return remote.GetStatus(ctx)
	}
}
