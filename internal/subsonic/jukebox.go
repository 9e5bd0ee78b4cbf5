package subsonic

import (
	"context"
	"net/url"
	"strconv"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
)

// jukeboxMinVersion is the first REST API version with jukeboxControl.
const jukeboxMinVersion = "1.7.0"

// JukeboxClient drives the server-side jukebox.
type JukeboxClient struct {
	c *Client
}

// Jukebox returns the jukebox control surface of the client.
func (c *Client) Jukebox() *JukeboxClient {
	return &JukeboxClient{c: c}
}

// SetPlaylist replaces the jukebox playlist with the given track ids.
func (j *JukeboxClient) SetPlaylist(ctx context.Context, ids []string) (*catalog.JukeboxStatus, error) {
	params := url.Values{}
	for _, id := range ids {
		params.Add("id", id)
	}
	return j.control(ctx, "set", params)
}

// Skip jumps to index and seeks to offsetSeconds within it.
func (j *JukeboxClient) Skip(ctx context.Context, index, offsetSeconds int) (*catalog.JukeboxStatus, error) {
	params := url.Values{}
	params.Set("index", strconv.Itoa(index))
	params.Set("offset", strconv.Itoa(offsetSeconds))
	return j.control(ctx, "skip", params)
}

// Stop pauses jukebox playback.
func (j *JukeboxClient) Stop(ctx context.Context) (*catalog.JukeboxStatus, error) {
	return j.control(ctx, "stop", nil)
}

// Start resumes jukebox playback.
func (j *JukeboxClient) Start(ctx context.Context) (*catalog.JukeboxStatus, error) {
	return j.control(ctx, "start", nil)
}

// SetGain sets the jukebox volume in [0,1].
func (j *JukeboxClient) SetGain(ctx context.Context, gain float64) (*catalog.JukeboxStatus, error) {
	params := url.Values{}
	params.Set("gain", strconv.FormatFloat(gain, 'f', 2, 64))
	return j.control(ctx, "setGain", params)
}

// GetStatus polls the jukebox state.
func (j *JukeboxClient) GetStatus(ctx context.Context) (*catalog.JukeboxStatus, error) {
	return j.control(ctx, "status", nil)
}

func (j *JukeboxClient) control(ctx context.Context, action string, params url.Values) (*catalog.JukeboxStatus, error) {
	if err := j.c.requireVersion(ctx, jukeboxMinVersion); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("action", action)

	var r response
	if err := j.c.call(ctx, "jukeboxControl", params, &r); err != nil {
		return nil, err
	}

	switch {
	case r.JukeboxStatus != nil:
		return r.JukeboxStatus, nil
	case r.JukeboxPlaylist != nil:
		status := r.JukeboxPlaylist.JukeboxStatus
		return &status, nil
	}
	return nil, apperrors.NewServerError(apperrors.CodeGeneric, "jukebox reply carried no status")
}
