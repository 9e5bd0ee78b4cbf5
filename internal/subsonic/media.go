package subsonic

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/network"
)

// maxCoverArtBytes bounds a cover art download.
const maxCoverArtBytes = 20 << 20

// Fetch opens the media stream of track starting at offset. The returned
// flag reports whether the server honoured the range; when false the
// stream starts at byte 0. A maxBitRate of 0 asks for the original file.
func (c *Client) Fetch(ctx context.Context, track catalog.Track, offset int64, maxBitRate int) (io.ReadCloser, bool, error) {
	params := url.Values{}
	params.Set("id", track.ID)
	if maxBitRate > 0 {
		params.Set("maxBitRate", strconv.Itoa(maxBitRate))
	}
	if track.IsVideo {
		params.Set("format", "raw")
	}

	body, partial, err := c.openMedia(ctx, "stream", params, offset)
	if err != nil {
		return nil, false, err
	}
	return body, partial, nil
}

// CoverArt downloads the cover image with the given id at the given size
// (0 for the original).
func (c *Client) CoverArt(ctx context.Context, id string, size int) ([]byte, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("cover art id cannot be empty")
	}
	params := url.Values{}
	params.Set("id", id)
	if size > 0 {
		params.Set("size", strconv.Itoa(size))
	}

	body, _, err := c.openMedia(ctx, "getCoverArt", params, 0)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxCoverArtBytes))
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read cover art", err)
	}
	return data, nil
}

// RandomSongs returns up to n random tracks from the server catalog.
func (c *Client) RandomSongs(ctx context.Context, n int) ([]catalog.Track, error) {
	params := url.Values{}
	params.Set("size", strconv.Itoa(n))

	var r response
	if err := c.call(ctx, "getRandomSongs", params, &r); err != nil {
		return nil, err
	}
	if r.RandomSongs == nil {
		return nil, nil
	}
	return r.RandomSongs.Song, nil
}

// openMedia issues a binary request. The server reports failures with a
// regular JSON (or XML) envelope instead of media, so those content types
// are decoded as errors.
func (c *Client) openMedia(ctx context.Context, method string, params url.Values, offset int64) (io.ReadCloser, bool, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, false, apperrors.NewCancelledError("rate limiter wait cancelled", err)
	}

	apiURL, err := c.endpoint(method, params)
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequest(http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, false, apperrors.NewValidationError(fmt.Sprintf("failed to build request: %v", err))
	}

	resp, err := network.RangeGet(ctx, c.streamClient, req, offset)
	if err != nil {
		monitoring.RecordAPIRequest(method, string(apperrors.GetErrorType(err)), time.Since(start))
		return nil, false, err
	}

	if isEnvelope(resp.ContentType) {
		defer resp.Body.Close()
		_, err := c.decode(resp.Body)
		if err == nil {
			err = apperrors.NewServerError(apperrors.CodeGeneric, method+" returned no media")
		}
		monitoring.RecordAPIRequest(method, string(apperrors.GetErrorType(err)), time.Since(start))
		return nil, false, err
	}

	monitoring.RecordAPIRequest(method, "ok", time.Since(start))
	return resp.Body, resp.Partial, nil
}

func isEnvelope(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/json", "text/json", "text/xml", "application/xml":
		return true
	}
	return false
}
