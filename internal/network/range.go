package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
)

// RangeResponse is a media body fetched from some byte offset.
type RangeResponse struct {
	Body io.ReadCloser
	// Partial reports that Body starts at the requested offset. When false
	// the body starts at byte 0 regardless of what was asked for.
	Partial     bool
	ContentType string
	// Length is the number of bytes in Body, or -1 if unknown.
	Length int64
}

// RangeGet sends req with a "Range: bytes=offset-" header when offset > 0
// and classifies the outcome. A 416 for a non-zero offset means the file is
// already complete and yields an empty partial body.
func RangeGet(ctx context.Context, client *http.Client, req *http.Request, offset int64) (*RangeResponse, error) {
	req = req.WithContext(ctx)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("stream request cancelled", ctx.Err())
		}
		return nil, apperrors.NewNetworkError("stream request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			resp.Body.Close()
			return nil, apperrors.NewNetworkError(
				fmt.Sprintf("server answered range %d with offset %d", offset, start), nil)
		}
		return newRangeResponse(resp, offset > 0), nil
	case resp.StatusCode == http.StatusOK:
		return newRangeResponse(resp, false), nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		resp.Body.Close()
		return &RangeResponse{Body: io.NopCloser(strings.NewReader("")), Partial: true, Length: 0}, nil
	}

	resp.Body.Close()
	return nil, StatusError(resp.StatusCode)
}

func newRangeResponse(resp *http.Response, partial bool) *RangeResponse {
	return &RangeResponse{
		Body:        resp.Body,
		Partial:     partial,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}
}

// StatusError classifies an unexpected HTTP status.
func StatusError(code int) *apperrors.AppError {
	msg := fmt.Sprintf("unexpected status code: %d", code)
	switch {
	case code == http.StatusUnauthorized:
		return apperrors.NewAuthError(msg, nil)
	case code == http.StatusForbidden:
		return apperrors.NewNotAuthorizedError(msg)
	case code == http.StatusNotFound:
		return apperrors.NewNotFoundError(msg)
	case code >= 500 || code == http.StatusTooManyRequests:
		return apperrors.NewNetworkError(msg, nil)
	}
	return &apperrors.AppError{Type: apperrors.ErrTypeServer, Message: msg}
}

// contentRangeStart parses "bytes 100-199/200".
func contentRangeStart(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	startText, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startText), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}
