package network

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const minThrottleBurst = 16 * 1024

// NewBandwidthLimiter returns a byte-rate limiter, or nil when bytesPerSecond
// is not positive. The limit can be changed later with SetLimit.
func NewBandwidthLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, minThrottleBurst))
}

// UpdateBandwidthLimit changes the limit of an existing limiter; 0 lifts it.
func UpdateBandwidthLimit(l *rate.Limiter, bytesPerSecond int) {
	if l == nil {
		return
	}
	if bytesPerSecond <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	l.SetLimit(rate.Limit(bytesPerSecond))
	l.SetBurst(max(bytesPerSecond, minThrottleBurst))
}

// ThrottledReader delays reads so the byte rate stays within the limiter.
type ThrottledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewThrottledReader wraps r. A nil limiter makes it a pass-through.
func NewThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if t.limiter == nil {
		return t.r.Read(p)
	}
	if burst := t.limiter.Burst(); burst > 0 && len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
