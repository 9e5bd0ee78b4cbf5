package trackfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	apperrors "github.com/ultrasonic/ultrasonic-sub000/internal/errors"
	"github.com/ultrasonic/ultrasonic-sub000/internal/metadata"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/network"
)

const (
	chunkSize        = 16 * 1024
	progressInterval = 3 * time.Second
)

// StartDownload starts a transfer goroutine unless one is already running.
// The bit-rate is refreshed only when no partial file exists, so a resumed
// transfer keeps the bit-rate its first bytes were encoded with.
func (f *TrackFile) StartDownload() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil {
		return
	}

	if f.deps.BitRate != nil && (f.bitRate == 0 || !fileExists(f.partialPath)) {
		f.bitRate = f.deps.BitRate()
	}
	f.failed = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go f.run(ctx, cancel, done)
}

func (f *TrackFile) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	if f.deps.Observer != nil {
		f.deps.Observer.TransferStarted(f)
	}

	err := f.transfer(ctx)
	if err != nil && !apperrors.IsCancelled(err) {
		// Half-moved outputs are discarded; the partial stays for resume.
		removeFile(f.completePath + ".tmp")
		removeFile(f.pinnedPath + ".tmp")
	}

	f.mu.Lock()
	f.cancel = nil
	f.done = nil
	if err != nil && !apperrors.IsCancelled(err) {
		f.failed = true
	}
	f.mu.Unlock()

	switch {
	case err == nil:
	case apperrors.IsCancelled(err):
		f.logger.Info("transfer cancelled", zap.String("received", humanize.Bytes(uint64(f.Progress()))))
	default:
		f.logger.Error("transfer failed", zap.Error(err))
	}

	if f.deps.Observer != nil {
		f.deps.Observer.TransferFinished(f, err)
	}
}

func (f *TrackFile) transfer(ctx context.Context) error {
	if f.deps.Locks != nil {
		defer f.deps.Locks.AcquireWake("transfer:" + f.track.ID)()
		defer f.deps.Locks.AcquireNetwork("transfer:" + f.track.ID)()
	}

	if fileExists(f.pinnedPath) {
		f.logger.Debug("pinned file already present")
		return nil
	}

	if fileExists(f.completePath) {
		return f.pinComplete()
	}

	if err := f.download(ctx); err != nil {
		return err
	}
	f.fetchCoverArt(ctx)
	return f.finish()
}

// download streams the track into the partial file, resuming from its
// current length.
func (f *TrackFile) download(ctx context.Context) (err error) {
	if err := os.MkdirAll(filepath.Dir(f.partialPath), 0755); err != nil {
		return apperrors.NewFileSystemError("failed to create cache directory", err)
	}

	offset := fileSize(f.partialPath)
	f.mu.Lock()
	bitRate := f.bitRate
	f.mu.Unlock()

	start := time.Now()
	monitoring.RecordTransferStart()
	var written int64
	defer func() {
		switch {
		case err == nil:
			monitoring.RecordTransferComplete(time.Since(start), written)
		case apperrors.IsCancelled(err):
			monitoring.RecordTransferCancelled(written)
		default:
			monitoring.RecordTransferFailed(string(apperrors.GetErrorType(err)), written)
		}
	}()

	body, partial, err := f.deps.Fetcher.Fetch(ctx, f.track, offset, bitRate)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewCancelledError("transfer cancelled", ctx.Err())
		}
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if partial && offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}
	out, err := os.OpenFile(f.partialPath, flags, 0644)
	if err != nil {
		return apperrors.NewFileSystemError("failed to open partial file", err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = apperrors.NewFileSystemError("failed to close partial file", closeErr)
		}
	}()

	f.progress.Store(offset)
	f.logger.Info("transfer started",
		zap.Int64("offset", offset),
		zap.Bool("resumed", offset > 0),
		zap.Int("max_bitrate", bitRate))

	var reader io.Reader = body
	if f.deps.Limiter != nil {
		reader = network.NewThrottledReader(ctx, body, f.deps.Limiter)
	}

	buf := make([]byte, chunkSize)
	lastReport := time.Now()
	for {
		if ctx.Err() != nil {
			return apperrors.NewCancelledError("transfer cancelled", ctx.Err())
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return apperrors.NewFileSystemError("failed to write partial file", writeErr)
			}
			written += int64(n)
			total := f.progress.Add(int64(n))

			if time.Since(lastReport) >= progressInterval {
				lastReport = time.Now()
				f.logger.Debug("transfer progress", zap.String("received", humanize.Bytes(uint64(total))))
				if f.deps.Observer != nil {
					f.deps.Observer.TransferProgress(f, total)
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return apperrors.NewCancelledError("transfer cancelled", readErr)
			}
			return apperrors.NewNetworkError("failed to read media stream", readErr)
		}
	}

	if err := out.Sync(); err != nil {
		return apperrors.NewFileSystemError("failed to sync partial file", err)
	}

	f.logger.Info("transfer finished",
		zap.String("size", humanize.Bytes(uint64(f.progress.Load()))),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// pinComplete promotes an existing complete file when a pinned copy was
// requested after it finished.
func (f *TrackFile) pinComplete() error {
	f.mu.Lock()
	if !f.pin {
		f.mu.Unlock()
		return nil
	}
	if f.playing {
		f.deferred = PendingRenameToPinned
		f.mu.Unlock()
		return nil
	}
	err := f.promoteLocked(true)
	f.mu.Unlock()

	if err != nil {
		return apperrors.NewFileSystemError("failed to pin complete file", err)
	}
	f.register()
	return nil
}

// finish moves the partial file into place, or defers the move while the
// player holds the file.
func (f *TrackFile) finish() error {
	f.mu.Lock()
	if f.playing {
		if f.pin {
			f.deferred = PendingRenameToPinned
		} else {
			f.deferred = PendingRenameToComplete
		}
		f.mu.Unlock()
		return nil
	}

	pin := f.pin
	err := f.promoteLocked(pin)
	f.mu.Unlock()

	if err != nil {
		return apperrors.NewFileSystemError("failed to move finished transfer", err)
	}
	if pin {
		f.register()
	}
	return nil
}

// fetchCoverArt stores the album cover next to the track once per
// directory. Failures are only logged.
func (f *TrackFile) fetchCoverArt(ctx context.Context) {
	if f.deps.CoverArt == nil || f.track.CoverArtID == "" {
		return
	}
	dir := filepath.Dir(f.partialPath)
	if metadata.FileExists(metadata.CoverArtPath(dir)) {
		return
	}

	data, err := f.deps.CoverArt.CoverArt(ctx, f.track.CoverArtID, f.deps.CoverArtSize)
	if err != nil {
		f.logger.Warn("failed to fetch cover art", zap.Error(err))
		return
	}
	if _, err := metadata.SaveCoverArt(dir, data, f.deps.CoverArtSize); err != nil {
		f.logger.Warn("failed to store cover art", zap.Error(err))
	}
}
