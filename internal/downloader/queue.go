package downloader

import (
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

// restartThresholdMs is how far into a track Previous restarts it instead
// of moving back.
const restartThresholdMs = 5000

// EnqueueOptions controls where and how tracks enter the main list
type EnqueueOptions struct {
	Pin          bool
	Autoplay     bool
	PlayNext     bool
	Shuffle      bool
	ReplaceQueue bool
}

// Enqueue adds tracks to the main list. It turns shuffle play off.
func (d *Downloader) Enqueue(tracks []catalog.Track, opts EnqueueOptions) {
	if len(tracks) == 0 {
		return
	}

	d.mu.Lock()
	d.shufflePlay = false

	var cancelled []*trackfile.TrackFile
	var oldCursor *trackfile.TrackFile
	if opts.ReplaceQueue {
		// As in Clear, a pinned transfer keeps running.
		if d.current != nil && lo.Contains(d.main, d.current) && !d.current.ShouldSave() {
			cancelled = append(cancelled, d.current)
			d.current = nil
		}
		d.main = nil
		oldCursor = d.playing
		d.playing = nil
	}

	files := make([]*trackfile.TrackFile, 0, len(tracks))
	for _, track := range tracks {
		f := d.fileForLocked(track)
		if opts.Pin {
			f.SetPin(true)
		}
		files = append(files, f)
	}

	cursor := d.indexLocked(d.playing)
	pos := len(d.main)
	if opts.PlayNext {
		pos = cursor + 1
		if opts.Autoplay && cursor >= 0 {
			pos = cursor
		}
	}
	d.main = insertAt(d.main, pos, files)
	d.revision.Add(1)
	d.mu.Unlock()

	for _, f := range cancelled {
		f.CancelDownload()
	}
	if oldCursor != nil {
		oldCursor.SetPlaying(false)
		d.notifyCursor(nil, -1, 0, false)
	}

	// The playlist is published before the cursor moves so a jukebox
	// receives the new list ahead of the skip.
	d.changed()
	if opts.Shuffle {
		d.Shuffle()
	}

	switch {
	case opts.Autoplay && opts.Shuffle:
		d.Play(0)
	case opts.Autoplay:
		d.Play(d.indexOf(files[0]))
	default:
		d.initCursor()
	}

	d.logger.Debug("tracks enqueued",
		zap.Int("count", len(tracks)),
		zap.Bool("play_next", opts.PlayNext),
		zap.Int64("revision", d.revision.Load()))
}

// EnqueueBackground adds tracks that are fetched but never played
func (d *Downloader) EnqueueBackground(tracks []catalog.Track, pin bool) {
	if len(tracks) == 0 {
		return
	}

	d.mu.Lock()
	for _, track := range tracks {
		f := d.fileForLocked(track)
		if pin {
			f.SetPin(true)
		}
		d.background = append(d.background, f)
	}
	d.revision.Add(1)
	d.mu.Unlock()

	d.changed()
}

// Remove takes files out of the main list, cancelling their transfers
func (d *Downloader) Remove(files ...*trackfile.TrackFile) {
	if len(files) == 0 {
		return
	}

	d.mu.Lock()
	before := len(d.main)
	d.main = lo.Without(d.main, files...)
	if len(d.main) == before {
		d.mu.Unlock()
		return
	}

	var cancelled *trackfile.TrackFile
	if d.current != nil && lo.Contains(files, d.current) {
		cancelled = d.current
		d.current = nil
	}
	var oldCursor *trackfile.TrackFile
	if d.playing != nil && lo.Contains(files, d.playing) {
		oldCursor = d.playing
		d.playing = nil
	}
	d.revision.Add(1)
	d.mu.Unlock()

	if cancelled != nil {
		cancelled.CancelDownload()
	}
	if oldCursor != nil {
		oldCursor.SetPlaying(false)
		d.notifyCursor(nil, -1, 0, false)
	}
	d.changed()
}

// RemoveTrack removes the main list entries of one track
func (d *Downloader) RemoveTrack(trackID string) {
	d.mu.Lock()
	files := lo.Filter(d.main, func(f *trackfile.TrackFile, _ int) bool {
		return f.Track().ID == trackID
	})
	d.mu.Unlock()

	d.Remove(files...)
}

// Clear empties the main list. A pinned transfer keeps running so the
// permanent copy still arrives.
func (d *Downloader) Clear() {
	d.mu.Lock()
	if len(d.main) == 0 {
		d.mu.Unlock()
		return
	}

	var cancelled *trackfile.TrackFile
	if d.current != nil && lo.Contains(d.main, d.current) && !d.current.ShouldSave() {
		cancelled = d.current
		d.current = nil
	}
	oldCursor := d.playing
	d.playing = nil
	d.main = nil
	d.revision.Add(1)
	d.mu.Unlock()

	if cancelled != nil {
		cancelled.CancelDownload()
	}
	if oldCursor != nil {
		oldCursor.SetPlaying(false)
		d.notifyCursor(nil, -1, 0, false)
	}
	d.changed()
}

// ClearBackground empties the background list
func (d *Downloader) ClearBackground() {
	d.mu.Lock()
	if len(d.background) == 0 {
		d.mu.Unlock()
		return
	}

	var cancelled *trackfile.TrackFile
	if d.current != nil && lo.Contains(d.background, d.current) {
		cancelled = d.current
		d.current = nil
	}
	d.background = nil
	d.revision.Add(1)
	d.mu.Unlock()

	if cancelled != nil {
		cancelled.CancelDownload()
	}
	d.changed()
}

// Shuffle randomises the main list. The current track moves to the top.
func (d *Downloader) Shuffle() {
	d.mu.Lock()
	if len(d.main) < 2 {
		d.mu.Unlock()
		return
	}

	shuffled := lo.Shuffle(append([]*trackfile.TrackFile(nil), d.main...))
	if d.playing != nil {
		if i := lo.IndexOf(shuffled, d.playing); i > 0 {
			shuffled[0], shuffled[i] = shuffled[i], shuffled[0]
		}
	}
	d.main = shuffled
	d.revision.Add(1)
	d.mu.Unlock()

	d.changed()
}

// Swap moves the entry at from to position to. to is clamped to the list.
func (d *Downloader) Swap(list List, from, to int) {
	d.mu.Lock()
	entries := &d.main
	if list == BackgroundList {
		entries = &d.background
	}

	n := len(*entries)
	if from < 0 || from >= n {
		d.mu.Unlock()
		return
	}
	to = max(0, min(to, n-1))
	if from == to {
		d.mu.Unlock()
		return
	}

	f := (*entries)[from]
	rest := append(append([]*trackfile.TrackFile(nil), (*entries)[:from]...), (*entries)[from+1:]...)
	*entries = insertAt(rest, to, []*trackfile.TrackFile{f})
	d.revision.Add(1)
	d.mu.Unlock()

	d.changed()
}

// Delete removes every local copy of tracks
func (d *Downloader) Delete(tracks []catalog.Track) {
	for _, f := range d.detach(tracks) {
		f.Delete()
	}
	d.Trigger()
}

// Unpin turns pinned copies of tracks back into cache files
func (d *Downloader) Unpin(tracks []catalog.Track) {
	for _, f := range d.detach(tracks) {
		f.Unpin()
	}
	d.Trigger()
}

// detach resolves the files of tracks and forgets the active transfer if
// it is one of them.
func (d *Downloader) detach(tracks []catalog.Track) []*trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()

	files := make([]*trackfile.TrackFile, 0, len(tracks))
	for _, track := range tracks {
		f := d.fileForLocked(track)
		if f == d.current {
			d.current = nil
		}
		files = append(files, f)
	}
	return files
}

// Play moves the cursor to index and starts playback there
func (d *Downloader) Play(index int) {
	d.moveCursor(index, 0, true)
}

// SyncCurrentIndex moves the cursor without restarting playback. It is used
// when the jukebox reports that the server moved on by itself.
func (d *Downloader) SyncCurrentIndex(index int) {
	d.moveCursor(index, 0, false)
}

// Next advances the cursor according to the repeat mode
func (d *Downloader) Next() {
	d.mu.Lock()
	n := len(d.main)
	idx := d.indexLocked(d.playing)
	repeat := d.repeat
	d.mu.Unlock()

	if n == 0 {
		return
	}

	next := idx + 1
	if repeat == RepeatAll {
		next %= n
	}
	if next >= n {
		return
	}
	d.Play(next)
}

// Previous restarts the current track when it has played for more than
// five seconds or is the first one, and moves back otherwise.
func (d *Downloader) Previous(positionMs int64) {
	idx := d.CurrentPlayingIndex()
	if idx < 0 {
		return
	}
	if positionMs > restartThresholdMs || idx == 0 {
		d.Play(idx)
		return
	}
	d.Play(idx - 1)
}

// SetRepeatMode changes what Next does at the end of the list
func (d *Downloader) SetRepeatMode(mode RepeatMode) {
	d.mu.Lock()
	d.repeat = mode
	d.mu.Unlock()
}

// RepeatMode returns the repeat mode
func (d *Downloader) RepeatMode() RepeatMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.repeat
}

// CurrentPlaying returns the file at the cursor, or nil
func (d *Downloader) CurrentPlaying() *trackfile.TrackFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// CurrentPlayingIndex returns the cursor, or -1 when there is none
func (d *Downloader) CurrentPlayingIndex() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.indexLocked(d.playing)
}

// SetPlayerPosition records the playback position for the next snapshot
func (d *Downloader) SetPlayerPosition(positionMs int64) {
	d.positionMs.Store(positionMs)
}

// PlayerPosition returns the last recorded playback position
func (d *Downloader) PlayerPosition() int64 {
	return d.positionMs.Load()
}

func (d *Downloader) moveCursor(index int, positionMs int64, start bool) {
	d.mu.Lock()
	if index < 0 || index >= len(d.main) {
		d.mu.Unlock()
		return
	}
	old := d.playing
	f := d.main[index]
	d.playing = f
	d.mu.Unlock()

	if old != nil && old != f {
		old.SetPlaying(false)
	}
	f.SetPlaying(true)
	d.positionMs.Store(positionMs)

	d.notifyCursor(f, index, positionMs, start)
	d.requestSnapshot()
	d.Trigger()
}

// initCursor points an unset cursor at the first entry without starting
// playback.
func (d *Downloader) initCursor() {
	d.mu.Lock()
	unset := d.playing == nil && len(d.main) > 0
	d.mu.Unlock()

	if unset {
		d.moveCursor(0, 0, false)
	}
}

func (d *Downloader) notifyCursor(f *trackfile.TrackFile, index int, positionMs int64, start bool) {
	id := ""
	if f != nil {
		id = f.Track().ID
	}
	d.deps.Notifier.NotifyCurrentChanged(id, index)
	if d.deps.Cursor != nil {
		d.deps.Cursor.CurrentChanged(f, index, positionMs, start)
	}
}

func (d *Downloader) indexOf(f *trackfile.TrackFile) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.indexLocked(f)
}

func (d *Downloader) indexLocked(f *trackfile.TrackFile) int {
	if f == nil {
		return -1
	}
	return lo.IndexOf(d.main, f)
}

func insertAt(list []*trackfile.TrackFile, pos int, files []*trackfile.TrackFile) []*trackfile.TrackFile {
	pos = max(0, min(pos, len(list)))
	out := make([]*trackfile.TrackFile, 0, len(list)+len(files))
	out = append(out, list[:pos]...)
	out = append(out, files...)
	return append(out, list[pos:]...)
}
