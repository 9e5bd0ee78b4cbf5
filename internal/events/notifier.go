// Package events fans engine state changes out to presentation subscribers.
// Delivery is asynchronous and lossy: a slow subscriber misses events
// instead of blocking the engine.
package events

import (
	"sync"
	"time"
)

// Type identifies an event
type Type string

const (
	QueueChanged      Type = "queue_changed"
	CurrentChanged    Type = "current_changed"
	TransferStarted   Type = "transfer_started"
	TransferProgress  Type = "transfer_progress"
	TransferCompleted Type = "transfer_completed"
	TransferFailed    Type = "transfer_failed"
	JukeboxNotice     Type = "jukebox_notice"
)

// Event is one notification. Fields not relevant to Type are zero.
type Event struct {
	Type           Type      `json:"type"`
	TrackID        string    `json:"track_id,omitempty"`
	Index          int       `json:"index,omitempty"`
	Revision       int64     `json:"revision,omitempty"`
	BytesProcessed int64     `json:"bytes_processed,omitempty"`
	TotalBytes     int64     `json:"total_bytes,omitempty"`
	Speed          float64   `json:"speed,omitempty"` // bytes per second
	ETA            int       `json:"eta,omitempty"`   // seconds remaining
	Error          string    `json:"error,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Subscriber receives events on C until it is unsubscribed or the notifier stops.
type Subscriber struct {
	ID string
	C  chan Event

	mu     sync.Mutex
	closed bool
}

func newSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{ID: id, C: make(chan Event, buffer)}
}

// send delivers without blocking and reports whether the event was queued.
func (s *Subscriber) send(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.C <- e:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// TransferStats tracks the throughput of one transfer
type TransferStats struct {
	TrackID        string
	StartTime      time.Time
	LastUpdate     time.Time
	BytesProcessed int64
	TotalBytes     int64
	Speed          float64
	ETA            int
}

// Stats summarises transfers seen by the notifier
type Stats struct {
	ActiveTransfers int
	Started         int
	Completed       int
	Failed          int
	Dropped         int64
}

// Notifier broadcasts events to subscribers from its own goroutine
type Notifier struct {
	broadcast chan Event
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	buffer    int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	statsMu   sync.Mutex
	transfers map[string]*TransferStats
	started   int
	completed int
	failed    int
	dropped   int64
}

// NewNotifier creates a notifier whose subscribers buffer up to buffer events
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		broadcast:   make(chan Event, 256),
		done:        make(chan struct{}),
		buffer:      buffer,
		subscribers: make(map[string]*Subscriber),
		transfers:   make(map[string]*TransferStats),
	}
}

// Start starts the broadcast loop
func (n *Notifier) Start() {
	n.startOnce.Do(func() {
		go n.run()
	})
}

// Stop ends the broadcast loop and closes every subscriber channel
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.done)

		n.mu.Lock()
		for id, s := range n.subscribers {
			s.close()
			delete(n.subscribers, id)
		}
		n.mu.Unlock()
	})
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case e := <-n.broadcast:
			n.deliver(e)
		}
	}
}

func (n *Notifier) deliver(e Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, s := range n.subscribers {
		if !s.send(e) {
			n.countDrop()
		}
	}
}

func (n *Notifier) countDrop() {
	n.statsMu.Lock()
	n.dropped++
	n.statsMu.Unlock()
}

// Subscribe registers a subscriber. Subscribing twice with one id replaces
// the earlier subscriber.
func (n *Notifier) Subscribe(id string) *Subscriber {
	s := newSubscriber(id, n.buffer)

	n.mu.Lock()
	if old, ok := n.subscribers[id]; ok {
		old.close()
	}
	n.subscribers[id] = s
	n.mu.Unlock()

	return s
}

// Unsubscribe removes a subscriber and closes its channel
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	if s, ok := n.subscribers[id]; ok {
		s.close()
		delete(n.subscribers, id)
	}
	n.mu.Unlock()
}

// SubscriberCount returns the number of registered subscribers
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}

// Publish queues an event for delivery; it never blocks.
func (n *Notifier) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case n.broadcast <- e:
	default:
		n.countDrop()
	}
}

// NotifyQueueChanged reports a new queue revision
func (n *Notifier) NotifyQueueChanged(revision int64) {
	n.Publish(Event{Type: QueueChanged, Revision: revision})
}

// NotifyCurrentChanged reports a moved play cursor
func (n *Notifier) NotifyCurrentChanged(trackID string, index int) {
	n.Publish(Event{Type: CurrentChanged, TrackID: trackID, Index: index})
}

// NotifyStarted reports that a transfer has started
func (n *Notifier) NotifyStarted(trackID string, totalBytes int64) {
	now := time.Now()

	n.statsMu.Lock()
	n.transfers[trackID] = &TransferStats{
		TrackID:    trackID,
		StartTime:  now,
		LastUpdate: now,
		TotalBytes: totalBytes,
	}
	n.started++
	n.statsMu.Unlock()

	n.Publish(Event{Type: TransferStarted, TrackID: trackID, TotalBytes: totalBytes, Timestamp: now})
}

// NotifyProgress reports transfer progress and derives speed and ETA
func (n *Notifier) NotifyProgress(trackID string, bytesProcessed, totalBytes int64) {
	now := time.Now()

	n.statsMu.Lock()
	stats, ok := n.transfers[trackID]
	if !ok {
		stats = &TransferStats{TrackID: trackID, StartTime: now, LastUpdate: now}
		n.transfers[trackID] = stats
	}

	if elapsed := now.Sub(stats.LastUpdate).Seconds(); elapsed > 0 {
		stats.Speed = float64(bytesProcessed-stats.BytesProcessed) / elapsed
	}
	stats.BytesProcessed = bytesProcessed
	stats.TotalBytes = totalBytes
	stats.LastUpdate = now

	stats.ETA = 0
	if stats.Speed > 0 && totalBytes > bytesProcessed {
		stats.ETA = int(float64(totalBytes-bytesProcessed) / stats.Speed)
	}
	speed, eta := stats.Speed, stats.ETA
	n.statsMu.Unlock()

	n.Publish(Event{
		Type:           TransferProgress,
		TrackID:        trackID,
		BytesProcessed: bytesProcessed,
		TotalBytes:     totalBytes,
		Speed:          speed,
		ETA:            eta,
		Timestamp:      now,
	})
}

// NotifyCompleted reports a finished transfer
func (n *Notifier) NotifyCompleted(trackID string) {
	n.statsMu.Lock()
	delete(n.transfers, trackID)
	n.completed++
	n.statsMu.Unlock()

	n.Publish(Event{Type: TransferCompleted, TrackID: trackID})
}

// NotifyFailed reports a failed transfer
func (n *Notifier) NotifyFailed(trackID string, err error) {
	n.statsMu.Lock()
	delete(n.transfers, trackID)
	n.failed++
	n.statsMu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	n.Publish(Event{Type: TransferFailed, TrackID: trackID, Error: msg})
}

// NotifyJukebox reports a jukebox condition the user should see
func (n *Notifier) NotifyJukebox(message string, err error) {
	e := Event{Type: JukeboxNotice, Message: message}
	if err != nil {
		e.Error = err.Error()
	}
	n.Publish(e)
}

// GetStats returns overall transfer statistics
func (n *Notifier) GetStats() Stats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()

	return Stats{
		ActiveTransfers: len(n.transfers),
		Started:         n.started,
		Completed:       n.completed,
		Failed:          n.failed,
		Dropped:         n.dropped,
	}
}

// GetTransferStats returns a copy of the statistics of an active transfer
func (n *Notifier) GetTransferStats(trackID string) *TransferStats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()

	if stats, ok := n.transfers[trackID]; ok {
		copied := *stats
		return &copied
	}
	return nil
}
