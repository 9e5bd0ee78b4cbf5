// Package device abstracts the host conditions the scheduler depends on:
// connectivity, writable storage and keep-awake locks.
package device

import (
	"context"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Network reports connectivity
type Network interface {
	Connected() bool
	// Metered reports a connection billed by volume (mobile data).
	Metered() bool
}

// Storage reports whether the cache location can be written
type Storage interface {
	Available() bool
}

// Locks keeps the device awake and its radio up while a transfer runs.
// Each Acquire returns the matching release function.
type Locks interface {
	AcquireWake(tag string) func()
	AcquireNetwork(tag string) func()
}

// StaticNetwork is a Network whose state is set explicitly. The zero value
// is disconnected.
type StaticNetwork struct {
	connected atomic.Bool
	metered   atomic.Bool
}

// NewStaticNetwork returns a network in the given state
func NewStaticNetwork(connected, metered bool) *StaticNetwork {
	n := &StaticNetwork{}
	n.connected.Store(connected)
	n.metered.Store(metered)
	return n
}

func (n *StaticNetwork) Connected() bool { return n.connected.Load() }
func (n *StaticNetwork) Metered() bool   { return n.metered.Load() }

// SetConnected changes the reported connectivity
func (n *StaticNetwork) SetConnected(v bool) { n.connected.Store(v) }

// SetMetered changes the reported metering
func (n *StaticNetwork) SetMetered(v bool) { n.metered.Store(v) }

// InterfaceNetwork derives connectivity from the host's network interfaces:
// connected when a non-loopback interface is up and has an address. The
// result is cached for a few seconds because the scheduler asks on every tick.
type InterfaceNetwork struct {
	metered atomic.Bool
	ttl     time.Duration
	list    func(ctx context.Context) (psnet.InterfaceStatList, error)

	mu        sync.Mutex
	checkedAt time.Time
	connected bool
}

// NewInterfaceNetwork creates a host network probe. metered is taken from
// configuration since interfaces do not expose billing.
func NewInterfaceNetwork(metered bool) *InterfaceNetwork {
	n := &InterfaceNetwork{
		ttl:  3 * time.Second,
		list: psnet.InterfacesWithContext,
	}
	n.metered.Store(metered)
	return n
}

// Connected reports whether any usable interface is up
func (n *InterfaceNetwork) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.checkedAt.IsZero() && time.Since(n.checkedAt) < n.ttl {
		return n.connected
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n.connected = false
	if ifaces, err := n.list(ctx); err == nil {
		for _, iface := range ifaces {
			if usable(iface) {
				n.connected = true
				break
			}
		}
	}
	n.checkedAt = time.Now()
	return n.connected
}

func usable(iface psnet.InterfaceStat) bool {
	return slices.Contains(iface.Flags, "up") &&
		!slices.Contains(iface.Flags, "loopback") &&
		len(iface.Addrs) > 0
}

func (n *InterfaceNetwork) Metered() bool { return n.metered.Load() }

// SetMetered updates the metered flag, e.g. after a settings change
func (n *InterfaceNetwork) SetMetered(v bool) { n.metered.Store(v) }

// DirStorage reports a directory as available when it can be created and
// the filesystem holding it has at least minFree bytes left.
type DirStorage struct {
	dir     string
	minFree uint64
	usage   func(path string) (*disk.UsageStat, error)
}

// NewDirStorage creates a storage probe for dir
func NewDirStorage(dir string, minFreeBytes uint64) *DirStorage {
	return &DirStorage{dir: dir, minFree: minFreeBytes, usage: disk.Usage}
}

// Available reports whether the cache can take more data
func (s *DirStorage) Available() bool {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return false
	}
	if s.minFree == 0 {
		return true
	}
	u, err := s.usage(s.dir)
	if err != nil {
		// Unknown free space is not a reason to stop downloading.
		return true
	}
	return u.Free >= s.minFree
}

// CountingLocks is an in-process Locks implementation that only counts
// holders. Hosts with real power management wrap it.
type CountingLocks struct {
	wake    atomic.Int32
	network atomic.Int32
}

// AcquireWake takes a wake lock
func (l *CountingLocks) AcquireWake(tag string) func() {
	l.wake.Add(1)
	var once sync.Once
	return func() { once.Do(func() { l.wake.Add(-1) }) }
}

// AcquireNetwork takes a network lock
func (l *CountingLocks) AcquireNetwork(tag string) func() {
	l.network.Add(1)
	var once sync.Once
	return func() { once.Do(func() { l.network.Add(-1) }) }
}

// Held returns the number of wake and network locks currently held
func (l *CountingLocks) Held() (wake, network int) {
	return int(l.wake.Load()), int(l.network.Load())
}
