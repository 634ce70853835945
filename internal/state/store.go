// Package state holds the process-wide connection status shown to the user.
// There is no package-level instance: the Store is created in main and
// handed to every component that reports into it.
package state

import (
	"slices"
	"sync"

	"github.com/1ureka/tinywatch/internal/discovery"
	"github.com/1ureka/tinywatch/internal/util"
)

// Status is the coarse connection status.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDiscovering Status = "discovering"
	StatusSignaling   Status = "signaling"
	StatusConnecting  Status = "connecting"
	StatusConnected   Status = "connected"
	StatusError       Status = "error"
)

// Role is the device's role in the session.
type Role string

const (
	RoleNone     Role = ""
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Snapshot is a copy of the store's contents.
type Snapshot struct {
	Role    Role               `json:"role"`
	Status  Status             `json:"status"`
	Error   string             `json:"error"`
	LocalIP string             `json:"localIp"`
	Devices []discovery.Device `json:"devices"`

	// Discovery is the browser's scan state, kept apart from Status so a
	// scan failure never hides the connection state.
	Discovery discovery.Status `json:"discovery"`
}

func initialSnapshot() Snapshot {
	return Snapshot{Status: StatusIdle, Devices: []discovery.Device{}}
}

// Store owns the shared status fields. Writes are last-writer-wins and each
// one notifies subscribers with a fresh snapshot, in write order.
type Store struct {
	notifyMu sync.Mutex // held across a write and its notifications

	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// NewStore returns an idle store.
func NewStore() *Store {
	return &Store{snap: initialSnapshot(), subs: make(map[int]func(Snapshot))}
}

// Snapshot returns a copy of the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn runs on the writer's goroutine and must not write to the
// store.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetRole records the device's role.
func (s *Store) SetRole(r Role) {
	s.update(func(snap *Snapshot) bool {
		if snap.Role == r {
			return false
		}
		snap.Role = r
		return true
	})
}

// SetStatus moves to status and clears any error message.
func (s *Store) SetStatus(status Status) {
	s.update(func(snap *Snapshot) bool {
		if snap.Status == status && snap.Error == "" {
			return false
		}
		if snap.Status != status {
			util.LogInfo("status: %s -> %s", snap.Status, status)
		}
		snap.Status = status
		snap.Error = ""
		return true
	})
}

// Fail moves to StatusError with a human-readable message.
func (s *Store) Fail(msg string) {
	s.update(func(snap *Snapshot) bool {
		if snap.Status == StatusError && snap.Error == msg {
			return false
		}
		util.LogError("status: %s -> error: %s", snap.Status, msg)
		snap.Status = StatusError
		snap.Error = msg
		return true
	})
}

// SetLocalIP records the address peers can reach this device on.
func (s *Store) SetLocalIP(ip string) {
	s.update(func(snap *Snapshot) bool {
		if snap.LocalIP == ip {
			return false
		}
		snap.LocalIP = ip
		return true
	})
}

// SetDevices replaces the discovered device list.
func (s *Store) SetDevices(devices []discovery.Device) {
	s.update(func(snap *Snapshot) bool {
		snap.Devices = cloneDevices(devices)
		return true
	})
}

// SetDiscovery records the browser's scan state.
func (s *Store) SetDiscovery(d discovery.Status) {
	s.update(func(snap *Snapshot) bool {
		if snap.Discovery == d {
			return false
		}
		snap.Discovery = d
		return true
	})
}

// Reset returns every field to its initial value.
func (s *Store) Reset() {
	s.update(func(snap *Snapshot) bool {
		*snap = initialSnapshot()
		return true
	})
}

func (s *Store) update(mutate func(*Snapshot) bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !mutate(&s.snap) {
		s.mu.Unlock()
		return
	}
	snap := s.copyLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) copyLocked() Snapshot {
	c := s.snap
	c.Devices = cloneDevices(s.snap.Devices)
	return c
}

func cloneDevices(in []discovery.Device) []discovery.Device {
	out := make([]discovery.Device, len(in))
	for i, d := range in {
		d.Addresses = slices.Clone(d.Addresses)
		out[i] = d
	}
	return out
}
