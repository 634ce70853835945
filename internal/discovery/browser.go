package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/1ureka/tinywatch/internal/util"
)

var browseLog = util.Scoped("discovery/browser")

const (
	// DefaultPassDuration bounds one browse pass.
	DefaultPassDuration = 4 * time.Second

	// missLimit is how many passes in a row a device may be absent before
	// it is removed.
	missLimit = 2
)

// Resolver browses for service records until ctx ends, then closes entries.
// Each record is delivered at most once per call and withdrawals are never
// delivered, matching zeroconf. The Browser calls it once per pass.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver creates a fresh zeroconf resolver for every call, since
// one shuts its sockets down when its browse context ends.
type zeroconfResolver struct{}

func (zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	return r.Browse(ctx, service, domain, entries)
}

// BrowserConfig wires a Browser's outputs. Both callbacks are optional and
// run on the browser's goroutine.
type BrowserConfig struct {
	// Resolver defaults to zeroconf.
	Resolver Resolver
	// PassDuration defaults to DefaultPassDuration.
	PassDuration time.Duration

	// OnDevices receives the full device list after every change.
	OnDevices func([]Device)
	// OnStatus receives scan state changes. err is set for StatusError.
	OnStatus func(Status, error)
}

// Browser scans for senders from construction until Close and keeps the
// current set keyed by instance name.
//
// Scanning runs as back-to-back browse passes. A record seen again with
// new details is updated in place; a device missing from missLimit passes
// in a row is removed.
type Browser struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	devices   map[string]Device
	misses    map[string]int
	order     []string
	onDevices func([]Device)
	onStatus  func(Status, error)
	closed    bool
}

// NewBrowser starts scanning. Failures are reported through OnStatus.
func NewBrowser(cfg BrowserConfig) *Browser {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Browser{
		cancel:    cancel,
		devices:   make(map[string]Device),
		misses:    make(map[string]int),
		onDevices: cfg.OnDevices,
		onStatus:  cfg.OnStatus,
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = zeroconfResolver{}
	}
	pass := cfg.PassDuration
	if pass <= 0 {
		pass = DefaultPassDuration
	}

	b.emitStatus(StatusScanning, nil)
	browseLog.Infof("scanning for %s.%s", ServiceType, Domain)

	go b.run(ctx, resolver, pass)

	return b
}

func (b *Browser) run(ctx context.Context, resolver Resolver, pass time.Duration) {
	for ctx.Err() == nil {
		seen, err := b.browseOnce(ctx, resolver, pass)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			browseLog.Errorf("browse failed: %v", err)
			b.emitStatus(StatusError, fmt.Errorf("browse failed: %w", err))
			return
		}
		b.sweep(seen)
	}
}

// browseOnce runs one pass and returns the names it resolved.
func (b *Browser) browseOnce(ctx context.Context, resolver Resolver, pass time.Duration) (map[string]bool, error) {
	passCtx, cancel := context.WithTimeout(ctx, pass)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(passCtx, ServiceType, Domain, entries); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				// Closed early; keep the pass length so passes never spin.
				<-passCtx.Done()
				return seen, nil
			}
			if name, ok := b.handle(entry); ok {
				seen[name] = true
			}
		case <-passCtx.Done():
			// The resolver closes entries once it notices; never leave it
			// blocked on a send.
			go func() {
				for range entries {
				}
			}()
			return seen, nil
		}
	}
}

// handle records a resolved entry. It reports the instance name when the
// entry describes a usable sender.
func (b *Browser) handle(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil {
		return "", false
	}
	name := entry.Instance

	if role, ok := txtValue(entry.Text, "role"); ok && role != RoleSender {
		return "", false
	}

	addrs := ipv4Addresses(entry)
	if len(addrs) == 0 {
		browseLog.Debugf("ignoring %q: no IPv4 address", name)
		return "", false
	}
	d := Device{
		Name:      name,
		Host:      addrs[0],
		Port:      entry.Port,
		Addresses: addrs,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", false
	}
	b.misses[name] = 0
	old, known := b.devices[name]
	if known && sameDevice(old, d) {
		b.mu.Unlock()
		return name, true
	}
	if !known {
		b.order = append(b.order, name)
	}
	b.devices[name] = d
	snap, fn := b.snapshotLocked(), b.onDevices
	b.mu.Unlock()

	browseLog.Infof("resolved %q at %s:%d", name, d.Host, d.Port)
	if fn != nil {
		fn(snap)
	}
	return name, true
}

// sweep counts a miss for every device absent from a finished pass and
// removes those that reached missLimit.
func (b *Browser) sweep(seen map[string]bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var lost []string
	for name := range b.devices {
		if seen[name] {
			continue
		}
		b.misses[name]++
		if b.misses[name] >= missLimit {
			lost = append(lost, name)
		}
	}
	if len(lost) == 0 {
		b.mu.Unlock()
		return
	}
	for _, name := range lost {
		delete(b.devices, name)
		delete(b.misses, name)
		b.order = removeName(b.order, name)
	}
	snap, fn := b.snapshotLocked(), b.onDevices
	b.mu.Unlock()

	browseLog.Infof("lost %s", strings.Join(lost, ", "))
	if fn != nil {
		fn(snap)
	}
}

// Devices returns the current device list in discovery order.
func (b *Browser) Devices() []Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Close stops scanning, reports StatusStopped, then drops all callbacks and
// forgets every device. A second call is a no-op.
func (b *Browser) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	onStatus := b.onStatus
	b.onStatus = nil
	b.onDevices = nil
	b.devices = make(map[string]Device)
	b.misses = make(map[string]int)
	b.order = nil
	b.mu.Unlock()

	b.cancel()
	if onStatus != nil {
		onStatus(StatusStopped, nil)
	}
	browseLog.Debugf("stopped")
}

func (b *Browser) emitStatus(s Status, err error) {
	b.mu.Lock()
	fn := b.onStatus
	b.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

func (b *Browser) snapshotLocked() []Device {
	out := make([]Device, 0, len(b.order))
	for _, name := range b.order {
		d := b.devices[name]
		d.Addresses = slices.Clone(d.Addresses)
		out = append(out, d)
	}
	return out
}

func sameDevice(a, b Device) bool {
	return a.Host == b.Host && a.Port == b.Port && slices.Equal(a.Addresses, b.Addresses)
}

func ipv4Addresses(entry *zeroconf.ServiceEntry) []string {
	var out []string
	for _, ip := range entry.AddrIPv4 {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	return out
}

func txtValue(txt []string, key string) (string, bool) {
	for _, kv := range txt {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}
