package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/tinywatch/internal/discovery"
	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/negotiation"
	"github.com/1ureka/tinywatch/internal/signaling"
	"github.com/1ureka/tinywatch/internal/state"
	"github.com/1ureka/tinywatch/internal/util"
)

// ReceiverConfig configures the receiving role.
type ReceiverConfig struct {
	Port           int
	ConnectTimeout time.Duration

	Capability media.Capability
	Store      *state.Store
	// Resolver browses for senders. Nil uses zeroconf.
	Resolver discovery.Resolver
	// ScanPass is the length of one browse pass. Zero uses the default.
	ScanPass time.Duration
	// OnRemoteStream receives every remote track of the session.
	OnRemoteStream func(media.RemoteStream)
}

// Receiver finds senders on the LAN, connects to one of them and answers
// its offer. Connecting again tears the previous session down first.
type Receiver struct {
	cfg   ReceiverConfig
	store *state.Store
	log   util.Logger

	connectMu sync.Mutex // serializes Connect

	mu       sync.Mutex
	browser  *discovery.Browser
	scanning bool
	scanGen  int
	client   *signaling.Client
	engine   *negotiation.Engine
	closed   bool
}

// NewReceiver creates an idle receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Port == 0 {
		cfg.Port = signaling.DefaultPort
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = signaling.DefaultConnectTimeout
	}
	r := &Receiver{cfg: cfg, store: cfg.Store, log: util.Scoped("receiver")}
	r.store.Reset()
	r.store.SetRole(state.RoleReceiver)
	return r
}

// StartDiscovery begins browsing for senders. Found devices and the scan
// state go to the store; a scan failure does not affect manual connects.
func (r *Receiver) StartDiscovery() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.scanGen++
	gen := r.scanGen
	r.mu.Unlock()

	r.store.SetStatus(state.StatusDiscovering)

	// The browser reports synchronously from NewBrowser, so liveness is
	// keyed on the scan generation rather than the browser itself.
	live := func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return !r.closed && r.scanGen == gen
	}

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Resolver:     r.cfg.Resolver,
		PassDuration: r.cfg.ScanPass,
		OnDevices: func(devices []discovery.Device) {
			if live() {
				r.store.SetDevices(devices)
			}
		},
		OnStatus: func(status discovery.Status, err error) {
			if err != nil {
				r.log.Warnf("discovery %s: %v", status, err)
			}
			if live() {
				r.store.SetDiscovery(status)
			}
		},
	})

	r.mu.Lock()
	if r.scanGen != gen {
		r.mu.Unlock()
		browser.Close()
		return nil
	}
	r.browser = browser
	r.mu.Unlock()

	return nil
}

// Devices returns the senders found so far.
func (r *Receiver) Devices() []discovery.Device {
	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()
	if browser == nil {
		return nil
	}
	return browser.Devices()
}

// StopDiscovery stops browsing. The device list is cleared.
func (r *Receiver) StopDiscovery() {
	r.mu.Lock()
	if !r.scanning {
		r.mu.Unlock()
		return
	}
	browser := r.browser
	r.browser = nil
	r.scanning = false
	r.scanGen++
	r.mu.Unlock()

	if browser != nil {
		browser.Close()
	}
	r.store.SetDevices(nil)
	r.store.SetDiscovery(discovery.StatusStopped)
}

// ConnectDevice stops browsing and connects to a discovered sender on the
// port it advertised.
func (r *Receiver) ConnectDevice(ctx context.Context, d discovery.Device) error {
	r.StopDiscovery()
	r.log.Infof("connecting to %s", d.Name)
	port := d.Port
	if port == 0 {
		port = r.cfg.Port
	}
	return r.connect(ctx, d.Host, port)
}

// Connect runs one receiver session against host:
//  1. Validate the address
//  2. Tear down any previous session
//  3. Build the signaling client and the answering engine
//  4. Dial; the engine answers once the offer arrives
//
// An invalid host is returned without any status change.
func (r *Receiver) Connect(ctx context.Context, host string) error {
	return r.connect(ctx, host, r.cfg.Port)
}

func (r *Receiver) connect(ctx context.Context, host string, port int) error {
	// ── 1. Validate ───────────────────────────────────────────────────
	if !util.ValidIPv4(host) {
		return fmt.Errorf("%w: %q", signaling.ErrInvalidHost, host)
	}

	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	// ── 2. Tear down the previous session ─────────────────────────────
	oldEngine, oldClient := r.engine, r.client
	r.engine, r.client = nil, nil
	r.mu.Unlock()

	if oldEngine != nil {
		oldEngine.Close()
	}
	if oldClient != nil {
		oldClient.Close()
	}

	r.store.SetStatus(state.StatusSignaling)

	// ── 3. Client and engine ──────────────────────────────────────────
	client := signaling.NewClient(port, r.cfg.ConnectTimeout)

	var engine *negotiation.Engine
	live := func() bool { return r.engine != nil && r.engine == engine }

	engine, err := negotiation.NewCallee(negotiation.Config{
		Capability: r.cfg.Capability,
		Send:       client.Send,
		OnStatus: func(status state.Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if live() {
				setMediaStatus(r.store, status)
			}
		},
		OnTrack: func(rs media.RemoteStream) {
			r.mu.Lock()
			ok := live()
			r.mu.Unlock()
			if ok && r.cfg.OnRemoteStream != nil {
				r.cfg.OnRemoteStream(rs)
			}
		},
		OnClose: func(remote bool) {
			if !remote {
				return
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if live() {
				r.engine = nil
				r.store.SetStatus(state.StatusIdle)
			}
		},
	})
	if err != nil {
		client.Close()
		r.store.Fail(errorText("could not start session", err))
		return err
	}

	client.OnMessage(engine.HandleMessage)
	client.OnStatus(r.onClientStatus(client))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		engine.Close()
		client.Close()
		return ErrClosed
	}
	r.client, r.engine = client, engine
	r.mu.Unlock()

	// ── 4. Dial ───────────────────────────────────────────────────────
	r.log.Infof("dialing %s:%d (session %s)", host, port, engine.ID())
	return client.Connect(ctx, host)
}

func (r *Receiver) onClientStatus(client *signaling.Client) func(signaling.Event) {
	return func(ev signaling.Event) {
		r.mu.Lock()
		if r.closed || r.client != client {
			r.mu.Unlock()
			return
		}

		switch ev.Status {
		case signaling.StatusConnected:
			r.mu.Unlock()
			r.store.SetStatus(state.StatusConnecting)

		case signaling.StatusDisconnected:
			engine := r.engine
			r.engine = nil
			r.mu.Unlock()
			if engine != nil {
				engine.Close()
			}
			r.store.SetStatus(state.StatusIdle)

		case signaling.StatusError:
			engine := r.engine
			r.engine = nil
			r.mu.Unlock()
			if engine != nil {
				engine.Close()
			}
			r.store.Fail(errorText("signaling failed", ev.Err))

		default:
			r.mu.Unlock()
		}
	}
}

// Disconnect ends the current session with a bye and returns to idle.
func (r *Receiver) Disconnect() {
	r.mu.Lock()
	engine, client := r.engine, r.client
	r.engine, r.client = nil, nil
	r.mu.Unlock()

	if engine != nil {
		engine.Close()
	}
	if client != nil {
		client.Close()
	}
	r.store.SetStatus(state.StatusIdle)
}

// Close stops discovery and ends the session. Safe to call twice.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.StopDiscovery()
	r.Disconnect()

	r.log.Debugf("closed")
	return nil
}
