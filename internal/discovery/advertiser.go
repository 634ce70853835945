package discovery

import (
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/1ureka/tinywatch/internal/util"
)

var advLog = util.Scoped("discovery/advertiser")

// MDNSServer is a running registration.
type MDNSServer interface {
	Shutdown()
}

// Registrar publishes service records. The default uses zeroconf.Register.
type Registrar interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig describes the record to publish.
type AdvertiserConfig struct {
	Name string
	Port int

	// Registrar defaults to zeroconf.
	Registrar Registrar
}

// Advertiser publishes this device as a sender. A failed registration is
// logged and leaves the Advertiser inert; manual address entry still works.
type Advertiser struct {
	name string

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser registers the record and returns immediately. It never
// fails; check Active to see whether the record is published.
func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	registrar := cfg.Registrar
	if registrar == nil {
		registrar = zeroconfRegistrar{}
	}

	a := &Advertiser{name: cfg.Name}

	txt := []string{"role=" + RoleSender}
	server, err := registrar.Register(cfg.Name, ServiceType, Domain, cfg.Port, txt, nil)
	if err != nil {
		advLog.Warnf("failed to publish %q: %v", cfg.Name, err)
		return a
	}

	a.server = server
	advLog.Infof("published %q on port %d", cfg.Name, cfg.Port)
	return a
}

// Name returns the advertised instance name.
func (a *Advertiser) Name() string { return a.name }

// Active reports whether the record is currently published.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Close withdraws the record. A second call is a no-op.
func (a *Advertiser) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server != nil {
		server.Shutdown()
		advLog.Infof("withdrew %q", a.name)
	}
}
