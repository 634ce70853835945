package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// MockRegistrar records registrations instead of publishing them.
type MockRegistrar struct {
	mu        sync.Mutex
	Err       error
	Records   []*zeroconf.ServiceEntry
	Shutdowns int
}

type mockServer struct{ r *MockRegistrar }

func (s mockServer) Shutdown() {
	s.r.mu.Lock()
	s.r.Shutdowns++
	s.r.mu.Unlock()
}

// Register implements Registrar.
func (r *MockRegistrar) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (MDNSServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.Records = append(r.Records, &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: service, Domain: domain},
		Port:          port,
		Text:          txt,
	})
	return mockServer{r}, nil
}

// ShutdownCount returns how many registrations were withdrawn.
func (r *MockRegistrar) ShutdownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Shutdowns
}

// MockResolver answers browses from a table of published records the way
// zeroconf does: every record is sent once per Browse call, withdrawals are
// never sent, and entries is closed when the browse context ends.
type MockResolver struct {
	Err error

	mu      sync.Mutex
	records map[string]*zeroconf.ServiceEntry
	order   []string
	passes  int
}

// NewMockResolver creates a mock resolver with nothing published.
func NewMockResolver() *MockResolver {
	return &MockResolver{records: make(map[string]*zeroconf.ServiceEntry)}
}

// Browse implements Resolver.
func (m *MockResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	if m.Err != nil {
		return m.Err
	}
	if service != ServiceType || domain != Domain {
		return errors.New("unexpected service type")
	}

	m.mu.Lock()
	m.passes++
	m.mu.Unlock()

	go func() {
		defer close(entries)

		sent := make(map[string]bool)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			for _, e := range m.unsent(sent) {
				select {
				case entries <- e:
					sent[e.Instance] = true
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (m *MockResolver) unsent(sent map[string]bool) []*zeroconf.ServiceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*zeroconf.ServiceEntry
	for _, name := range m.order {
		if !sent[name] {
			e := *m.records[name]
			out = append(out, &e)
		}
	}
	return out
}

// Announce publishes e, replacing any record with the same instance name.
func (m *MockResolver) Announce(e *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[e.Instance]; !ok {
		m.order = append(m.order, e.Instance)
	}
	m.records[e.Instance] = e
}

// Withdraw unpublishes instance.
func (m *MockResolver) Withdraw(instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, instance)
	m.order = removeName(m.order, instance)
}

// Passes returns how many times Browse was called.
func (m *MockResolver) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// MockSender builds a sender record as it would arrive over the network.
func MockSender(instance string, port int, ips ...net.IP) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: Domain},
		HostName:      instance + ".local.",
		Port:          port,
		Text:          []string{"role=" + RoleSender},
		TTL:           120,
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}
