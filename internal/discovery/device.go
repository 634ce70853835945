// Package discovery advertises and finds TinyWatch senders on the local
// network over mDNS.
package discovery

// mDNS record identity.
const (
	ServiceType = "_tinywatch._tcp"
	Domain      = "local."
	RoleSender  = "sender"
)

// Device is one resolved sender. Name is unique within a snapshot.
type Device struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
}

// Status is the browser's scan state, reported separately from devices.
type Status string

const (
	StatusScanning Status = "scanning"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)
