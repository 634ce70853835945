// Package webrtc implements media.Capability on top of pion/webrtc. Peers
// gather host candidates only; the two devices are expected to share a
// subnet, so no ICE servers are configured.
package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/util"
)

// pliInterval is how often the receiving side asks for a keyframe.
const pliInterval = 3 * time.Second

var log = util.Scoped("webrtc")

// Capability is the pion-backed media stack. One Capability is shared by
// every session in the process.
type Capability struct {
	api *webrtc.API
}

var _ media.Capability = (*Capability)(nil)

// NewCapability builds a pion API with the default codecs and interceptors,
// UDP4 host networking and pion's logs routed through util.
func NewCapability() (*Capability, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	settings := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory()}
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	return &Capability{api: api}, nil
}

// NewPeer creates a PeerConnection with no ICE servers.
func (c *Capability) NewPeer() (media.Peer, error) {
	pc, err := c.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	return &Peer{pc: pc}, nil
}

// GetUserStream returns a synthetic stream with the requested tracks.
func (c *Capability) GetUserStream(cons media.Constraints) (media.Stream, error) {
	stream, err := newSyntheticStream(cons)
	if err != nil {
		return nil, &media.MediaAcquisitionError{Constraints: cons, Err: err}
	}
	return stream, nil
}
