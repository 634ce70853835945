package webrtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/util"
)

const (
	videoFrameInterval = 33 * time.Millisecond
	audioFrameInterval = 20 * time.Millisecond
	videoFrameSize     = 1200
	audioFrameSize     = 160
)

var errNoTracks = errors.New("no audio or video requested")

// sampleTrack pairs a local track with its generator settings.
type sampleTrack struct {
	track    *webrtc.TrackLocalStaticSample
	interval time.Duration
	size     int
}

// syntheticStream stands in for device capture: every track is fed with a
// byte pattern at a fixed frame rate until Release.
type syntheticStream struct {
	id     string
	tracks []sampleTrack

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newSyntheticStream(cons media.Constraints) (*syntheticStream, error) {
	if !cons.Video && !cons.Audio {
		return nil, errNoTracks
	}

	s := &syntheticStream{id: "tinywatch-" + uuid.NewString()[:8]}

	if cons.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, sampleTrack{t, videoFrameInterval, videoFrameSize})
	}

	if cons.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, sampleTrack{t, audioFrameInterval, audioFrameSize})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, t := range s.tracks {
		s.wg.Add(1)
		go s.generate(ctx, t)
	}

	return s, nil
}

func (s *syntheticStream) ID() string { return s.id }

func (s *syntheticStream) Tracks() []media.Track {
	out := make([]media.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t.track
	}
	return out
}

// Release stops every generator and waits for them to exit.
func (s *syntheticStream) Release() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		log.Debugf("stream %s released", s.id)
	})
}

func (s *syntheticStream) generate(ctx context.Context, t sampleTrack) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	frame := make([]byte, t.size)
	var seq byte
	for {
		select {
		case <-ticker.C:
			seq++
			for i := range frame {
				frame[i] = seq + byte(i)
			}
			if err := t.track.WriteSample(pionmedia.Sample{Data: frame, Duration: t.interval}); err != nil {
				log.Debugf("write sample on %s: %v", t.track.ID(), err)
				continue
			}
			util.Stats.AddSent(len(frame))
		case <-ctx.Done():
			return
		}
	}
}

// DrainTrack reads a remote track until it ends, counting received bytes.
// Tracks that are not pion remote tracks return immediately.
func DrainTrack(track media.Track) {
	remote, ok := track.(*webrtc.TrackRemote)
	if !ok {
		return
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			log.Debugf("remote track %s ended: %v", remote.ID(), err)
			return
		}
		util.Stats.AddRecv(n)
	}
}
