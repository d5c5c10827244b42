package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrPermissionDenied models a refused device-access prompt. Sessions treat
// it as non-fatal: the room is entered without media.
var ErrPermissionDenied = errors.New("media: device access denied")

// Source supplies the local media tracks attached to the peer connection.
// Capture starts before admission so the local preview works while waiting.
type Source interface {
	Tracks() []webrtc.TrackLocal

	// Start begins producing media until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop halts capture. Stopping an already stopped source is a no-op.
	Stop()
}

const (
	opusClockRate = 48000
	opusFrame     = 20 * time.Millisecond

	// samples per 20ms opus frame at 48kHz
	opusFrameSamples = 960
)

// SyntheticSource is the headless stand-in for camera/microphone capture: a
// single audio track carrying silent opus frames on the wire clock.
type SyntheticSource struct {
	track *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func NewSyntheticSource() (*SyntheticSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusClockRate,
			Channels:  2,
		},
		"audio",
		"meetroom-local",
	)
	if err != nil {
		return nil, fmt.Errorf("new local audio track: %w", err)
	}

	return &SyntheticSource{track: track}, nil
}

func (s *SyntheticSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *SyntheticSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("media: source already stopped")
	}

	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)

	return nil
}

func (s *SyntheticSource) run(ctx context.Context) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	// A minimal silent opus frame.
	silence := []byte{0xf8, 0xff, 0xfe}

	var (
		sequence  uint16
		timestamp uint32
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: sequence,
					Timestamp:      timestamp,
				},
				Payload: silence,
			}

			if err := s.track.WriteRTP(packet); err != nil {
				// No subscriber yet or connection torn down; both benign.
				if errors.Is(err, context.Canceled) {
					return
				}
			}

			sequence++
			timestamp += opusFrameSamples
		}
	}
}

func (s *SyntheticSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.stopped = true
}

// DeniedSource always fails to start, standing in for a participant who
// refused the device prompt.
type DeniedSource struct{}

func (DeniedSource) Tracks() []webrtc.TrackLocal   { return nil }
func (DeniedSource) Start(_ context.Context) error { return ErrPermissionDenied }
func (DeniedSource) Stop()                         {}
