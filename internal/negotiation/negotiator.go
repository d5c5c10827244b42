package negotiation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrClosed is returned from every operation on a closed negotiator. A
	// negotiator is valid for one room visit; a later call needs a fresh one.
	ErrClosed = errors.New("negotiation: connection closed")

	// ErrNoOfferPending guards AcceptAnswer on a side that never offered.
	ErrNoOfferPending = errors.New("negotiation: no offer pending")

	// ErrAnswerApplied guards a second AcceptAnswer for the same offer.
	ErrAnswerApplied = errors.New("negotiation: answer already applied")
)

// Negotiator wraps one peer connection and owns the offer/answer/candidate
// mechanics. It routes nothing itself; the session forwards its output over
// the signaling transport.
type Negotiator struct {
	pc *webrtc.PeerConnection

	mu sync.Mutex

	// Remote candidates may arrive before the remote description over the
	// transport's unordered event names; they are held here until the
	// description is set.
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	offerSent      bool
	answerAccepted bool

	closed    bool
	closeOnce sync.Once
}

func New(iceServers []webrtc.ICEServer) (*Negotiator, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	return &Negotiator{pc: pc}, nil
}

// AddTrack attaches a local media track. An offer created with no tracks
// attached still succeeds; the call is just degraded.
func (n *Negotiator) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}

	sender, err := n.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	return sender, nil
}

// CreateOffer produces a session description from whatever tracks are
// attached and installs it as the local description.
func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	if err = n.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	n.offerSent = true
	n.answerAccepted = false

	return offer, nil
}

// CreateAnswer installs the remote offer, flushes any early candidates and
// produces the matching answer.
func (n *Negotiator) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	if err := n.setRemoteDescriptionLocked(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	if err = n.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	return answer, nil
}

// AcceptAnswer installs the remote answer on the offering side. Only the
// side that sent an offer may call it, and only once per offer.
func (n *Negotiator) AcceptAnswer(answer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	if !n.offerSent {
		return ErrNoOfferPending
	}

	if n.answerAccepted {
		return ErrAnswerApplied
	}

	if err := n.setRemoteDescriptionLocked(answer); err != nil {
		return err
	}

	n.answerAccepted = true

	return nil
}

func (n *Negotiator) setRemoteDescriptionLocked(desc webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	n.remoteSet = true

	for _, candidate := range n.pending {
		if err := n.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("flush buffered candidate: %w", err)
		}
	}
	n.pending = nil

	return nil
}

// AddRemoteCandidate feeds one remote path candidate into the connection,
// buffering it if the remote description is not set yet.
func (n *Negotiator) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	if !n.remoteSet {
		n.pending = append(n.pending, candidate)
		return nil
	}

	if err := n.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	return nil
}

// OnTrack registers the single inbound-media handler.
func (n *Negotiator) OnTrack(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	n.pc.OnTrack(handler)
}

// OnICECandidate registers the single outbound-candidate handler. The nil
// end-of-gathering marker is filtered out.
func (n *Negotiator) OnICECandidate(handler func(webrtc.ICECandidateInit)) {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}

		handler(c.ToJSON())
	})
}

// ConnectionState exposes the underlying peer connection state.
func (n *Negotiator) ConnectionState() webrtc.PeerConnectionState {
	return n.pc.ConnectionState()
}

// Close tears the connection down. Safe to call more than once.
func (n *Negotiator) Close() error {
	var err error

	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()

		err = n.pc.Close()
	})

	return err
}
