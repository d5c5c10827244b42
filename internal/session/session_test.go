package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mentorloop/meetroom/internal/domain/events"
	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/media"
	"github.com/mentorloop/meetroom/internal/negotiation"
	"github.com/mentorloop/meetroom/internal/signal"
)

type emitted struct {
	event   string
	payload any
}

// fakeTransport runs the signaling contract in-process: Emit records, deliver
// invokes the registered handler the way the read loop would.
type fakeTransport struct {
	id string

	mu       sync.Mutex
	handlers map[string]signal.Handler
	emits    []emitted
	closed   bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:       id,
		handlers: make(map[string]signal.Handler),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) ID() string                        { return f.id }
func (f *fakeTransport) OnReconnect(func())                {}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return signal.ErrClosed
	}

	f.emits = append(f.emits, emitted{event: event, payload: payload})

	return nil
}

func (f *fakeTransport) On(event string, handler signal.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[event] = handler
}

func (f *fakeTransport) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.handlers, event)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// deliver feeds one event into the session as the relay would.
func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}

	f.mu.Lock()
	handler, ok := f.handlers[event]
	f.mu.Unlock()

	if !ok {
		t.Fatalf("no handler registered for %s", event)
	}

	handler(data)
}

func (f *fakeTransport) emitted(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []emitted
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}

	return out
}

// awaitEmit polls until one event with the given name has been emitted.
func (f *fakeTransport) awaitEmit(t *testing.T, event string) emitted {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if emits := f.emitted(event); len(emits) > 0 {
			return emits[0]
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s emit", event)
	return emitted{}
}

type fakeDirectory struct {
	meeting models.Meeting
	err     error
}

func (d *fakeDirectory) GetMeeting(ctx context.Context, roomID string) (models.Meeting, error) {
	if d.err != nil {
		return models.Meeting{}, d.err
	}

	return d.meeting, nil
}

type fakeSource struct {
	track    webrtc.TrackLocal
	startErr error

	mu      sync.Mutex
	stopped bool
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"test",
	)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	return &fakeSource{track: track}
}

func (s *fakeSource) Tracks() []webrtc.TrackLocal {
	if s.track == nil {
		return nil
	}

	return []webrtc.TrackLocal{s.track}
}

func (s *fakeSource) Start(ctx context.Context) error { return s.startErr }

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
}

func (s *fakeSource) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}

// remotePeer produces real descriptions to feed the session from the other
// side of the call.
type remotePeer struct {
	neg *negotiation.Negotiator
}

func newRemotePeer(t *testing.T) *remotePeer {
	t.Helper()

	neg, err := negotiation.New(nil)
	if err != nil {
		t.Fatalf("new remote peer: %v", err)
	}
	t.Cleanup(func() { neg.Close() })

	return &remotePeer{neg: neg}
}

func (p *remotePeer) offer(t *testing.T) webrtc.SessionDescription {
	t.Helper()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"remote",
	)
	if err != nil {
		t.Fatalf("new remote track: %v", err)
	}
	if _, err := p.neg.AddTrack(track); err != nil {
		t.Fatalf("add remote track: %v", err)
	}

	offer, err := p.neg.CreateOffer()
	if err != nil {
		t.Fatalf("remote create offer: %v", err)
	}

	return offer
}

func (p *remotePeer) answer(t *testing.T, offer webrtc.SessionDescription) webrtc.SessionDescription {
	t.Helper()

	answer, err := p.neg.CreateAnswer(offer)
	if err != nil {
		t.Fatalf("remote create answer: %v", err)
	}

	return answer
}

func hostIdentity() models.Identity {
	return models.Identity{
		DisplayName:   "Ada",
		Authenticated: true,
		UserID:        "host-1",
	}
}

func guestIdentity() models.Identity {
	return models.Identity{
		DisplayName: "Grace",
		UserID:      "guest_1",
	}
}

func hostDirectory() *fakeDirectory {
	return &fakeDirectory{meeting: models.Meeting{RoomID: "room-1", CreatedBy: "host-1"}}
}

func TestHostJoinsActiveAndOffersOnUserJoined(t *testing.T) {
	transport := newFakeTransport("sock-host")
	source := newFakeSource(t)

	sess := New(transport, hostDirectory(), source, "room-1", hostIdentity(), nil, time.Second)

	if err := sess.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	if sess.State() != Active {
		t.Fatalf("host should be Active after join, got %v", sess.State())
	}
	if !sess.IsHost() {
		t.Fatal("meeting creator should be recognized as host")
	}

	join := transport.awaitEmit(t, events.JoinRoom)
	if ev := join.payload.(events.JoinRoomEvent); ev.RoomID != "room-1" || ev.UserID != "host-1" {
		t.Fatalf("unexpected join_room payload: %+v", ev)
	}

	// Another authenticated participant enters; the host initiates.
	transport.deliver(t, events.UserJoined, events.UserJoinedEvent{
		Username: "Grace",
		SocketID: "sock-guest",
	})

	offer := transport.awaitEmit(t, events.Offer)
	offerEv := offer.payload.(events.OfferEvent)
	if offerEv.To != "sock-guest" {
		t.Fatalf("offer routed to %q, want sock-guest", offerEv.To)
	}
	if offerEv.Offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("expected an SDP offer, got %v", offerEv.Offer.Type)
	}
	if sess.RemoteName() != "Grace" {
		t.Fatalf("remote name %q, want Grace", sess.RemoteName())
	}

	// The answer completes the exchange without role change.
	peer := newRemotePeer(t)
	answer := peer.answer(t, offerEv.Offer)
	transport.deliver(t, events.AnswerFinal, events.AnswerFinalEvent{Answer: answer})

	if got := len(transport.emitted(events.Offer)); got != 1 {
		t.Fatalf("exactly one offer expected, got %d", got)
	}
}

func TestGuestAdmittedBecomesActive(t *testing.T) {
	transport := newFakeTransport("sock-guest")
	source := newFakeSource(t)

	sess := New(transport, hostDirectory(), source, "room-1", guestIdentity(), nil, time.Second)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- sess.Join(context.Background())
	}()

	request := transport.awaitEmit(t, events.RequestJoin)
	if ev := request.payload.(events.RequestJoinEvent); ev.Nickname != "Grace" || ev.RoomID != "room-1" {
		t.Fatalf("unexpected request_join payload: %+v", ev)
	}

	if sess.State() != WaitingForAdmission {
		t.Fatalf("guest should wait for admission, got state %v", sess.State())
	}

	transport.deliver(t, events.AdmissionResponse, events.AdmissionResponseEvent{
		Admitted:     true,
		HostName:     "Ada",
		HostSocketID: "sock-host",
	})

	if err := <-joinErr; err != nil {
		t.Fatalf("admitted guest join: %v", err)
	}

	if sess.State() != Active {
		t.Fatalf("admitted guest should be Active, got %v", sess.State())
	}
	if sess.RemoteName() != "Ada" {
		t.Fatalf("remote name %q, want Ada", sess.RemoteName())
	}
	if sess.IsHost() {
		t.Fatal("guest must not be host")
	}

	// The host's offer arrives; the guest answers and never offers itself.
	peer := newRemotePeer(t)
	transport.deliver(t, events.Offer, events.OfferEvent{
		From:  "sock-host",
		Offer: peer.offer(t),
	})

	answer := transport.awaitEmit(t, events.Answer)
	answerEv := answer.payload.(events.AnswerEvent)
	if answerEv.To != "sock-host" {
		t.Fatalf("answer routed to %q, want sock-host", answerEv.To)
	}
	if answerEv.Answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("expected an SDP answer, got %v", answerEv.Answer.Type)
	}

	if got := len(transport.emitted(events.Offer)); got != 0 {
		t.Fatalf("guest must never offer, emitted %d offers", got)
	}
}

func TestGuestDeniedNeverBecomesActive(t *testing.T) {
	transport := newFakeTransport("sock-guest")
	source := newFakeSource(t)

	var (
		mu      sync.Mutex
		notices []string
	)

	sess := New(
		transport, hostDirectory(), source, "room-1", guestIdentity(), nil, time.Second,
		OnNotice(func(text string) {
			mu.Lock()
			notices = append(notices, text)
			mu.Unlock()
		}),
	)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- sess.Join(context.Background())
	}()

	transport.awaitEmit(t, events.RequestJoin)
	transport.deliver(t, events.AdmissionResponse, events.AdmissionResponseEvent{Admitted: false})

	if err := <-joinErr; !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}

	if sess.State() == Active {
		t.Fatal("denied guest must never become Active")
	}

	if got := len(transport.emitted(events.Offer)); got != 0 {
		t.Fatalf("no negotiation after a denial, emitted %d offers", got)
	}
	if got := len(transport.emitted(events.Answer)); got != 0 {
		t.Fatalf("no negotiation after a denial, emitted %d answers", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) == 0 {
		t.Fatal("denial should surface a notice")
	}
}

func TestGuestIgnoresUserJoined(t *testing.T) {
	transport := newFakeTransport("sock-guest")
	source := newFakeSource(t)

	sess := New(transport, hostDirectory(), source, "room-1", guestIdentity(), nil, time.Second)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- sess.Join(context.Background())
	}()

	transport.awaitEmit(t, events.RequestJoin)
	transport.deliver(t, events.AdmissionResponse, events.AdmissionResponseEvent{
		Admitted:     true,
		HostName:     "Ada",
		HostSocketID: "sock-host",
	})
	if err := <-joinErr; err != nil {
		t.Fatalf("join: %v", err)
	}

	// Presence fanout reaches everyone; only the host reacts with an offer.
	transport.deliver(t, events.UserJoined, events.UserJoinedEvent{
		Username: "Third",
		SocketID: "sock-third",
	})

	if got := len(transport.emitted(events.Offer)); got != 0 {
		t.Fatalf("non-host must not offer on user_joined, emitted %d", got)
	}
}

func TestHostAdmitsAndDeniesQueuedGuests(t *testing.T) {
	transport := newFakeTransport("sock-host")
	source := newFakeSource(t)

	var (
		mu      sync.Mutex
		pending []string
	)

	sess := New(
		transport, hostDirectory(), source, "room-1", hostIdentity(), nil, time.Second,
		OnJoinRequest(func(req models.JoinRequest) {
			mu.Lock()
			pending = append(pending, req.Nickname)
			mu.Unlock()
		}),
	)

	if err := sess.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	transport.deliver(t, events.JoinRequest, events.JoinRequestEvent{
		UserID: "guest_1", Nickname: "Grace", SocketID: "sock-g1",
	})
	transport.deliver(t, events.JoinRequest, events.JoinRequestEvent{
		UserID: "guest_2", Nickname: "Linus", SocketID: "sock-g2",
	})

	mu.Lock()
	if len(pending) != 1 || pending[0] != "Grace" {
		t.Fatalf("only the first request should surface, got %v", pending)
	}
	mu.Unlock()

	if err := sess.Admit(); err != nil {
		t.Fatalf("admit: %v", err)
	}

	admit := transport.awaitEmit(t, events.AdmitUser)
	if ev := admit.payload.(events.AdmitUserEvent); ev.SocketID != "sock-g1" {
		t.Fatalf("admitted wrong socket: %+v", ev)
	}

	offer := transport.awaitEmit(t, events.Offer)
	if ev := offer.payload.(events.OfferEvent); ev.To != "sock-g1" {
		t.Fatalf("offer routed to %q, want sock-g1", ev.To)
	}

	// The denial promotes nothing into negotiation.
	mu.Lock()
	if len(pending) != 2 || pending[1] != "Linus" {
		t.Fatalf("second request should surface after admit, got %v", pending)
	}
	mu.Unlock()

	if err := sess.Deny(); err != nil {
		t.Fatalf("deny: %v", err)
	}

	deny := transport.awaitEmit(t, events.DenyUser)
	if ev := deny.payload.(events.DenyUserEvent); ev.SocketID != "sock-g2" {
		t.Fatalf("denied wrong socket: %+v", ev)
	}

	if got := len(transport.emitted(events.Offer)); got != 1 {
		t.Fatalf("denied guest must not receive an offer, emitted %d", got)
	}
}

func TestEarlyCandidateBufferedUntilOffer(t *testing.T) {
	transport := newFakeTransport("sock-guest")
	source := newFakeSource(t)

	sess := New(transport, hostDirectory(), source, "room-1", guestIdentity(), nil, time.Second)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- sess.Join(context.Background())
	}()

	transport.awaitEmit(t, events.RequestJoin)
	transport.deliver(t, events.AdmissionResponse, events.AdmissionResponseEvent{
		Admitted:     true,
		HostName:     "Ada",
		HostSocketID: "sock-host",
	})
	if err := <-joinErr; err != nil {
		t.Fatalf("join: %v", err)
	}

	// A candidate racing ahead of the offer must be held, not dropped.
	transport.deliver(t, events.IceCandidate, events.IceCandidateEvent{
		From: "sock-host",
		Candidate: webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		},
	})

	peer := newRemotePeer(t)
	transport.deliver(t, events.Offer, events.OfferEvent{
		From:  "sock-host",
		Offer: peer.offer(t),
	})

	transport.awaitEmit(t, events.Answer)
}

func TestChatSidesByConnectionID(t *testing.T) {
	transport := newFakeTransport("sock-host")
	source := newFakeSource(t)

	var (
		mu       sync.Mutex
		observed []models.ChatMessage
	)

	sess := New(
		transport, hostDirectory(), source, "room-1", hostIdentity(), nil, time.Second,
		OnChat(func(msg models.ChatMessage) {
			mu.Lock()
			observed = append(observed, msg)
			mu.Unlock()
		}),
	)

	if err := sess.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := sess.SendChat("hello there"); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	sent := transport.awaitEmit(t, events.SendMessage)
	if ev := sent.payload.(events.SendMessageEvent); ev.Message != "hello there" {
		t.Fatalf("unexpected send_message payload: %+v", ev)
	}

	// The relay echoes the local message and fans out the remote one; sides
	// are tagged by comparing the sender's connection id to our own.
	now := time.Now().UTC()
	transport.deliver(t, events.ReceiveMessage, events.ReceiveMessageEvent{
		ID: "m1", Text: "hello there", Sender: "Ada", Timestamp: now, SocketID: "sock-host",
	})
	transport.deliver(t, events.ReceiveMessage, events.ReceiveMessageEvent{
		ID: "m2", Text: "hi!", Sender: "Grace", Timestamp: now, SocketID: "sock-guest",
	})

	messages := sess.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Side != models.ChatSideLocal {
		t.Fatalf("own echo should be local-side, got %q", messages[0].Side)
	}
	if messages[1].Side != models.ChatSideRemote {
		t.Fatalf("remote message should be remote-side, got %q", messages[1].Side)
	}
	if messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("messages out of order: %+v", messages)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 2 {
		t.Fatalf("chat callback should fire per message, got %d", len(observed))
	}

	// Empty input is never sent.
	if err := sess.SendChat(""); err != nil {
		t.Fatalf("empty chat: %v", err)
	}
	if got := len(transport.emitted(events.SendMessage)); got != 1 {
		t.Fatalf("empty message must not be emitted, got %d sends", got)
	}
}

func TestHostLeaveTearsDownOnce(t *testing.T) {
	transport := newFakeTransport("sock-host")
	source := newFakeSource(t)

	var (
		mu           sync.Mutex
		destinations []Destination
	)

	sess := New(
		transport, hostDirectory(), source, "room-1", hostIdentity(), nil, time.Second,
		OnEnded(func(dest Destination) {
			mu.Lock()
			destinations = append(destinations, dest)
			mu.Unlock()
		}),
	)

	if err := sess.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	sess.Leave()
	sess.Leave()

	if sess.State() != Ended {
		t.Fatalf("expected Ended, got %v", sess.State())
	}
	if !source.wasStopped() {
		t.Fatal("media source should be stopped on leave")
	}

	if got := len(transport.emitted(events.LeaveRoom)); got != 1 {
		t.Fatalf("leave_room should be emitted exactly once, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(destinations) != 1 {
		t.Fatalf("teardown must run once, ended %d times", len(destinations))
	}
	if destinations[0] != DestinationMeetingsList {
		t.Fatalf("host should navigate to the meetings list, got %v", destinations[0])
	}
}

func TestPeerDepartureEndsGuestSession(t *testing.T) {
	transport := newFakeTransport("sock-guest")
	source := newFakeSource(t)

	ended := make(chan Destination, 1)

	sess := New(
		transport, hostDirectory(), source, "room-1", guestIdentity(), nil, time.Second,
		OnEnded(func(dest Destination) { ended <- dest }),
	)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- sess.Join(context.Background())
	}()

	transport.awaitEmit(t, events.RequestJoin)
	transport.deliver(t, events.AdmissionResponse, events.AdmissionResponseEvent{
		Admitted:     true,
		HostName:     "Ada",
		HostSocketID: "sock-host",
	})
	if err := <-joinErr; err != nil {
		t.Fatalf("join: %v", err)
	}

	transport.deliver(t, events.UserLeft, events.UserLeftEvent{
		SocketID: "sock-host",
		Username: "Ada",
	})

	select {
	case dest := <-ended:
		if dest != DestinationLanding {
			t.Fatalf("guest should navigate to landing, got %v", dest)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on peer departure")
	}

	// The remote peer left; no departure of our own is announced.
	if got := len(transport.emitted(events.LeaveRoom)); got != 0 {
		t.Fatalf("peer departure must not emit leave_room, got %d", got)
	}

	if !source.wasStopped() {
		t.Fatal("media source should be stopped when the session ends")
	}
}

func TestMediaFailureDegradesJoin(t *testing.T) {
	transport := newFakeTransport("sock-host")
	source := newFakeSource(t)
	source.startErr = media.ErrPermissionDenied

	var (
		mu      sync.Mutex
		notices []string
	)

	sess := New(
		transport, hostDirectory(), source, "room-1", hostIdentity(), nil, time.Second,
		OnNotice(func(text string) {
			mu.Lock()
			notices = append(notices, text)
			mu.Unlock()
		}),
	)

	if err := sess.Join(context.Background()); err != nil {
		t.Fatalf("media failure must not block entry: %v", err)
	}

	if sess.State() != Active {
		t.Fatalf("expected Active despite media failure, got %v", sess.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) == 0 {
		t.Fatal("degraded media should surface a notice")
	}
}
