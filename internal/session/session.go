package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mentorloop/meetroom/internal/admission"
	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/domain/events"
	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/media"
	"github.com/mentorloop/meetroom/internal/meetings"
	"github.com/mentorloop/meetroom/internal/negotiation"
	"github.com/mentorloop/meetroom/internal/signal"
)

// ErrDenied is surfaced when the host refuses the guest's join request.
var ErrDenied = admission.ErrDenied

type State int

const (
	Initializing State = iota
	WaitingForAdmission
	Active
	Ended
)

// Destination tells the caller where to navigate once the session ends:
// hosts go back to their meetings list, guests to the landing page.
type Destination int

const (
	DestinationMeetingsList Destination = iota
	DestinationLanding
)

// Session drives one participant's visit to one room: identity and host
// resolution, the admission exchange, exactly one offer/answer negotiation
// per remote peer, chat, and terminal teardown. All remote input arrives
// through transport handlers registered once on Join and removed on End.
type Session struct {
	transport signal.Transport
	directory meetings.Directory
	source    media.Source

	roomID   string
	identity models.Identity

	admissionTimeout time.Duration
	iceServers       []webrtc.ICEServer

	gate *admission.Controller

	mu             sync.Mutex
	state          State
	isHost         bool
	neg            *negotiation.Negotiator
	remoteSocketID string
	remoteUserName string

	// Outbound candidates produced before the remote connection id is
	// known are held here and flushed once a peer is established.
	pendingLocal []webrtc.ICECandidateInit

	chat []models.ChatMessage

	onChat        func(models.ChatMessage)
	onNotice      func(string)
	onJoinRequest func(models.JoinRequest)
	onRemoteTrack func(*webrtc.TrackRemote)
	onEnded       func(Destination)

	endOnce sync.Once
}

type Option func(*Session)

// OnChat observes every appended chat message, local and remote.
func OnChat(fn func(models.ChatMessage)) Option {
	return func(s *Session) { s.onChat = fn }
}

// OnNotice observes user-facing notices (degraded media, denials,
// negotiation failures).
func OnNotice(fn func(string)) Option {
	return func(s *Session) { s.onNotice = fn }
}

// OnJoinRequest observes the currently pending join request on the host
// side, one at a time.
func OnJoinRequest(fn func(models.JoinRequest)) Option {
	return func(s *Session) { s.onJoinRequest = fn }
}

// OnRemoteTrack observes inbound media tracks.
func OnRemoteTrack(fn func(*webrtc.TrackRemote)) Option {
	return func(s *Session) { s.onRemoteTrack = fn }
}

// OnEnded observes the terminal transition and its navigation target.
func OnEnded(fn func(Destination)) Option {
	return func(s *Session) { s.onEnded = fn }
}

func New(
	transport signal.Transport,
	directory meetings.Directory,
	source media.Source,
	roomID string,
	identity models.Identity,
	iceServers []webrtc.ICEServer,
	admissionTimeout time.Duration,
	opts ...Option,
) *Session {
	s := &Session{
		transport:        transport,
		directory:        directory,
		source:           source,
		roomID:           roomID,
		identity:         identity,
		iceServers:       iceServers,
		admissionTimeout: admissionTimeout,
		state:            Initializing,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.gate = admission.NewController(transport, roomID, admissionTimeout)
	s.gate.OnPending(func(req models.JoinRequest) {
		if s.onJoinRequest != nil {
			s.onJoinRequest(req)
		}
	})

	return s
}

// Join runs the session up to the point where the participant is in the
// room: Active for hosts and authenticated users, or blocked through the
// admission exchange for guests. A denial returns ErrDenied and the session
// never becomes Active.
func (s *Session) Join(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	s.mu.Lock()
	s.identity.SocketID = s.transport.ID()
	s.mu.Unlock()

	s.resolveHost(ctx)

	// Media capture starts right away so the local preview works while the
	// admission decision is still out. Permission failure degrades the
	// call, it never blocks entry.
	neg, err := negotiation.New(s.iceServers)
	if err != nil {
		return fmt.Errorf("create negotiator: %w", err)
	}

	if err := s.source.Start(ctx); err != nil {
		slog.Warn("local media unavailable", slog.Any(constant.Error, err))
		s.notice("Could not access camera/microphone; joining without media")
	} else {
		for _, track := range s.source.Tracks() {
			if _, err := neg.AddTrack(track); err != nil {
				slog.Warn("attach local track", slog.Any(constant.Error, err))
			}
		}
	}

	neg.OnICECandidate(s.forwardLocalCandidate)
	neg.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.onRemoteTrack != nil {
			s.onRemoteTrack(track)
		}
	})

	s.mu.Lock()
	s.neg = neg
	s.mu.Unlock()

	s.registerHandlers()

	s.transport.OnReconnect(func() {
		// Fresh connection id; presence must be re-announced.
		s.mu.Lock()
		s.identity.SocketID = s.transport.ID()
		authenticated := s.identity.Authenticated
		s.mu.Unlock()

		if authenticated {
			s.emitJoinRoom()
		}
	})

	if s.identity.Authenticated {
		s.emitJoinRoom()
		s.setState(Active)

		return nil
	}

	// Guest path: admission gate before anything else.
	s.setState(WaitingForAdmission)

	decision, err := s.gate.RequestJoin(ctx, s.identity.UserID, s.identity.DisplayName)
	if err != nil {
		if errors.Is(err, admission.ErrDenied) {
			s.notice("Your request was denied by the host")
		}

		return fmt.Errorf("request admission: %w", err)
	}

	s.setRemote(decision.HostName, decision.HostSocketID)
	s.setState(Active)

	return nil
}

func (s *Session) resolveHost(ctx context.Context) {
	if !s.identity.Authenticated {
		return
	}

	meeting, err := s.directory.GetMeeting(ctx, s.roomID)
	if err != nil {
		slog.Warn(
			"fetch meeting details",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomID, s.roomID),
		)
		return
	}

	s.mu.Lock()
	s.isHost = meeting.CreatedBy == s.identity.UserID
	s.mu.Unlock()
}

func (s *Session) emitJoinRoom() {
	err := s.transport.Emit(events.JoinRoom, events.JoinRoomEvent{
		RoomID:   s.roomID,
		UserID:   s.identity.UserID,
		Username: s.identity.DisplayName,
	})
	if err != nil {
		slog.Error("announce presence", slog.Any(constant.Error, err))
	}
}

var handledEvents = []string{
	events.JoinRoom,
	events.UserJoined,
	events.UserLeft,
	events.JoinRequest,
	events.AdmissionResponse,
	events.ReceiveMessage,
	events.Offer,
	events.AnswerFinal,
	events.IceCandidate,
}

// registerHandlers subscribes exactly one handler per event. The matching
// Off calls run in End, so a session never processes an event twice.
func (s *Session) registerHandlers() {
	s.transport.On(events.JoinRoom, func(data json.RawMessage) {
		slog.Debug("room joined", slog.String(constant.RoomID, s.roomID))
	})
	s.transport.On(events.UserJoined, s.handleUserJoined)
	s.transport.On(events.UserLeft, s.handleUserLeft)
	s.transport.On(events.JoinRequest, s.handleJoinRequest)
	s.transport.On(events.AdmissionResponse, s.handleAdmissionResponse)
	s.transport.On(events.ReceiveMessage, s.handleReceiveMessage)
	s.transport.On(events.Offer, s.handleOffer)
	s.transport.On(events.AnswerFinal, s.handleAnswerFinal)
	s.transport.On(events.IceCandidate, s.handleIceCandidate)
}

func (s *Session) deregisterHandlers() {
	for _, event := range handledEvents {
		s.transport.Off(event)
	}
}

// handleUserJoined fires when an authenticated participant enters the room.
// Only the host reacts: it learns the peer's connection id and initiates
// the single offer/answer exchange. Guests learn their peer from the
// admission response instead, which keeps exactly one offerer per call.
func (s *Session) handleUserJoined(data json.RawMessage) {
	var ev events.UserJoinedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal user_joined", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	isHost := s.isHost
	s.mu.Unlock()

	if !isHost {
		return
	}

	s.notice(fmt.Sprintf("%s joined the meeting", ev.Username))
	s.setRemote(ev.Username, ev.SocketID)

	s.sendOffer(ev.SocketID)
}

// Admit grants the pending join request and starts the offer flow towards
// the admitted guest.
func (s *Session) Admit() error {
	req, err := s.gate.Admit()
	if err != nil {
		return err
	}

	s.notice(fmt.Sprintf("%s admitted to the meeting", req.Nickname))
	s.setRemote(req.Nickname, req.SocketID)

	s.sendOffer(req.SocketID)

	return nil
}

// Deny refuses the pending join request.
func (s *Session) Deny() error {
	req, err := s.gate.Deny()
	if err != nil {
		return err
	}

	s.notice(fmt.Sprintf("%s denied entry", req.Nickname))

	return nil
}

func (s *Session) sendOffer(to string) {
	s.mu.Lock()
	neg := s.neg
	s.mu.Unlock()

	offer, err := neg.CreateOffer()
	if err != nil {
		slog.Error("create offer", slog.Any(constant.Error, err))
		s.notice("Could not start the call")
		return
	}

	err = s.transport.Emit(events.Offer, events.OfferEvent{To: to, Offer: offer})
	if err != nil {
		slog.Error("send offer", slog.Any(constant.Error, err))
		s.notice("Could not start the call")
	}
}

// handleOffer answers an inbound offer. The answering side learns the
// offerer's connection id here.
func (s *Session) handleOffer(data json.RawMessage) {
	var ev events.OfferEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal offer", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	if s.remoteSocketID == "" {
		s.remoteSocketID = ev.From
	}
	neg := s.neg
	s.mu.Unlock()

	answer, err := neg.CreateAnswer(ev.Offer)
	if err != nil {
		slog.Error("create answer", slog.Any(constant.Error, err))
		s.notice("Could not join the call")
		return
	}

	s.flushLocalCandidates()

	err = s.transport.Emit(events.Answer, events.AnswerEvent{To: ev.From, Answer: answer})
	if err != nil {
		slog.Error("send answer", slog.Any(constant.Error, err))
	}
}

// handleAnswerFinal completes the exchange on the offering side. The
// negotiator rejects it on a side that never offered, so both peers can
// never end up in the offerer role.
func (s *Session) handleAnswerFinal(data json.RawMessage) {
	var ev events.AnswerFinalEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal answer_final", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	neg := s.neg
	s.mu.Unlock()

	if err := neg.AcceptAnswer(ev.Answer); err != nil {
		slog.Error("accept answer", slog.Any(constant.Error, err))
	}
}

func (s *Session) handleIceCandidate(data json.RawMessage) {
	var ev events.IceCandidateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal ice_candidate", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	neg := s.neg
	s.mu.Unlock()

	if err := neg.AddRemoteCandidate(ev.Candidate); err != nil {
		slog.Error("add remote candidate", slog.Any(constant.Error, err))
	}
}

func (s *Session) handleJoinRequest(data json.RawMessage) {
	var ev events.JoinRequestEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal join_request", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	isHost := s.isHost
	s.mu.Unlock()

	if !isHost {
		return
	}

	s.gate.HandleJoinRequest(models.JoinRequest{
		UserID:   ev.UserID,
		Nickname: ev.Nickname,
		SocketID: ev.SocketID,
	})
}

func (s *Session) handleAdmissionResponse(data json.RawMessage) {
	var ev events.AdmissionResponseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal admission_response", slog.Any(constant.Error, err))
		return
	}

	s.gate.HandleDecision(admission.Decision{
		Admitted:     ev.Admitted,
		HostName:     ev.HostName,
		HostSocketID: ev.HostSocketID,
	})
}

// SendChat emits a chat message to the room. The relay echoes it back with
// an id and timestamp, which is when it lands in the local log.
func (s *Session) SendChat(text string) error {
	if text == "" {
		return nil
	}

	return s.transport.Emit(events.SendMessage, events.SendMessageEvent{
		RoomID:  s.roomID,
		Message: text,
		Sender:  s.identity.DisplayName,
	})
}

func (s *Session) handleReceiveMessage(data json.RawMessage) {
	var ev events.ReceiveMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal receive_message", slog.Any(constant.Error, err))
		return
	}

	side := models.ChatSideRemote
	if ev.SocketID == s.transport.ID() {
		side = models.ChatSideLocal
	}

	message := models.ChatMessage{
		ID:        ev.ID,
		Text:      ev.Text,
		Sender:    ev.Sender,
		Side:      side,
		Timestamp: ev.Timestamp,
	}

	s.mu.Lock()
	s.chat = append(s.chat, message)
	s.mu.Unlock()

	if s.onChat != nil {
		s.onChat(message)
	}
}

func (s *Session) handleUserLeft(data json.RawMessage) {
	var ev events.UserLeftEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Error("unmarshal user_left", slog.Any(constant.Error, err))
		return
	}

	s.notice(fmt.Sprintf("%s left the meeting", ev.Username))

	s.end(false)
}

// Leave is the explicit hang-up path.
func (s *Session) Leave() {
	s.end(true)
}

// end performs the terminal teardown exactly once: stop media, close the
// peer connection, announce departure, drop all transport handlers, report
// the navigation target. There is no resume from Ended.
func (s *Session) end(emitLeave bool) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = Ended
		neg := s.neg
		isHost := s.isHost
		s.mu.Unlock()

		s.source.Stop()

		if neg != nil {
			if err := neg.Close(); err != nil {
				slog.Error("close peer connection", slog.Any(constant.Error, err))
			}
		}

		if emitLeave {
			err := s.transport.Emit(events.LeaveRoom, events.LeaveRoomEvent{RoomID: s.roomID})
			if err != nil && !errors.Is(err, signal.ErrClosed) {
				slog.Error("announce departure", slog.Any(constant.Error, err))
			}
		}

		s.deregisterHandlers()

		destination := DestinationLanding
		if isHost {
			destination = DestinationMeetingsList
		}

		if s.onEnded != nil {
			s.onEnded(destination)
		}
	})
}

// forwardLocalCandidate routes an outbound path candidate to the remote
// peer, buffering it while the peer's connection id is still unknown.
func (s *Session) forwardLocalCandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	to := s.remoteSocketID
	if to == "" {
		s.pendingLocal = append(s.pendingLocal, candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.emitCandidate(to, candidate)
}

func (s *Session) setRemote(name, socketID string) {
	s.mu.Lock()
	if name != "" {
		s.remoteUserName = name
	}
	if socketID != "" {
		s.remoteSocketID = socketID
	}
	s.mu.Unlock()

	s.flushLocalCandidates()
}

func (s *Session) flushLocalCandidates() {
	s.mu.Lock()
	to := s.remoteSocketID
	pending := s.pendingLocal
	s.pendingLocal = nil
	s.mu.Unlock()

	if to == "" {
		return
	}

	for _, candidate := range pending {
		s.emitCandidate(to, candidate)
	}
}

func (s *Session) emitCandidate(to string, candidate webrtc.ICECandidateInit) {
	err := s.transport.Emit(events.IceCandidate, events.IceCandidateEvent{To: to, Candidate: candidate})
	if err != nil {
		slog.Error("send ice candidate", slog.Any(constant.Error, err))
	}
}

func (s *Session) notice(text string) {
	if s.onNotice != nil {
		s.onNotice(text)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ended is terminal.
	if s.state == Ended {
		return
	}

	s.state = state
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isHost
}

func (s *Session) RemoteName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remoteUserName
}

// Messages returns a copy of the ordered chat log.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatMessage, len(s.chat))
	copy(out, s.chat)

	return out
}
