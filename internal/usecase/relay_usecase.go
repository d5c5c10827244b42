package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/application/metric"
	"github.com/mentorloop/meetroom/internal/domain/events"
	"github.com/mentorloop/meetroom/internal/domain/runtime"
	"github.com/mentorloop/meetroom/internal/infra/adapters/memory"
)

// RelayUsecase routes signaling events between the sockets of one room:
// presence fanout, admission forwarding, offer/answer/candidate delivery and
// chat echo. It never inspects SDP or candidate payloads.
type RelayUsecase interface {
	HandleJoinRoom(ctx context.Context, socketID string, ev events.JoinRoomEvent) error
	HandleRequestJoin(ctx context.Context, socketID string, ev events.RequestJoinEvent) error
	HandleAdmitUser(ctx context.Context, socketID string, ev events.AdmitUserEvent) error
	HandleDenyUser(ctx context.Context, socketID string, ev events.DenyUserEvent) error

	HandleOffer(ctx context.Context, socketID string, ev events.OfferEvent) error
	HandleAnswer(ctx context.Context, socketID string, ev events.AnswerEvent) error
	HandleCandidate(ctx context.Context, socketID string, ev events.IceCandidateEvent) error

	HandleSendMessage(ctx context.Context, socketID string, ev events.SendMessageEvent) error

	HandleLeave(ctx context.Context, socketID string) error
}

type relayUsecase struct {
	connRepo        memory.ConnectionRepository
	participantRepo memory.ParticipantRepository
}

func NewRelayUsecase(
	connRepo memory.ConnectionRepository,
	participantRepo memory.ParticipantRepository,
) RelayUsecase {
	return &relayUsecase{
		connRepo:        connRepo,
		participantRepo: participantRepo,
	}
}

func (r *relayUsecase) write(socketID string, eventType string, payload any) error {
	msg, err := events.NewMessage(eventType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	r.connRepo.Write(socketID, msg)

	return nil
}

func (r *relayUsecase) HandleJoinRoom(ctx context.Context, socketID string, ev events.JoinRoomEvent) error {
	metric.RecordSignalEvent(events.JoinRoom)

	if ev.RoomID == "" {
		return fmt.Errorf("join_room: empty room id")
	}

	members := r.participantRepo.MembersInRoom(ev.RoomID)

	r.participantRepo.Add(runtime.Participant{
		SocketID: socketID,
		UserID:   ev.UserID,
		Username: ev.Username,
		RoomID:   ev.RoomID,
		Joined:   true,
	})

	// Ack to the joiner, then presence fanout to everyone already in.
	if err := r.write(socketID, events.JoinRoom, events.JoinRoomAckEvent{RoomID: ev.RoomID}); err != nil {
		return err
	}

	joined := events.UserJoinedEvent{Username: ev.Username, SocketID: socketID}

	for _, member := range members {
		if err := r.write(member.SocketID, events.UserJoined, joined); err != nil {
			return err
		}
	}

	return nil
}

func (r *relayUsecase) HandleRequestJoin(ctx context.Context, socketID string, ev events.RequestJoinEvent) error {
	metric.RecordSignalEvent(events.RequestJoin)

	if ev.RoomID == "" || ev.Nickname == "" {
		return fmt.Errorf("request_join: room id and nickname are required")
	}

	// Pending until the host admits.
	r.participantRepo.Add(runtime.Participant{
		SocketID: socketID,
		UserID:   ev.UserID,
		Username: ev.Nickname,
		RoomID:   ev.RoomID,
		Joined:   false,
	})

	request := events.JoinRequestEvent{
		UserID:   ev.UserID,
		Nickname: ev.Nickname,
		SocketID: socketID,
	}

	// The relay does not know who created the meeting; every current member
	// is notified and non-hosts ignore the event client-side.
	for _, member := range r.participantRepo.MembersInRoom(ev.RoomID) {
		if err := r.write(member.SocketID, events.JoinRequest, request); err != nil {
			return err
		}
	}

	return nil
}

func (r *relayUsecase) HandleAdmitUser(ctx context.Context, socketID string, ev events.AdmitUserEvent) error {
	metric.RecordSignalEvent(events.AdmitUser)
	metric.RecordAdmissionDecision(true)

	host, ok := r.participantRepo.Get(socketID)
	if !ok {
		return fmt.Errorf("admit_user: unknown host socket %s", socketID)
	}

	r.participantRepo.MarkJoined(ev.SocketID)

	return r.write(ev.SocketID, events.AdmissionResponse, events.AdmissionResponseEvent{
		Admitted:     true,
		HostName:     host.Username,
		HostSocketID: socketID,
	})
}

func (r *relayUsecase) HandleDenyUser(ctx context.Context, socketID string, ev events.DenyUserEvent) error {
	metric.RecordSignalEvent(events.DenyUser)
	metric.RecordAdmissionDecision(false)

	err := r.write(ev.SocketID, events.AdmissionResponse, events.AdmissionResponseEvent{Admitted: false})
	if err != nil {
		return err
	}

	// Denied guests hold no room slot.
	r.participantRepo.Remove(ev.SocketID)

	return nil
}

func (r *relayUsecase) HandleOffer(ctx context.Context, socketID string, ev events.OfferEvent) error {
	metric.RecordSignalEvent(events.Offer)

	return r.write(ev.To, events.Offer, events.OfferEvent{From: socketID, Offer: ev.Offer})
}

func (r *relayUsecase) HandleAnswer(ctx context.Context, socketID string, ev events.AnswerEvent) error {
	metric.RecordSignalEvent(events.Answer)

	// Delivered under a separate name so the offerer's own "answer" handler
	// is never confused with an inbound one.
	return r.write(ev.To, events.AnswerFinal, events.AnswerFinalEvent{Answer: ev.Answer})
}

func (r *relayUsecase) HandleCandidate(ctx context.Context, socketID string, ev events.IceCandidateEvent) error {
	metric.RecordSignalEvent(events.IceCandidate)

	return r.write(ev.To, events.IceCandidate, events.IceCandidateEvent{From: socketID, Candidate: ev.Candidate})
}

func (r *relayUsecase) HandleSendMessage(ctx context.Context, socketID string, ev events.SendMessageEvent) error {
	metric.RecordSignalEvent(events.SendMessage)

	sender, ok := r.participantRepo.Get(socketID)
	if !ok {
		return fmt.Errorf("send_message: unknown socket %s", socketID)
	}

	message := events.ReceiveMessageEvent{
		ID:        uuid.NewString(),
		Text:      ev.Message,
		Sender:    ev.Sender,
		Timestamp: time.Now().UTC(),
		SocketID:  socketID,
	}

	// Echoed to the sender too; clients tag sides by socket id.
	for _, member := range r.participantRepo.MembersInRoom(sender.RoomID) {
		if err := r.write(member.SocketID, events.ReceiveMessage, message); err != nil {
			return err
		}
	}

	return nil
}

func (r *relayUsecase) HandleLeave(ctx context.Context, socketID string) error {
	metric.RecordSignalEvent(events.LeaveRoom)

	p, ok := r.participantRepo.Get(socketID)
	if !ok {
		// Already gone; leave is idempotent.
		return nil
	}

	r.participantRepo.Remove(socketID)

	left := events.UserLeftEvent{SocketID: socketID, Username: p.Username}

	for _, member := range r.participantRepo.MembersInRoom(p.RoomID) {
		if err := r.write(member.SocketID, events.UserLeft, left); err != nil {
			return err
		}
	}

	slog.Info(
		"participant left",
		slog.String(constant.SocketID, socketID),
		slog.String(constant.RoomID, p.RoomID),
	)

	return nil
}
