package events

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Event names carried in the envelope. Delivery is FIFO per name per
// connection; there is no ordering guarantee across names.
const (
	Connected         = "connected"
	JoinRoom          = "join_room"
	RequestJoin       = "request_join"
	JoinRequest       = "join_request"
	AdmitUser         = "admit_user"
	DenyUser          = "deny_user"
	AdmissionResponse = "admission_response"
	UserJoined        = "user_joined"
	UserLeft          = "user_left"
	Offer             = "offer"
	Answer            = "answer"
	AnswerFinal       = "answer_final"
	IceCandidate      = "ice_candidate"
	SendMessage       = "send_message"
	ReceiveMessage    = "receive_message"
	LeaveRoom         = "leave_room"
)

// Message is the envelope for every event on the signaling channel.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage marshals payload into an envelope.
func NewMessage(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: eventType, Data: data}, nil
}

// ConnectedEvent delivers the relay-assigned connection id to the client
// right after the channel is accepted.
type ConnectedEvent struct {
	SocketID string `json:"socketId"`
}

// JoinRoomEvent - authenticated user announces presence in a room.
type JoinRoomEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RequestJoinEvent - guest asks the host for admission.
type RequestJoinEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// JoinRequestEvent - host is notified of a pending guest.
type JoinRequestEvent struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	SocketID string `json:"socketId"`
}

// AdmitUserEvent - admission grant, referencing the requester's connection id.
type AdmitUserEvent struct {
	RoomID   string `json:"roomId"`
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

// DenyUserEvent - admission denial.
type DenyUserEvent struct {
	RoomID   string `json:"roomId"`
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

// AdmissionResponseEvent - decision delivered to the waiting guest.
type AdmissionResponseEvent struct {
	Admitted     bool   `json:"admitted"`
	HostName     string `json:"hostName,omitempty"`
	HostSocketID string `json:"hostSocketId,omitempty"`
}

type UserJoinedEvent struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

type UserLeftEvent struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// OfferEvent routes a session description to one peer. To is set by the
// sender, From is filled in by the relay on delivery.
type OfferEvent struct {
	To    string                    `json:"to,omitempty"`
	From  string                    `json:"from,omitempty"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// AnswerEvent is sent by the answering side; the relay delivers it back to
// the offerer as AnswerFinal (a separate name avoids echoing it to the
// answerer).
type AnswerEvent struct {
	To     string                    `json:"to"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type AnswerFinalEvent struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type IceCandidateEvent struct {
	To        string                  `json:"to,omitempty"`
	From      string                  `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type SendMessageEvent struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// ReceiveMessageEvent is the relay's fanout of a chat message. ID and
// Timestamp are assigned by the relay; SocketID identifies the sender so
// receivers can tag the message as their own or remote.
type ReceiveMessageEvent struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	SocketID  string    `json:"socketId"`
}

type LeaveRoomEvent struct {
	RoomID string `json:"roomId"`
}

// JoinRoomAckEvent echoes a successful join back to the joiner.
type JoinRoomAckEvent struct {
	RoomID string `json:"roomId"`
}
