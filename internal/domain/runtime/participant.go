package runtime

// Participant is the relay's runtime view of one connected socket. Joined
// is false while a guest is still waiting for the host's decision.
type Participant struct {
	SocketID string
	UserID   string
	Username string
	RoomID   string
	Joined   bool
}
