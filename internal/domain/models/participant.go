package models

// Identity describes the local participant for one room visit. It is owned
// by the session; remote participants are only ever known through event
// payloads.
type Identity struct {
	SocketID      string
	DisplayName   string
	Authenticated bool
	UserID        string
}

// JoinRequest is a guest waiting for the host's decision. It lives in the
// admission queue and is discarded once admitted or denied.
type JoinRequest struct {
	UserID   string
	Nickname string
	SocketID string
}
