package models

import "time"

// ChatSide marks which column a message renders on.
type ChatSide string

const (
	ChatSideLocal  ChatSide = "user"
	ChatSideRemote ChatSide = "mentor"
)

// ChatMessage is one entry of the in-memory, insertion-ordered chat log.
// Nothing here is persisted beyond the page visit.
type ChatMessage struct {
	ID        string
	Text      string
	Sender    string
	Side      ChatSide
	Timestamp time.Time
}
