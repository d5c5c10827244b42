package constant

// Shared slog attribute keys.
const (
	Error    = "error"
	RoomID   = "room_id"
	SocketID = "socket_id"
	UserID   = "user_id"
	UserName = "user_name"
	Event    = "event"
)
