package models

import "time"

// Meeting is the metadata record fetched from the meeting-management
// service. The core only reads CreatedBy to decide who hosts the room.
type Meeting struct {
	RoomID    string    `json:"roomId"`
	CreatedBy string    `json:"createdBy"`
	Subject   string    `json:"subject"`
	Time      time.Time `json:"time"`
	Duration  int       `json:"duration"`
	Status    string    `json:"status"`
}
