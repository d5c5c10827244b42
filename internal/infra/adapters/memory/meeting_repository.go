package memory

import (
	"sync"

	"github.com/mentorloop/meetroom/internal/domain/models"
)

// MeetingRepository is the relay's stand-in for the meeting-management
// service: just enough storage to answer "who created this room".
type MeetingRepository interface {
	Put(meeting models.Meeting)
	GetByID(roomID string) (models.Meeting, bool)
}

type meetingRepository struct {
	meetings map[string]models.Meeting
	mu       sync.RWMutex
}

func NewMeetingRepository() MeetingRepository {
	return &meetingRepository{
		meetings: make(map[string]models.Meeting),
	}
}

func (r *meetingRepository) Put(meeting models.Meeting) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.meetings[meeting.RoomID] = meeting
}

func (r *meetingRepository) GetByID(roomID string) (models.Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, ok := r.meetings[roomID]
	return meeting, ok
}
