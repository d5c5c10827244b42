package memory

import (
	"sync"

	"github.com/mentorloop/meetroom/internal/application/metric"
	"github.com/mentorloop/meetroom/internal/domain/runtime"
)

// ParticipantRepository tracks which socket belongs to which room and
// whether it has been admitted yet.
type ParticipantRepository interface {
	Add(p runtime.Participant)
	Remove(socketID string)

	Get(socketID string) (runtime.Participant, bool)

	// MarkJoined flips a pending guest into a full room member.
	MarkJoined(socketID string)

	// MembersInRoom returns the admitted participants of a room.
	MembersInRoom(roomID string) []runtime.Participant
}

type participantRepository struct {
	participants map[string]runtime.Participant
	mu           sync.RWMutex
}

func NewParticipantRepository() ParticipantRepository {
	return &participantRepository{
		participants: make(map[string]runtime.Participant),
	}
}

func (r *participantRepository) Add(p runtime.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[p.SocketID] = p

	metric.SetActiveRooms(r.countRooms())
}

func (r *participantRepository) Remove(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, socketID)

	metric.SetActiveRooms(r.countRooms())
}

func (r *participantRepository) Get(socketID string) (runtime.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[socketID]
	return p, ok
}

func (r *participantRepository) MarkJoined(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.participants[socketID]; ok {
		p.Joined = true
		r.participants[socketID] = p
	}
}

func (r *participantRepository) MembersInRoom(roomID string) []runtime.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []runtime.Participant

	for _, p := range r.participants {
		if p.RoomID == roomID && p.Joined {
			members = append(members, p)
		}
	}

	return members
}

// countRooms is called with the write lock held.
func (r *participantRepository) countRooms() int {
	rooms := make(map[string]struct{})

	for _, p := range r.participants {
		if p.Joined {
			rooms[p.RoomID] = struct{}{}
		}
	}

	return len(rooms)
}
