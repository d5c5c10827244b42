package memory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/application/metric"
)

// ConnectionRepository holds the live websocket per socket id.
type ConnectionRepository interface {
	Add(socketID string, conn *websocket.Conn)
	Remove(socketID string)

	Write(socketID string, payload any)
}

type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type connectionRepository struct {
	conns map[string]*safeWS

	mu sync.RWMutex
}

func NewConnectionRepository() ConnectionRepository {
	return &connectionRepository{
		conns: make(map[string]*safeWS, 10),
	}
}

func (r *connectionRepository) Add(socketID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[socketID] = &safeWS{conn: conn}

	metric.IncrementWSActiveConnections()
}

func (r *connectionRepository) Remove(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[socketID]; exists {
		delete(r.conns, socketID)

		metric.DecrementWSActiveConnections()
	}
}

func (r *connectionRepository) Write(socketID string, payload any) {
	safews, ok := r.getSafeWS(socketID)
	if !ok {
		return
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	if err := safews.conn.WriteJSON(payload); err != nil {
		slog.Error(
			"write to websocket",
			slog.Any(constant.Error, err),
			slog.String(constant.SocketID, socketID),
		)
	}
}

func (r *connectionRepository) getSafeWS(socketID string) (*safeWS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[socketID]
	return conn, ok
}
