package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mentorloop/meetroom/internal/domain/events"
	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/signal"
)

var (
	// ErrEmptyNickname rejects a blank guest nickname before anything is
	// sent to the host.
	ErrEmptyNickname = errors.New("admission: nickname must not be empty")

	// ErrDenied is the terminal outcome of a denied request. Only a fresh
	// RequestJoin starts a new cycle.
	ErrDenied = errors.New("admission: request denied by host")

	// ErrDecisionTimeout bounds how long a guest waits for the host.
	ErrDecisionTimeout = errors.New("admission: timed out waiting for host decision")

	// ErrNoPendingRequest guards host decisions with an empty queue.
	ErrNoPendingRequest = errors.New("admission: no pending join request")
)

type State int

const (
	Idle State = iota
	RequestPending
	Admitted
	Denied
)

// Decision is the host's verdict as delivered to a waiting guest.
type Decision struct {
	Admitted     bool
	HostName     string
	HostSocketID string
}

// Controller gates who enters a room before any media is negotiated. On the
// host side it keeps a FIFO queue of join requests and surfaces them one at
// a time; admitting or denying the current request promotes the next one.
// On the guest side it runs the request/decision exchange with a bounded
// wait.
type Controller struct {
	transport signal.Transport
	roomID    string
	timeout   time.Duration

	mu         sync.Mutex
	state      State
	queue      []models.JoinRequest
	decisionCh chan Decision

	onPending func(models.JoinRequest)
}

func NewController(transport signal.Transport, roomID string, timeout time.Duration) *Controller {
	return &Controller{
		transport: transport,
		roomID:    roomID,
		timeout:   timeout,
		state:     Idle,
	}
}

// OnPending registers the callback invoked whenever a join request becomes
// the current one awaiting the host's decision.
func (c *Controller) OnPending(fn func(models.JoinRequest)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onPending = fn
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RequestJoin emits the guest's join request and blocks until the host
// decides, ctx is cancelled or the configured timeout elapses. A denial
// returns ErrDenied and is terminal for this attempt.
func (c *Controller) RequestJoin(ctx context.Context, userID, nickname string) (Decision, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return Decision{}, ErrEmptyNickname
	}

	c.mu.Lock()
	c.state = RequestPending
	c.decisionCh = make(chan Decision, 1)
	decisionCh := c.decisionCh
	c.mu.Unlock()

	err := c.transport.Emit(events.RequestJoin, events.RequestJoinEvent{
		RoomID:   c.roomID,
		UserID:   userID,
		Nickname: nickname,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("emit join request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case decision := <-decisionCh:
		c.mu.Lock()
		if decision.Admitted {
			c.state = Admitted
		} else {
			c.state = Denied
		}
		c.mu.Unlock()

		if !decision.Admitted {
			return decision, ErrDenied
		}

		return decision, nil

	case <-ctx.Done():
		return Decision{}, ctx.Err()

	case <-timer.C:
		return Decision{}, ErrDecisionTimeout
	}
}

// HandleDecision feeds a received admission_response to the waiting
// RequestJoin. Decisions arriving while no request is pending are dropped,
// so a stray grant after a denial can never flip the outcome.
func (c *Controller) HandleDecision(decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != RequestPending || c.decisionCh == nil {
		return
	}

	select {
	case c.decisionCh <- decision:
	default:
	}
}

// HandleJoinRequest queues a guest's request on the host side. The first
// queued request is surfaced immediately; later ones wait their turn.
func (c *Controller) HandleJoinRequest(req models.JoinRequest) {
	c.mu.Lock()
	c.queue = append(c.queue, req)
	notify := len(c.queue) == 1
	onPending := c.onPending
	c.mu.Unlock()

	if notify && onPending != nil {
		onPending(req)
	}
}

// Current returns the request awaiting a decision, if any.
func (c *Controller) Current() (models.JoinRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return models.JoinRequest{}, false
	}

	return c.queue[0], true
}

// Pending reports how many requests are queued.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Admit grants the current request, hands it back so the caller can start
// the offer flow towards the admitted connection id, and promotes the next
// queued request.
func (c *Controller) Admit() (models.JoinRequest, error) {
	req, err := c.pop(events.AdmitUser)
	if err != nil {
		return models.JoinRequest{}, err
	}

	return req, nil
}

// Deny refuses the current request and promotes the next queued one. There
// is no retry and no re-offer.
func (c *Controller) Deny() (models.JoinRequest, error) {
	req, err := c.pop(events.DenyUser)
	if err != nil {
		return models.JoinRequest{}, err
	}

	return req, nil
}

func (c *Controller) pop(decisionEvent string) (models.JoinRequest, error) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return models.JoinRequest{}, ErrNoPendingRequest
	}

	req := c.queue[0]
	c.queue = c.queue[1:]

	var next models.JoinRequest
	hasNext := len(c.queue) > 0
	if hasNext {
		next = c.queue[0]
	}
	onPending := c.onPending
	c.mu.Unlock()

	var payload any
	switch decisionEvent {
	case events.AdmitUser:
		payload = events.AdmitUserEvent{RoomID: c.roomID, SocketID: req.SocketID, UserID: req.UserID}
	case events.DenyUser:
		payload = events.DenyUserEvent{RoomID: c.roomID, SocketID: req.SocketID, UserID: req.UserID}
	}

	if err := c.transport.Emit(decisionEvent, payload); err != nil {
		return models.JoinRequest{}, fmt.Errorf("emit %s: %w", decisionEvent, err)
	}

	if hasNext && onPending != nil {
		onPending(next)
	}

	return req, nil
}
