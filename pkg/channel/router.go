package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/uds-go/pkg/link"
)

var (
	ErrNoSession = errors.New("no session for identifier")
	ErrInboxFull = errors.New("endpoint inbox full")
)

// Session receives the frames addressed to one identifier
type Session interface {
	// OnReceive is called when a frame with the session's identifier arrives
	OnReceive(frame link.Frame) error

	// ReceiveID returns the identifier the session listens on
	ReceiveID() uint32
}

// Router routes frames to sessions by identifier. Frames for identifiers
// nobody listens on are normal on a shared bus.
type Router struct {
	sessions map[uint32]Session // Key: receive identifier
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		sessions: make(map[uint32]Session),
	}
}

// AddSession adds a session to the router
func (r *Router) AddSession(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.ReceiveID()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("session for identifier 0x%X already exists", id)
	}

	r.sessions[id] = session
	return nil
}

// RemoveSession removes a session from the router
func (r *Router) RemoveSession(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Route delivers a frame to the session listening on its identifier
func (r *Router) Route(frame link.Frame) error {
	r.mu.RLock()
	session, exists := r.sessions[frame.ID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("0x%X: %w", frame.ID, ErrNoSession)
	}
	return session.OnReceive(frame)
}

// GetSession returns a session by identifier
func (r *Router) GetSession(id uint32) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

// GetSessionCount returns the number of active sessions
func (r *Router) GetSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Each calls fn for every session
func (r *Router) Each(fn func(Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		fn(s)
	}
}

// Clear removes all sessions
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[uint32]Session)
}

// Endpoint is a pair of identifiers on a channel: frames received on rxID
// are queued in an inbox and frames sent go out on txID. It implements
// transport.FrameBus.
type Endpoint struct {
	channel  *Channel
	rxID     uint32
	txID     uint32
	extended bool
	inbox    chan [link.DataSize]byte
}

// DefaultInboxSize is the number of frames an endpoint buffers
const DefaultInboxSize = 1024

// OnReceive implements Session
func (e *Endpoint) OnReceive(frame link.Frame) error {
	select {
	case e.inbox <- frame.Data:
		return nil
	default:
		return ErrInboxFull
	}
}

// ReceiveID implements Session
func (e *Endpoint) ReceiveID() uint32 {
	return e.rxID
}

// TransmitID returns the identifier used for outgoing frames
func (e *Endpoint) TransmitID() uint32 {
	return e.txID
}

// SendFrame writes one frame carrying data
func (e *Endpoint) SendFrame(ctx context.Context, data []byte) error {
	frame, err := link.NewFrame(e.txID, e.extended, data)
	if err != nil {
		return err
	}
	return e.channel.Write(ctx, frame)
}

// ReceiveFrame waits up to timeout for the next frame. It returns nil, nil
// when the timeout elapses.
func (e *Endpoint) ReceiveFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-e.inbox:
		return data[:], nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.channel.ctx.Done():
		return nil, ErrChannelClosed
	}
}

// Flush discards queued frames
func (e *Endpoint) Flush() int {
	n := 0
	for {
		select {
		case <-e.inbox:
			n++
		default:
			return n
		}
	}
}
