package session

import "context"

// State is the per-request view of the client's session.
type State struct {
	current   *Session
	received  string
	destroyed bool
}

// NewState wraps an already resolved session. received is the id the client
// presented in a valid cookie, or empty.
func NewState(current *Session, received string) *State {
	return &State{current: current, received: received}
}

// Session returns the live session, or nil once it has been destroyed.
func (s *State) Session() *Session {
	if s == nil || s.destroyed {
		return nil
	}
	return s.current
}

// Destroyed reports whether the session was removed during this request.
func (s *State) Destroyed() bool {
	return s != nil && s.destroyed
}

// Changed reports whether the outgoing session differs from the one the
// client presented, i.e. whether a new cookie has to be sent.
func (s *State) Changed() bool {
	if s == nil || s.destroyed || s.current == nil {
		return false
	}
	return s.current.ID != s.received
}

// Received reports the id presented by the client in a valid cookie.
func (s *State) Received() string {
	if s == nil {
		return ""
	}
	return s.received
}

func (s *State) destroy() {
	s.destroyed = true
	s.current = nil
}

type contextKey struct{}

// WithState attaches st to ctx.
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

// FromContext returns the request state, or nil outside the session gate.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(contextKey{}).(*State)
	return st
}
