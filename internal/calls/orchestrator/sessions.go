package orchestrator

import (
	"sync"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/identity"

	"github.com/google/uuid"
)

// ActiveCall is a call with a live session. turn serialises turns; mu guards Call.
type ActiveCall struct {
	turn sync.Mutex
	mu   sync.Mutex

	call    *calls.Call
	Session *calls.Session
	Tenant  *identity.Tenant

	ended     chan struct{}
	endedOnce sync.Once
}

func NewActiveCall(call *calls.Call, session *calls.Session, tenant *identity.Tenant) *ActiveCall {
	return &ActiveCall{call: call, Session: session, Tenant: tenant, ended: make(chan struct{})}
}

// WithTurn runs fn once no turn is in progress, and keeps new turns out until it returns.
func (a *ActiveCall) WithTurn(fn func()) {
	a.turn.Lock()
	defer a.turn.Unlock()
	fn()
}

// Ended is closed when the call is ended, whoever ends it.
func (a *ActiveCall) Ended() <-chan struct{} { return a.ended }

func (a *ActiveCall) MarkEnded() {
	a.endedOnce.Do(func() { close(a.ended) })
}

func (a *ActiveCall) CallID() uuid.UUID { return a.Session.CallID() }

// Update runs fn with exclusive access to the call.
func (a *ActiveCall) Update(fn func(c *calls.Call)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.call)
}

// Snapshot returns a deep copy of the call.
func (a *ActiveCall) Snapshot() *calls.Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return calls.FromRecord(calls.ToRecord(a.call))
}

// Sessions indexes active calls by call id.
type Sessions struct {
	mu     sync.RWMutex
	active map[uuid.UUID]*ActiveCall
}

func NewSessions() *Sessions {
	return &Sessions{active: map[uuid.UUID]*ActiveCall{}}
}

func (s *Sessions) Add(a *ActiveCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[a.CallID()] = a
}

// Get returns the active call only when it belongs to tenantID.
func (s *Sessions) Get(tenantID, callID uuid.UUID) (*ActiveCall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[callID]
	if !ok || a.Session.TenantID() != tenantID {
		return nil, false
	}
	return a, true
}

func (s *Sessions) Remove(callID uuid.UUID) (*ActiveCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[callID]
	if ok {
		delete(s.active, callID)
	}
	return a, ok
}

func (s *Sessions) List() []*ActiveCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ActiveCall, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a)
	}
	return out
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
