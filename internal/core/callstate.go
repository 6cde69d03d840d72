package core

import (
	"github.com/campuslink/campuslink-server/internal/store"
)

// Phase is a client's position in the call lifecycle.
type Phase int

const (
	// PhaseIdle means no call involvement.
	PhaseIdle Phase = iota
	// PhaseRinging means an unanswered call is being surfaced to the client.
	PhaseRinging
	// PhaseInCall means the client is a current participant.
	PhaseInCall
)

func (p Phase) String() string {
	switch p {
	case PhaseRinging:
		return "ringing"
	case PhaseInCall:
		return "in_call"
	default:
		return "idle"
	}
}

// CallState is one client's view of the single logical call slot of a
// context. It is a value object: every transition produces a new value, so
// an impossible combination like "in call with no session" cannot be
// represented by drifting flags.
type CallState struct {
	Phase     Phase
	SessionID string
	Context   store.ChatContext
	Status    store.SessionStatus
}

// IdleState is the zero call involvement state.
func IdleState() CallState {
	return CallState{Phase: PhaseIdle}
}

// RingingFor surfaces an unanswered remote call. Only an idle client starts
// ringing; a client already in a call keeps its state.
func (s CallState) RingingFor(sess *store.CallSession) CallState {
	if s.Phase != PhaseIdle {
		return s
	}
	return CallState{
		Phase:     PhaseRinging,
		SessionID: sess.ID,
		Context:   sess.Context,
		Status:    sess.Status,
	}
}

// Joined enters the call after a successful local join.
func (s CallState) Joined(sess *store.CallSession) CallState {
	return CallState{
		Phase:     PhaseInCall,
		SessionID: sess.ID,
		Context:   sess.Context,
		Status:    sess.Status,
	}
}

// Left leaves the call locally.
func (s CallState) Left() CallState {
	return IdleState()
}

// Dismissed clears a surfaced ringing call without joining it.
func (s CallState) Dismissed(sessionID string) CallState {
	if s.Phase == PhaseRinging && s.SessionID == sessionID {
		return IdleState()
	}
	return s
}

// ApplySessionUpdate converges the state on a store-delivered session
// update. Updates for other sessions are ignored; updates that would
// regress the monotonic status order are ignored as stale; a terminal
// status force-leaves regardless of what the client believes locally.
func (s CallState) ApplySessionUpdate(sess *store.CallSession) CallState {
	if s.Phase == PhaseIdle || s.SessionID != sess.ID {
		return s
	}
	if sess.Status.Rank() < s.Status.Rank() {
		return s // stale event, the store never regresses
	}
	if sess.Status.Terminal() {
		return IdleState()
	}
	next := s
	next.Status = sess.Status
	return next
}

// IncomingCall is the unanswered-call surface shown to a peer who has not
// joined: a pure projection of the session stream and the local identity.
type IncomingCall struct {
	SessionID       string
	InitiatorName   string
	InitiatorAvatar string
}

// projectIncoming updates the surface for one session event. The surface
// clears when the call turns terminal or the client joined it; it is set
// while another user's call is open and the client is not in it.
func projectIncoming(cur *IncomingCall, selfUserID int64, state CallState, view *SessionView) *IncomingCall {
	if view.Status.Terminal() {
		if cur != nil && cur.SessionID == view.ID {
			return nil
		}
		return cur
	}
	if view.InitiatorID == selfUserID {
		return cur
	}
	if state.Phase == PhaseInCall && state.SessionID == view.ID {
		return nil
	}
	if cur != nil && cur.SessionID == view.ID {
		return cur
	}
	return &IncomingCall{
		SessionID:       view.ID,
		InitiatorName:   view.InitiatorName,
		InitiatorAvatar: view.InitiatorAvatar,
	}
}
