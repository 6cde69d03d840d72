package core

import (
	"context"
	"testing"
	"time"

	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
)

var testClusterCtx = store.ChatContext{Kind: store.ContextCluster, ID: 1}

func newTestHub(t *testing.T) (*Hub, *memStore) {
	t.Helper()
	st := newMemStore()
	return NewHub(st, calls.New(st, nil), testLogger(), 0), st
}

func TestHubJoinContextPresenceAndLeave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)

	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventHistory)
	mustEvent(t, a.Events, EventPresenceSynced)

	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, b.Events, EventHistory)

	// Alice sees the merged peer set once Bob arrives.
	var ev *Event
	for {
		ev = mustEvent(t, a.Events, EventPresenceSynced)
		if len(ev.Presence) == 2 {
			break
		}
	}
	if ev.Presence[0].UserID != alice.ID || ev.Presence[1].UserID != bob.ID {
		t.Fatalf("unexpected presence order: %+v", ev.Presence)
	}
	if ev.Presence[1].Name != "bob" {
		t.Fatalf("expected username fallback for bob, got %q", ev.Presence[1].Name)
	}

	// Bob leaves; Alice's view shrinks back to herself.
	b.Commands <- &Command{Kind: CommandLeaveContext, Context: testClusterCtx}
	for {
		ev = mustEvent(t, a.Events, EventPresenceSynced)
		if len(ev.Presence) == 1 {
			break
		}
	}
	if ev.Presence[0].UserID != alice.ID {
		t.Fatalf("expected only alice present, got %+v", ev.Presence)
	}
}

func TestHubDoubleJoinProducesError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)

	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	ev := mustEvent(t, a.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined error, got %+v", ev)
	}
}

func TestHubSendWithoutJoinProducesError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)

	a.Commands <- &Command{Kind: CommandSendMessage, Context: testClusterCtx, Body: "hi"}

	ev := mustEvent(t, a.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInContext {
		t.Fatalf("expected not_in_context error, got %+v", ev)
	}
}

func TestHubSendAcksSenderAndBroadcastsToPeers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	mustEvent(t, b.Events, EventPresenceSynced)

	a.Commands <- &Command{
		Kind:      CommandSendMessage,
		Context:   testClusterCtx,
		Body:      "hello",
		ClientRef: "ref-42",
	}

	// Sender gets the ack carrying the client's own ref and the stored ID,
	// never a copy of the message.
	ack := mustEvent(t, a.Events, EventMessageAck)
	if ack.Ack == nil || ack.Ack.ClientRef != "ref-42" || ack.Ack.ID == 0 {
		t.Fatalf("unexpected ack: %+v", ack.Ack)
	}

	ev := mustEvent(t, b.Events, EventMessageInserted)
	if ev.Message == nil || ev.Message.Body != "hello" || ev.Message.Name != "Alice A" {
		t.Fatalf("unexpected broadcast: %+v", ev.Message)
	}
	if ev.Message.ID != ack.Ack.ID {
		t.Fatalf("broadcast ID %d does not match ack ID %d", ev.Message.ID, ack.Ack.ID)
	}

	select {
	case stray := <-a.Events:
		if stray.Kind == EventMessageInserted {
			t.Fatalf("sender received its own message back: %+v", stray)
		}
	default:
	}
}

func TestHubHistoryReplayedOnJoin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	_ = st.SaveMessage(ctx, &store.ChatMessage{
		Context: testClusterCtx, UserID: alice.ID, Body: "earlier", Kind: store.MessageText, CreatedAt: time.Now(),
	})

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	ev := mustEvent(t, a.Events, EventHistory)
	if len(ev.Messages) != 1 || ev.Messages[0].Body != "earlier" {
		t.Fatalf("unexpected history: %+v", ev.Messages)
	}
}

func TestHubCallLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "Bob B")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	mustEvent(t, b.Events, EventPresenceSynced)

	// Alice starts the call and is in it immediately; Bob's surface rings.
	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}

	joined := mustEvent(t, a.Events, EventCallJoined)
	if joined.Join == nil || joined.Join.Session.Status != store.SessionWaiting {
		t.Fatalf("unexpected join info: %+v", joined.Join)
	}
	if joined.Join.Resumed {
		t.Fatal("fresh start reported as resume")
	}
	sessionID := joined.Join.Session.ID

	created := mustEvent(t, b.Events, EventSessionCreated)
	if created.Session.ID != sessionID || created.Session.InitiatorName != "Alice A" {
		t.Fatalf("unexpected incoming session: %+v", created.Session)
	}

	// Bob answers; a second distinct identity promotes the session.
	b.Commands <- &Command{Kind: CommandJoinCall, SessionID: sessionID}

	bjoined := mustEvent(t, b.Events, EventCallJoined)
	if bjoined.Join.Session.Status != store.SessionActive {
		t.Fatalf("expected active after second joiner, got %s", bjoined.Join.Session.Status)
	}
	upd := mustEvent(t, a.Events, EventSessionUpdated)
	if upd.Session.Status != store.SessionActive {
		t.Fatalf("initiator saw status %s, want active", upd.Session.Status)
	}

	// Bob hangs up; Alice remains, so the session stays active.
	b.Commands <- &Command{Kind: CommandLeaveCall, SessionID: sessionID}
	upd = mustEvent(t, a.Events, EventSessionUpdated)
	if upd.Session.Status != store.SessionActive {
		t.Fatalf("session ended while a participant remained: %s", upd.Session.Status)
	}

	// Alice was last; her leave ends the call for everyone.
	a.Commands <- &Command{Kind: CommandLeaveCall, SessionID: sessionID}
	for {
		upd = mustEvent(t, b.Events, EventSessionUpdated)
		if upd.Session.Status.Terminal() {
			break
		}
	}
	if upd.Session.Status != store.SessionEnded {
		t.Fatalf("expected ended, got %s", upd.Session.Status)
	}

	sess, err := st.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.Status != store.SessionEnded || sess.EndedAt == nil {
		t.Fatalf("stored session not closed: %+v", sess)
	}
}

func TestHubUnansweredCallMissedOnInitiatorLeave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)

	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	joined := mustEvent(t, a.Events, EventCallJoined)
	sessionID := joined.Join.Session.ID

	// Nobody answered; the initiator giving up closes it as missed.
	a.Commands <- &Command{Kind: CommandLeaveCall, SessionID: sessionID}
	upd := mustEvent(t, a.Events, EventSessionUpdated)
	if upd.Session.Status != store.SessionMissed {
		t.Fatalf("expected missed, got %s", upd.Session.Status)
	}
}

func TestHubStartJoinsAlreadyOpenSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	mustEvent(t, b.Events, EventPresenceSynced)

	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	first := mustEvent(t, a.Events, EventCallJoined)

	// Bob racing with his own "start" lands in Alice's session instead of
	// opening a duplicate.
	b.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	second := mustEvent(t, b.Events, EventCallJoined)

	if first.Join.Session.ID != second.Join.Session.ID {
		t.Fatalf("duplicate sessions opened: %s vs %s", first.Join.Session.ID, second.Join.Session.ID)
	}
	if second.Join.Session.Status != store.SessionActive {
		t.Fatalf("expected promotion to active, got %s", second.Join.Session.Status)
	}
}

func TestHubDismissClearsIncomingOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	mustEvent(t, b.Events, EventPresenceSynced)

	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	created := mustEvent(t, b.Events, EventSessionCreated)
	sessionID := created.Session.ID

	// Dismiss hides the surface locally without touching the session.
	b.Commands <- &Command{Kind: CommandDismissCall, SessionID: sessionID}

	// Bob can still answer afterwards; dismiss is not a reject.
	b.Commands <- &Command{Kind: CommandJoinCall, SessionID: sessionID}
	joined := mustEvent(t, b.Events, EventCallJoined)
	if joined.Join.Session.ID != sessionID {
		t.Fatalf("dismiss prevented joining: %+v", joined.Join)
	}
}

func TestHubReconnectResumesCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)

	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	joined := mustEvent(t, a.Events, EventCallJoined)
	sessionID := joined.Join.Session.ID

	// Connection drops. The participant row stays current because the user
	// never chose to leave.
	hub.UnregisterClient(a)

	a2 := NewClient("conn-a2", alice.ID, alice.Display(), "")
	hub.RegisterClient(a2)
	a2.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	resumed := mustEvent(t, a2.Events, EventCallJoined)
	if !resumed.Join.Resumed || resumed.Join.Session.ID != sessionID {
		t.Fatalf("reconnect did not resume the call: %+v", resumed.Join)
	}
}

func TestHubJoinSurfacesOpenCallToLateArrival(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	mustEvent(t, a.Events, EventCallJoined)

	// Bob connects after the call opened; the ringing surface is rebuilt
	// from the store, not from missed events.
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(b)
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	created := mustEvent(t, b.Events, EventSessionCreated)
	if created.Session.InitiatorID != alice.ID || created.Session.InitiatorName != "Alice A" {
		t.Fatalf("unexpected surfaced session: %+v", created.Session)
	}
}

func TestHubInCallPresenceFlag(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "")
	bob := st.addUser("bob", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	mustEvent(t, b.Events, EventPresenceSynced)

	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}

	var ev *Event
	for {
		ev = mustEvent(t, b.Events, EventPresenceSynced)
		var found bool
		for _, rec := range ev.Presence {
			if rec.UserID == alice.ID && rec.InCall {
				found = true
			}
		}
		if found {
			break
		}
	}
}

func TestHubCallJoinRequiresContextMembership(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "Bob B")
	charlie := st.addUser("charlie", "")

	a := NewClient("conn-a", alice.ID, alice.Display(), "")
	hub.RegisterClient(a)
	a.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	mustEvent(t, a.Events, EventPresenceSynced)
	a.Commands <- &Command{Kind: CommandStartCall, Context: testClusterCtx}
	joined := mustEvent(t, a.Events, EventCallJoined)
	sessionID := joined.Join.Session.ID

	// Bob tries to answer without ever subscribing to the context.
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(b)
	b.Commands <- &Command{Kind: CommandJoinCall, SessionID: sessionID}

	ev := mustEvent(t, b.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInContext {
		t.Fatalf("expected not_in_context error, got %+v", ev)
	}

	// His connection dies; the room must hold no trace of him afterwards.
	hub.UnregisterClient(b)

	c := NewClient("conn-c", charlie.ID, charlie.Display(), "")
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	for {
		ev = mustEvent(t, a.Events, EventPresenceSynced)
		var sawCharlie bool
		for _, rec := range ev.Presence {
			if rec.UserID == bob.ID {
				t.Fatalf("non-subscriber left a presence record behind: %+v", rec)
			}
			if rec.UserID == charlie.ID {
				sawCharlie = true
			}
		}
		if sawCharlie {
			break
		}
	}
}

func TestHubSecondTabKeepsUserOnline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, st := newTestHub(t)
	go hub.Run(ctx)

	alice := st.addUser("alice", "Alice A")
	bob := st.addUser("bob", "")
	charlie := st.addUser("charlie", "")

	tab1 := NewClient("conn-a1", alice.ID, alice.Display(), "")
	tab2 := NewClient("conn-a2", alice.ID, alice.Display(), "")
	b := NewClient("conn-b", bob.ID, bob.Display(), "")
	hub.RegisterClient(tab1)
	hub.RegisterClient(tab2)
	hub.RegisterClient(b)

	tab1.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	tab2.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}
	b.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	// Presence dedupes by identity: two tabs, two records total.
	var ev *Event
	for {
		ev = mustEvent(t, b.Events, EventPresenceSynced)
		if len(ev.Presence) == 2 {
			break
		}
	}

	// One tab drops while the other stays subscribed; Alice must not go
	// offline for peers.
	hub.UnregisterClient(tab1)

	c := NewClient("conn-c", charlie.ID, charlie.Display(), "")
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoinContext, Context: testClusterCtx}

	for {
		ev = mustEvent(t, b.Events, EventPresenceSynced)
		var sawAlice, sawCharlie bool
		for _, rec := range ev.Presence {
			if rec.UserID == alice.ID {
				sawAlice = true
			}
			if rec.UserID == charlie.ID {
				sawCharlie = true
			}
		}
		if !sawAlice {
			t.Fatalf("alice went offline while a tab remained: %+v", ev.Presence)
		}
		if sawCharlie {
			break
		}
	}

	// The last tab leaving finally releases the identity.
	hub.UnregisterClient(tab2)
	for {
		ev = mustEvent(t, b.Events, EventPresenceSynced)
		var sawAlice bool
		for _, rec := range ev.Presence {
			if rec.UserID == alice.ID {
				sawAlice = true
			}
		}
		if !sawAlice {
			break
		}
	}
}
