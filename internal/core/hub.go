package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
)

const (
	// historyLimit caps the message backlog replayed on context join.
	historyLimit = 50
	// sweepInterval is how often unanswered waiting sessions are checked.
	sweepInterval = 15 * time.Second
)

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub coordinates chat, presence, and call lifecycle for all connected
// clients. All room, presence, and per-client call state is owned by the
// Run loop's goroutine; clients talk to it exclusively over channels.
type Hub struct {
	store       store.Store
	calls       CallService
	log         *zerolog.Logger
	ringTimeout time.Duration

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand

	rooms map[string]*Room
}

// NewHub creates a hub. calls may be nil in tests that exercise chat and
// presence only; ringTimeout <= 0 disables the missed-call sweep.
func NewHub(st store.Store, callSvc CallService, logger *zerolog.Logger, ringTimeout time.Duration) *Hub {
	return &Hub{
		store:       st,
		calls:       callSvc,
		log:         logger,
		ringTimeout: ringTimeout,
		register:    make(chan *Client, 8),
		unregister:  make(chan *Client, 8),
		commands:    make(chan clientCommand, 64),
		rooms:       make(map[string]*Room),
	}
}

// RegisterClient attaches a client to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient detaches a client; its presence is released so peers'
// online and in-call views self-heal. Any call participant row stays
// current: a reconnect silently re-enters the call it never explicitly
// left.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// Run processes hub traffic until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.calls != nil && h.ringTimeout > 0 {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	active := make(map[*Client]struct{})

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			active[c] = struct{}{}
			go h.pump(ctx, c)

		case c := <-h.unregister:
			if _, ok := active[c]; !ok {
				continue
			}
			delete(active, c)
			h.dropClient(c)

		case cc := <-h.commands:
			if _, ok := active[cc.client]; !ok {
				continue
			}
			h.handleCommand(ctx, cc.client, cc.cmd)

		case <-sweep:
			h.sweepMissed(ctx)
		}
	}
}

// pump forwards one client's commands into the hub loop.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinContext:
		h.handleJoinContext(ctx, c, cmd.Context)
	case CommandLeaveContext:
		h.handleLeaveContext(c, cmd.Context)
	case CommandSendMessage:
		h.handleSendMessage(ctx, c, cmd)
	case CommandMarkRead:
		h.handleMarkRead(ctx, c, cmd)
	case CommandStartCall:
		h.handleStartCall(ctx, c, cmd.Context)
	case CommandJoinCall:
		h.handleJoinCall(ctx, c, cmd.SessionID)
	case CommandLeaveCall:
		h.handleLeaveCall(ctx, c, cmd.SessionID)
	case CommandEndCall:
		h.handleEndCall(ctx, c, cmd.SessionID)
	case CommandDismissCall:
		h.handleDismissCall(c, cmd.SessionID)
	default:
		h.sendError(c, ErrCodeBadRequest, "unknown command")
	}
}

// ==== context subscription ====

func (h *Hub) handleJoinContext(ctx context.Context, c *Client, chat store.ChatContext) {
	key := chat.Key()
	if _, ok := c.Contexts[key]; ok {
		h.sendError(c, ErrCodeAlreadyJoined, "already joined "+key)
		return
	}

	room, ok := h.rooms[key]
	if !ok {
		room = NewRoom(chat)
		h.rooms[key] = room
	}
	room.AddClient(c)
	c.Contexts[key] = struct{}{}

	// State is re-derived from a fresh read on every (re)subscribe; the
	// event stream alone is not trusted to have delivered everything.
	h.sendHistory(ctx, c, chat)
	h.restoreCallState(ctx, c, chat)

	room.Track(h.presenceFor(c, chat))
	h.syncPresence(room)
}

func (h *Hub) handleLeaveContext(c *Client, chat store.ChatContext) {
	key := chat.Key()
	if _, ok := c.Contexts[key]; !ok {
		h.sendError(c, ErrCodeNotInContext, "not in "+key)
		return
	}
	delete(c.Contexts, key)

	room, ok := h.rooms[key]
	if !ok {
		return
	}
	room.RemoveClient(c)
	if h.releasePresence(room, c) {
		h.syncPresence(room)
	}
	if room.Empty() {
		delete(h.rooms, key)
	}
}

func (h *Hub) dropClient(c *Client) {
	for key := range c.Contexts {
		room, ok := h.rooms[key]
		if !ok {
			continue
		}
		room.RemoveClient(c)
		if h.releasePresence(room, c) {
			h.syncPresence(room)
		}
		if room.Empty() {
			delete(h.rooms, key)
		}
	}
	c.Contexts = make(map[string]struct{})
}

// releasePresence retires a departing client's presence. The identity stays
// tracked while another connection of the same user is still in the room;
// that connection's record wins, keeping multi-tab users online for peers.
// Returns true if peers should be synced.
func (h *Hub) releasePresence(room *Room, c *Client) bool {
	for _, peer := range room.Clients() {
		if peer.UserID == c.UserID {
			return room.Track(h.presenceFor(peer, room.Context))
		}
	}
	return room.Untrack(c.UserID)
}

func (h *Hub) sendHistory(ctx context.Context, c *Client, chat store.ChatContext) {
	msgs, err := h.store.ListMessages(ctx, chat, historyLimit, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("context", chat.Key()).Msg("load history")
		return
	}

	names := make(map[int64]*store.User)
	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		u, ok := names[msg.UserID]
		if !ok {
			u, err = h.store.GetUserByID(ctx, msg.UserID)
			if err != nil {
				u = &store.User{ID: msg.UserID}
			}
			names[msg.UserID] = u
		}
		views = append(views, messageView(msg, u.Display(), u.AvatarURL))
	}

	deliver(c, &Event{Kind: EventHistory, Context: chat, Messages: views})
}

// restoreCallState checks the store for an open session on (re)subscribe:
// a still-current participant silently re-enters the call, any other peer
// gets the unanswered call surfaced.
func (h *Hub) restoreCallState(ctx context.Context, c *Client, chat store.ChatContext) {
	if h.calls == nil {
		return
	}

	sess, err := h.calls.Open(ctx, chat)
	if err != nil {
		h.log.Warn().Err(err).Str("context", chat.Key()).Msg("check open session")
		return
	}
	if sess == nil {
		return
	}
	view := h.sessionView(ctx, sess)

	resumed, err := h.calls.Resume(ctx, chat, c.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("context", chat.Key()).Msg("resume check")
		return
	}
	if resumed != nil {
		c.Call = c.Call.Joined(resumed)
		c.Incoming = nil
		media, mediaErr := h.calls.MediaJoinInfo(ctx, resumed, c.UserID, c.Name)
		if mediaErr != nil {
			h.log.Warn().Err(mediaErr).Str("session", resumed.ID).Msg("media join info")
		}
		deliver(c, &Event{Kind: EventCallJoined, Context: chat, Join: &CallJoinInfo{
			Session: view,
			Resumed: true,
			Media:   media,
		}})
		return
	}

	joined, err := h.calls.IsParticipant(ctx, sess.ID, c.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sess.ID).Msg("participant check")
		return
	}
	if sess.InitiatorID != c.UserID && !joined {
		c.Call = c.Call.RingingFor(sess)
		c.Incoming = projectIncoming(c.Incoming, c.UserID, c.Call, view)
		deliver(c, &Event{Kind: EventSessionCreated, Context: chat, Session: view})
	}
}

// ==== messages ====

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, cmd *Command) {
	key := cmd.Context.Key()
	if _, ok := c.Contexts[key]; !ok {
		h.sendError(c, ErrCodeNotInContext, "not in "+key)
		return
	}

	kind := cmd.MessageKind
	if kind == "" {
		kind = store.MessageText
	}

	msg := &store.ChatMessage{
		Context:   cmd.Context,
		UserID:    c.UserID,
		Body:      cmd.Body,
		Kind:      kind,
		Metadata:  cmd.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		// No ack is sent, so the caller rolls back its optimistic entry.
		h.log.Error().Err(err).Str("context", key).Msg("save message")
		h.sendError(c, ErrCodeSendFailed, "message not sent")
		return
	}

	deliver(c, &Event{Kind: EventMessageAck, Context: cmd.Context, Ack: &MessageAck{
		ClientRef: cmd.ClientRef,
		ID:        msg.ID,
		CreatedAt: msg.CreatedAt,
	}})

	view := messageView(msg, c.Name, c.Avatar)
	if room, ok := h.rooms[key]; ok {
		// The author is excluded: its optimistic entry was reconciled by
		// the ack and must not render again.
		room.BroadcastExcept(&Event{Kind: EventMessageInserted, Context: cmd.Context, Message: &view}, c)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, cmd *Command) {
	key := cmd.Context.Key()
	if _, ok := c.Contexts[key]; !ok {
		h.sendError(c, ErrCodeNotInContext, "not in "+key)
		return
	}
	if err := h.store.MarkRead(ctx, cmd.Context, cmd.MessageID, c.UserID); err != nil {
		h.log.Warn().Err(err).Int64("message_id", cmd.MessageID).Msg("mark read")
	}
}

// ==== calls ====

func (h *Hub) handleStartCall(ctx context.Context, c *Client, chat store.ChatContext) {
	if h.calls == nil {
		h.sendError(c, ErrCodeCallsDisabled, "calls are not available")
		return
	}
	key := chat.Key()
	if _, ok := c.Contexts[key]; !ok {
		h.sendError(c, ErrCodeNotInContext, "not in "+key)
		return
	}

	sess, created, err := h.calls.Start(ctx, chat, c.UserID)
	if err != nil {
		h.sendCallError(c, err)
		return
	}
	view := h.sessionView(ctx, sess)

	c.Call = c.Call.Joined(sess)
	c.Incoming = nil
	h.sendJoined(ctx, c, sess, view, false)

	room := h.rooms[key]
	if room != nil {
		if created {
			h.ringPeers(room, c, sess, view)
		} else {
			h.convergeSession(room, sess, view)
		}
		room.Track(h.presenceFor(c, chat))
		h.syncPresence(room)
	}
}

func (h *Hub) handleJoinCall(ctx context.Context, c *Client, sessionID string) {
	if h.calls == nil {
		h.sendError(c, ErrCodeCallsDisabled, "calls are not available")
		return
	}

	sess, err := h.calls.Get(ctx, sessionID)
	if err != nil {
		h.sendCallError(c, err)
		return
	}
	// Answering rings through the context room, so membership is
	// required the same way it is for starting a call. Tracking a
	// non-subscriber's presence here would leave a record dropClient
	// never cleans up.
	key := sess.Context.Key()
	if _, ok := c.Contexts[key]; !ok {
		h.sendError(c, ErrCodeNotInContext, "not in "+key)
		return
	}

	sess, err = h.calls.Join(ctx, sessionID, c.UserID)
	if err != nil {
		h.sendCallError(c, err)
		return
	}
	view := h.sessionView(ctx, sess)

	c.Call = c.Call.Joined(sess)
	c.Incoming = nil
	h.sendJoined(ctx, c, sess, view, false)

	if room, ok := h.rooms[key]; ok {
		h.convergeSession(room, sess, view)
		room.Track(h.presenceFor(c, sess.Context))
		h.syncPresence(room)
	}
}

func (h *Hub) handleLeaveCall(ctx context.Context, c *Client, sessionID string) {
	if h.calls == nil {
		h.sendError(c, ErrCodeCallsDisabled, "calls are not available")
		return
	}

	sess, err := h.calls.Leave(ctx, sessionID, c.UserID)
	if err != nil {
		h.sendCallError(c, err)
		return
	}
	view := h.sessionView(ctx, sess)

	c.Call = c.Call.Left()

	if room, ok := h.rooms[sess.Context.Key()]; ok {
		h.convergeSession(room, sess, view)
		// Presence is only republished for subscribers; a participant
		// that already left the context has no record to refresh.
		if _, subscribed := c.Contexts[sess.Context.Key()]; subscribed {
			room.Track(h.presenceFor(c, sess.Context))
			h.syncPresence(room)
		}
	}
}

func (h *Hub) handleEndCall(ctx context.Context, c *Client, sessionID string) {
	if h.calls == nil {
		h.sendError(c, ErrCodeCallsDisabled, "calls are not available")
		return
	}

	sess, err := h.calls.End(ctx, sessionID, c.UserID)
	if err != nil {
		h.sendCallError(c, err)
		return
	}
	view := h.sessionView(ctx, sess)

	c.Call = c.Call.ApplySessionUpdate(sess)

	if room, ok := h.rooms[sess.Context.Key()]; ok {
		h.convergeSession(room, sess, view)
		if _, subscribed := c.Contexts[sess.Context.Key()]; subscribed {
			room.Track(h.presenceFor(c, sess.Context))
			h.syncPresence(room)
		}
	}
}

func (h *Hub) handleDismissCall(c *Client, sessionID string) {
	if c.Incoming != nil && c.Incoming.SessionID == sessionID {
		c.Incoming = nil
	}
	c.Call = c.Call.Dismissed(sessionID)
}

func (h *Hub) sweepMissed(ctx context.Context) {
	swept, err := h.calls.SweepMissed(ctx, h.ringTimeout)
	if err != nil {
		h.log.Warn().Err(err).Msg("missed-call sweep")
	}
	for _, sess := range swept {
		h.log.Info().Str("session", sess.ID).Str("context", sess.Context.Key()).Msg("call marked missed")
		if room, ok := h.rooms[sess.Context.Key()]; ok {
			h.convergeSession(room, sess, h.sessionView(ctx, sess))
		}
	}
}

// ringPeers surfaces a newly created session to everyone else in the room.
func (h *Hub) ringPeers(room *Room, initiator *Client, sess *store.CallSession, view *SessionView) {
	for _, peer := range room.Clients() {
		if peer == initiator || peer.UserID == sess.InitiatorID {
			continue
		}
		peer.Call = peer.Call.RingingFor(sess)
		peer.Incoming = projectIncoming(peer.Incoming, peer.UserID, peer.Call, view)
		deliver(peer, &Event{Kind: EventSessionCreated, Context: sess.Context, Session: view})
	}
}

// convergeSession applies an authoritative session update to every client
// in the room and broadcasts it. Terminal updates force-leave clients that
// still believe they are in the call and clear matching incoming surfaces;
// per-client presence is refreshed so in-call counts self-heal.
func (h *Hub) convergeSession(room *Room, sess *store.CallSession, view *SessionView) {
	changed := false
	for _, peer := range room.Clients() {
		wasInCall := peer.Call.Phase == PhaseInCall
		peer.Call = peer.Call.ApplySessionUpdate(sess)
		peer.Incoming = projectIncoming(peer.Incoming, peer.UserID, peer.Call, view)
		if wasInCall && peer.Call.Phase != PhaseInCall {
			if room.Track(h.presenceFor(peer, sess.Context)) {
				changed = true
			}
		}
		deliver(peer, &Event{Kind: EventSessionUpdated, Context: sess.Context, Session: view})
	}
	if changed {
		h.syncPresence(room)
	}
}

func (h *Hub) sendJoined(ctx context.Context, c *Client, sess *store.CallSession, view *SessionView, resumed bool) {
	media, err := h.calls.MediaJoinInfo(ctx, sess, c.UserID, c.Name)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sess.ID).Msg("media join info")
	}
	deliver(c, &Event{Kind: EventCallJoined, Context: sess.Context, Join: &CallJoinInfo{
		Session: view,
		Resumed: resumed,
		Media:   media,
	}})
}

// ==== helpers ====

func (h *Hub) presenceFor(c *Client, chat store.ChatContext) PresenceRecord {
	rec := PresenceRecord{
		UserID:   c.UserID,
		Name:     c.Name,
		Avatar:   c.Avatar,
		LastSeen: time.Now().UTC(),
	}
	if c.Call.Phase == PhaseInCall && c.Call.Context == chat {
		rec.InCall = true
		rec.SessionID = c.Call.SessionID
	}
	return rec
}

func (h *Hub) syncPresence(room *Room) {
	room.Broadcast(&Event{
		Kind:     EventPresenceSynced,
		Context:  room.Context,
		Presence: room.Presence(),
	})
}

func (h *Hub) sessionView(ctx context.Context, sess *store.CallSession) *SessionView {
	view := &SessionView{
		ID:          sess.ID,
		Context:     sess.Context,
		InitiatorID: sess.InitiatorID,
		Status:      sess.Status,
		StartedAt:   sess.StartedAt,
		EndedAt:     sess.EndedAt,
	}
	if u, err := h.store.GetUserByID(ctx, sess.InitiatorID); err == nil {
		view.InitiatorName = u.Display()
		view.InitiatorAvatar = u.AvatarURL
	}
	return view
}

func (h *Hub) sendError(c *Client, code, msg string) {
	deliver(c, &Event{Kind: EventError, Error: coreError(code, msg)})
}

func (h *Hub) sendCallError(c *Client, err error) {
	switch {
	case errors.Is(err, calls.ErrSessionNotFound):
		h.sendError(c, ErrCodeCallNotFound, err.Error())
	case errors.Is(err, calls.ErrSessionEnded):
		h.sendError(c, ErrCodeCallEnded, err.Error())
	case errors.Is(err, calls.ErrNotParticipant):
		h.sendError(c, ErrCodeNotParticipant, err.Error())
	default:
		h.log.Error().Err(err).Msg("call operation failed")
		h.sendError(c, ErrCodeCallError, "call operation failed")
	}
}
