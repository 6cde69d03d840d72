package core

import "github.com/campuslink/campuslink-server/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinContext subscribes the client to a context's channel.
	CommandJoinContext CommandKind = iota
	// CommandLeaveContext unsubscribes the client from a context.
	CommandLeaveContext
	// CommandSendMessage delivers a chat message to context subscribers.
	CommandSendMessage
	// CommandMarkRead appends the client to a message's read set.
	CommandMarkRead
	// CommandStartCall opens (or joins the already open) call in a context.
	CommandStartCall
	// CommandJoinCall answers a surfaced call.
	CommandJoinCall
	// CommandLeaveCall leaves the call the client is in.
	CommandLeaveCall
	// CommandEndCall terminates the call for everyone.
	CommandEndCall
	// CommandDismissCall clears a surfaced incoming call without joining.
	CommandDismissCall
)

// Command represents an action requested by a client.
type Command struct {
	Kind        CommandKind
	Context     store.ChatContext
	Body        string
	MessageKind store.MessageKind
	Metadata    string
	ClientRef   string // client-chosen ref echoed back in the send ack
	MessageID   int64
	SessionID   string
}
