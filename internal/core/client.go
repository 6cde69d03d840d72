package core

// Client is one connected peer as seen by the core layer. Call and
// incoming-call state are only touched from the hub's event loop.
type Client struct {
	ID       string // connection id, unique per tab
	UserID   int64
	Name     string
	Avatar   string
	Commands chan *Command
	Events   chan *Event
	Contexts map[string]struct{}
	Call     CallState
	Incoming *IncomingCall
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, name, avatar string) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Avatar:   avatar,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 16),
		Contexts: make(map[string]struct{}),
		Call:     IdleState(),
	}
}
