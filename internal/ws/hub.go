package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrClientClosed is returned when sending to a client whose queue is closed.
	ErrClientClosed = errors.New("client closed")

	// ErrSendQueueFull is returned when a client cannot keep up; the client is closed.
	ErrSendQueueFull = errors.New("send queue full")
)

const sendQueueSize = 256

// Peer is a connection that can receive broadcasts.
type Peer interface {
	ID() string
	Send(data []byte) error
	Close()
}

// Client represents a WebSocket client connection bound to one table.
// All writes to the socket go through the send queue and a single write pump.
type Client struct {
	id      string
	tableID string
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.Mutex
	closed  bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn, tableID, id string) *Client {
	return &Client{
		id:      id,
		tableID: tableID,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// TableID returns the table this client is bound to.
func (c *Client) TableID() string {
	return c.tableID
}

// RemoteAddr returns the peer address, or an empty string without a socket.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		// Buffer full, close the client
		c.closeLocked()
		return ErrSendQueueFull
	}
}

// Close closes the client's send queue. The write pump then sends a close
// frame and shuts the socket, which ends the read loop.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Registry tracks which peers are subscribed to which table.
// An entry exists only while it has at least one peer.
type Registry struct {
	tables map[string][]Peer
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tables: make(map[string][]Peer),
		logger: logger,
	}
}

// Register adds a peer to the table's entry, creating the entry if needed.
func (r *Registry) Register(tableID string, peer Peer) {
	r.mu.Lock()
	r.tables[tableID] = append(r.tables[tableID], peer)
	count := len(r.tables[tableID])
	r.mu.Unlock()

	r.logger.Info("client registered", zap.String("table", tableID), zap.String("conn", peer.ID()), zap.Int("connections", count))
}

// Unregister removes a peer from the table's entry and drops the entry once
// it is empty. Removing an absent peer is a no-op that returns false.
func (r *Registry) Unregister(tableID string, peer Peer) bool {
	r.mu.Lock()
	peers, ok := r.tables[tableID]
	idx := -1
	for i, p := range peers {
		if p == peer {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		r.logger.Warn("client not registered", zap.String("table", tableID), zap.String("conn", peer.ID()), zap.Bool("tableKnown", ok))
		return false
	}

	// Copy instead of shifting in place so snapshots handed out earlier stay intact.
	remaining := make([]Peer, 0, len(peers)-1)
	remaining = append(remaining, peers[:idx]...)
	remaining = append(remaining, peers[idx+1:]...)
	if len(remaining) == 0 {
		delete(r.tables, tableID)
	} else {
		r.tables[tableID] = remaining
	}
	r.mu.Unlock()

	if len(remaining) == 0 {
		r.logger.Info("table has no more connections", zap.String("table", tableID), zap.String("conn", peer.ID()))
	} else {
		r.logger.Info("client unregistered", zap.String("table", tableID), zap.String("conn", peer.ID()), zap.Int("connections", len(remaining)))
	}
	return true
}

// Snapshot returns a point-in-time copy of the table's peers in registration order.
func (r *Registry) Snapshot(tableID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := r.tables[tableID]
	if len(peers) == 0 {
		return nil
	}
	out := make([]Peer, len(peers))
	copy(out, peers)
	return out
}

// Has reports whether the table has an entry.
func (r *Registry) Has(tableID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[tableID]
	return ok
}

// Count returns the number of peers subscribed to the table.
func (r *Registry) Count(tableID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables[tableID])
}

// Stats returns the number of tables with subscribers and the total peer count.
func (r *Registry) Stats() (tables, peers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables = len(r.tables)
	for _, p := range r.tables {
		peers += len(p)
	}
	return tables, peers
}

// Broadcast sends data to every peer of the table except sender and returns
// the number of peers the message was queued for. Sends happen outside the
// registry lock; a failing peer does not stop delivery to the others.
func (r *Registry) Broadcast(tableID string, sender Peer, data []byte) int {
	delivered := 0
	for _, peer := range r.Snapshot(tableID) {
		if peer == sender {
			continue
		}
		if err := peer.Send(data); err != nil {
			r.logger.Warn("broadcast send failed", zap.String("table", tableID), zap.String("conn", peer.ID()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Acquire registers the peer and returns a lease whose Release unregisters it.
func (r *Registry) Acquire(tableID string, peer Peer) *Lease {
	r.Register(tableID, peer)
	return &Lease{registry: r, tableID: tableID, peer: peer}
}

// Close closes every registered peer. Entries are removed as each peer's
// session releases its lease.
func (r *Registry) Close() {
	r.mu.RLock()
	var peers []Peer
	for _, p := range r.tables {
		peers = append(peers, p...)
	}
	r.mu.RUnlock()

	for _, peer := range peers {
		peer.Close()
	}
}

// Lease is a peer's registration in a table. Release is safe to call more than once.
type Lease struct {
	registry *Registry
	tableID  string
	peer     Peer
	once     sync.Once
}

// Release unregisters the peer exactly once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.Unregister(l.tableID, l.peer)
	})
}
