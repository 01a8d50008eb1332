package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/model"
	"github.com/shared-grid/backend/internal/table"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Default maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	// Longest raw frame excerpt included in log lines.
	maxLoggedFrame = 512
)

// EditRecorder receives every change the relay applies. It is called from
// session read loops, so implementations should not block; see AsyncRecorder.
type EditRecorder interface {
	RecordCellUpdates(ctx context.Context, tableID, connID string, updates []model.CellUpdate) error
	RecordReplace(ctx context.Context, tableID, connID, payload string) error
}

// Config holds configuration for the relay handler.
type Config struct {
	// SupportedTables lists the table IDs clients may connect to.
	SupportedTables []string
	// MaxMessageSize bounds inbound frames; zero uses the default.
	MaxMessageSize int64
	// AllowedOrigins restricts the Origin header; empty allows all origins.
	AllowedOrigins []string
}

// Handler runs the relay session for each WebSocket connection.
type Handler struct {
	registry       *Registry
	store          *table.Store
	recorder       EditRecorder
	supported      map[string]struct{}
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *zap.Logger
}

// NewHandler creates a new relay handler. recorder may be nil.
func NewHandler(registry *Registry, store *table.Store, recorder EditRecorder, config Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}

	supported := make(map[string]struct{}, len(config.SupportedTables))
	for _, id := range config.SupportedTables {
		supported[id] = struct{}{}
	}

	return &Handler{
		registry:  registry,
		store:     store,
		recorder:  recorder,
		supported: supported,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		maxMessageSize: config.MaxMessageSize,
		logger:         logger,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// IsSupported reports whether clients may connect to the table.
func (h *Handler) IsSupported(tableID string) bool {
	_, ok := h.supported[tableID]
	return ok
}

// HandleConnection upgrades the request and starts the relay session for tableID.
// Connections to unsupported tables are closed with a policy-violation code
// and never registered.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, tableID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	if !h.IsSupported(tableID) {
		h.logger.Warn("connection attempt to unsupported table",
			zap.String("table", tableID),
			zap.String("remote", conn.RemoteAddr().String()),
		)
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unsupported table")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		conn.Close()
		return fmt.Errorf("%w: %s", model.ErrUnsupportedTable, tableID)
	}

	client := NewClient(conn, tableID, uuid.NewString())

	go h.writePump(client)
	go h.serve(client)

	return nil
}

// serve is the session loop of one client. The registry lease is released
// on every exit path.
func (h *Handler) serve(client *Client) {
	log := h.sessionLogger(client)

	var lease *Lease
	defer func() {
		if lease != nil {
			lease.Release()
		}
		client.Close()
		client.Conn().Close()
		log.Info("cleaned up connection")
	}()

	var err error
	lease, err = h.join(client)
	if err != nil {
		log.Error("failed to send initial state", zap.Error(err))
		return
	}
	log.Info("sent initial state")

	h.readLoop(client, log)
}

// join registers the client and queues initial_state under the table lock.
// Writes applied before the join are in the state; broadcasts of later
// writes can only be queued behind initial_state.
func (h *Handler) join(client *Client) (*Lease, error) {
	var lease *Lease
	err := h.store.WithState(client.TableID(), func(state string) error {
		data, err := encodeMessage(MessageTypeInitialState, state)
		if err != nil {
			return fmt.Errorf("failed to marshal initial state: %w", err)
		}
		lease = h.registry.Acquire(client.TableID(), client)
		return client.Send(data)
	})
	return lease, err
}

func (h *Handler) readLoop(client *Client, log *zap.Logger) {
	conn := client.Conn()
	conn.SetReadLimit(h.maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("websocket error", zap.Error(err))
			} else {
				log.Info("websocket disconnected", zap.Error(err))
			}
			return
		}

		if err := h.handleMessage(client, message); err != nil {
			log.Warn("discarding message", zap.Error(err), zap.String("data", excerpt(message)))
		}
	}
}

// handleMessage processes one inbound frame. Errors and panics are confined
// to the frame; the session keeps running.
func (h *Handler) handleMessage(client *Client, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing message: %v", r)
		}
	}()

	msg, err := DecodeInbound(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *CellUpdatesMessage:
		return h.handleCellUpdates(client, m)
	case *GridUpdateMessage:
		return h.handleGridUpdate(client, m)
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownMessageType, msg)
	}
}

func (h *Handler) handleCellUpdates(client *Client, msg *CellUpdatesMessage) error {
	log := h.sessionLogger(client)
	for _, rejected := range msg.Rejected {
		log.Warn("invalid cell update received", zap.Error(model.ErrInvalidCellUpdate), zap.String("update", excerpt(rejected)))
	}

	applied, err := h.store.ApplyCellUpdates(client.TableID(), msg.Updates)
	if err != nil {
		return err
	}

	for _, update := range applied {
		data, err := encodeMessage(MessageTypeRemoteCellUpdate, update)
		if err != nil {
			return fmt.Errorf("failed to marshal cell update: %w", err)
		}
		n := h.registry.Broadcast(client.TableID(), client, data)
		log.Debug("broadcast cell update",
			zap.Int("row", update.RowIndex),
			zap.Int("col", update.ColIndex),
			zap.Int("recipients", n),
		)
	}

	if h.recorder != nil && len(applied) > 0 {
		if err := h.recorder.RecordCellUpdates(context.Background(), client.TableID(), client.ID(), applied); err != nil {
			log.Error("failed to journal cell updates", zap.Error(err))
		}
	}
	return nil
}

func (h *Handler) handleGridUpdate(client *Client, msg *GridUpdateMessage) error {
	log := h.sessionLogger(client)

	h.store.ReplaceWhole(client.TableID(), msg.Grid)

	data, err := encodeMessage(MessageTypeRemoteUpdate, msg.Grid)
	if err != nil {
		return fmt.Errorf("failed to marshal grid update: %w", err)
	}
	n := h.registry.Broadcast(client.TableID(), client, data)
	log.Debug("broadcast grid update", zap.Int("recipients", n))

	if h.recorder != nil {
		if err := h.recorder.RecordReplace(context.Background(), client.TableID(), client.ID(), msg.Grid); err != nil {
			log.Error("failed to journal grid update", zap.Error(err))
		}
	}
	return nil
}

// writePump pumps queued messages to the WebSocket connection. It is the only
// writer of the socket.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	conn := client.Conn()
	for {
		select {
		case message, ok := <-client.SendChan():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The session closed the queue
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			// Each message goes in its own frame so clients can JSON-decode frames directly
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.sessionLogger(client).Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sessionLogger(client *Client) *zap.Logger {
	return h.logger.With(
		zap.String("table", client.TableID()),
		zap.String("conn", client.ID()),
		zap.String("remote", client.RemoteAddr()),
	)
}

func excerpt(data []byte) string {
	if len(data) > maxLoggedFrame {
		return string(data[:maxLoggedFrame]) + "..."
	}
	return string(data)
}
