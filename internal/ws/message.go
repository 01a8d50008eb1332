package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shared-grid/backend/internal/model"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeCellUpdates MessageType = "cell_updates"
	MessageTypeGridUpdate  MessageType = "grid_update"

	// Server -> Client message types
	MessageTypeInitialState     MessageType = "initial_state"
	MessageTypeRemoteCellUpdate MessageType = "remote_cell_update"
	MessageTypeRemoteUpdate     MessageType = "remote_update"
)

// Message is the envelope used in both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a decoded client message. It is implemented by
// *CellUpdatesMessage and *GridUpdateMessage only.
type Inbound interface {
	Type() MessageType
	inbound()
}

// CellUpdatesMessage is a fine-grained patch. Rejected holds the entries that
// had missing or wrong-typed fields; they are never applied.
type CellUpdatesMessage struct {
	Updates  []model.CellUpdate
	Rejected []json.RawMessage
}

func (*CellUpdatesMessage) Type() MessageType { return MessageTypeCellUpdates }
func (*CellUpdatesMessage) inbound()          {}

// GridUpdateMessage replaces the whole table with an opaque serialized grid.
type GridUpdateMessage struct {
	Grid string
}

func (*GridUpdateMessage) Type() MessageType { return MessageTypeGridUpdate }
func (*GridUpdateMessage) inbound()          {}

// DecodeInbound parses a client frame into one of the known message variants.
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}

	switch msg.Type {
	case MessageTypeCellUpdates:
		return decodeCellUpdates(msg.Payload)
	case MessageTypeGridUpdate:
		if !isJSONKind(msg.Payload, '"') {
			return nil, fmt.Errorf("%w: grid_update payload must be a string", model.ErrInvalidPayload)
		}
		var grid string
		if err := json.Unmarshal(msg.Payload, &grid); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
		}
		return &GridUpdateMessage{Grid: grid}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownMessageType, msg.Type)
	}
}

func decodeCellUpdates(payload json.RawMessage) (*CellUpdatesMessage, error) {
	if !isJSONKind(payload, '[') {
		return nil, fmt.Errorf("%w: cell_updates payload must be a list", model.ErrInvalidPayload)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
	}

	msg := &CellUpdatesMessage{Updates: make([]model.CellUpdate, 0, len(entries))}
	for _, entry := range entries {
		update, err := decodeCellUpdate(entry)
		if err != nil {
			msg.Rejected = append(msg.Rejected, entry)
			continue
		}
		msg.Updates = append(msg.Updates, update)
	}
	return msg, nil
}

// decodeCellUpdate requires integer indices and a string value. Nulls,
// floats, booleans and numeric strings are all rejected.
func decodeCellUpdate(entry json.RawMessage) (model.CellUpdate, error) {
	var fields struct {
		RowIndex json.RawMessage `json:"rowIndex"`
		ColIndex json.RawMessage `json:"colIndex"`
		Value    json.RawMessage `json:"value"`
	}
	var update model.CellUpdate

	if !isJSONKind(entry, '{') {
		return update, model.ErrInvalidCellUpdate
	}
	if err := json.Unmarshal(entry, &fields); err != nil {
		return update, fmt.Errorf("%w: %v", model.ErrInvalidCellUpdate, err)
	}
	if !isJSONNumber(fields.RowIndex) || !isJSONNumber(fields.ColIndex) || !isJSONKind(fields.Value, '"') {
		return update, model.ErrInvalidCellUpdate
	}
	if err := json.Unmarshal(fields.RowIndex, &update.RowIndex); err != nil {
		return update, fmt.Errorf("%w: rowIndex: %v", model.ErrInvalidCellUpdate, err)
	}
	if err := json.Unmarshal(fields.ColIndex, &update.ColIndex); err != nil {
		return update, fmt.Errorf("%w: colIndex: %v", model.ErrInvalidCellUpdate, err)
	}
	if err := json.Unmarshal(fields.Value, &update.Value); err != nil {
		return update, fmt.Errorf("%w: value: %v", model.ErrInvalidCellUpdate, err)
	}
	return update, nil
}

func isJSONKind(raw json.RawMessage, first byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == first
}

func isJSONNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'))
}

// encodeMessage builds an outbound envelope.
func encodeMessage(t MessageType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: t, Payload: raw})
}
