package model

import "errors"

var (
	// ErrUnsupportedTable is returned when a client asks for a table this server does not serve.
	ErrUnsupportedTable = errors.New("unsupported table")

	// ErrTableNotFound is returned when a table has no state yet.
	ErrTableNotFound = errors.New("table not found")

	// ErrMalformedMessage is returned when an inbound frame is not a valid message envelope.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessageType is returned when the envelope type is not one the relay handles.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidPayload is returned when the payload shape does not match the message type.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidCellUpdate is returned when a single cell update has missing or wrong-typed fields.
	ErrInvalidCellUpdate = errors.New("invalid cell update")

	// ErrCellOutOfRange is returned when a cell update addresses a cell outside the grid.
	ErrCellOutOfRange = errors.New("cell out of range")

	// ErrInvalidGrid is returned when stored table state cannot be parsed as a grid.
	ErrInvalidGrid = errors.New("invalid grid")
)
