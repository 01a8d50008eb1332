package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultRows is the row count of a freshly created table.
	DefaultRows = 5
	// DefaultCols is the column count of a freshly created table.
	DefaultCols = 5
)

// Grid is a table's cell data addressed by zero-based (row, col).
type Grid [][]string

// NewGrid creates a rows x cols grid of empty cells.
func NewGrid(rows, cols int) Grid {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	g := make(Grid, rows)
	for i := range g {
		g[i] = make([]string, cols)
	}
	return g
}

// ParseGrid decodes a serialized grid.
func ParseGrid(data string) (Grid, error) {
	var g Grid
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrid, err)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: null grid", ErrInvalidGrid)
	}
	return g, nil
}

// Serialize encodes the grid as the string clients receive in initial_state.
func (g Grid) Serialize() (string, error) {
	if g == nil {
		g = Grid{}
	}
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Contains reports whether (row, col) addresses an existing cell.
// Rows may have different widths after a whole-grid replace.
func (g Grid) Contains(row, col int) bool {
	if row < 0 || row >= len(g) {
		return false
	}
	return col >= 0 && col < len(g[row])
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// CellUpdate is a single (row, column, value) mutation.
type CellUpdate struct {
	RowIndex int    `json:"rowIndex"`
	ColIndex int    `json:"colIndex"`
	Value    string `json:"value"`
}

// EditKind distinguishes journal entries.
type EditKind string

const (
	EditKindCell    EditKind = "cell"
	EditKindReplace EditKind = "replace"
)

// Edit is one journal entry: an applied cell update or a whole-grid replace.
type Edit struct {
	ID           int64     `json:"id"`
	TableID      string    `json:"tableId"`
	ConnectionID string    `json:"connectionId"`
	Kind         EditKind  `json:"kind"`
	RowIndex     *int      `json:"rowIndex,omitempty"`
	ColIndex     *int      `json:"colIndex,omitempty"`
	Value        string    `json:"value"`
	CreatedAt    time.Time `json:"createdAt"`
}
