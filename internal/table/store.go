// Package table holds the authoritative in-memory state of every shared table.
package table

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/model"
)

// state is one table's data. Exactly one of grid or blob is authoritative:
// blob is set by a whole-grid replace and cleared when cell updates need a grid.
type state struct {
	mu      sync.Mutex
	grid    model.Grid
	blob    string
	hasBlob bool
}

// serializeLocked returns the wire form of the table. Caller holds s.mu.
func (s *state) serializeLocked() (string, error) {
	if s.hasBlob {
		return s.blob, nil
	}
	return s.grid.Serialize()
}

// gridLocked materializes the structured grid, parsing an opaque blob if needed.
// Caller holds s.mu.
func (s *state) gridLocked() (model.Grid, error) {
	if !s.hasBlob {
		return s.grid, nil
	}
	g, err := model.ParseGrid(s.blob)
	if err != nil {
		return nil, err
	}
	s.grid = g
	s.blob = ""
	s.hasBlob = false
	return g, nil
}

// Config holds configuration for the table store.
type Config struct {
	Rows int
	Cols int
}

// Store owns per-table grid data. Lookups of the table map take the
// store lock; mutations of a table's data take only that table's lock.
type Store struct {
	rows   int
	cols   int
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]*state
}

// NewStore creates an empty store whose tables start as rows x cols grids.
func NewStore(config Config, logger *zap.Logger) *Store {
	if config.Rows <= 0 {
		config.Rows = model.DefaultRows
	}
	if config.Cols <= 0 {
		config.Cols = model.DefaultCols
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rows:   config.Rows,
		cols:   config.Cols,
		logger: logger,
		tables: make(map[string]*state),
	}
}

func (s *Store) lookup(tableID string) (*state, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tables[tableID]
	return st, ok
}

func (s *Store) getOrCreate(tableID string) *state {
	if st, ok := s.lookup(tableID); ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tables[tableID]; ok {
		return st
	}
	st := &state{grid: model.NewGrid(s.rows, s.cols)}
	s.tables[tableID] = st
	s.logger.Info("table created", zap.String("table", tableID), zap.Int("rows", s.rows), zap.Int("cols", s.cols))
	return st
}

// Init creates the table with a default grid if it does not exist yet.
func (s *Store) Init(tableID string) {
	s.getOrCreate(tableID)
}

// GetOrInit returns the serialized state of the table, creating a default
// empty grid the first time the table is seen.
func (s *Store) GetOrInit(tableID string) (string, error) {
	st := s.getOrCreate(tableID)

	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := st.serializeLocked()
	if err != nil {
		return "", fmt.Errorf("failed to serialize table %s: %w", tableID, err)
	}
	return data, nil
}

// WithState calls fn with the serialized state while holding the table's
// lock, creating the table first if needed. No mutation of the table can
// happen while fn runs, so anything fn registers sees every later write.
// fn must not call back into the store for the same table.
func (s *Store) WithState(tableID string, fn func(state string) error) error {
	st := s.getOrCreate(tableID)

	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := st.serializeLocked()
	if err != nil {
		return fmt.Errorf("failed to serialize table %s: %w", tableID, err)
	}
	return fn(data)
}

// Grid returns a copy of the table's structured grid. The boolean is false
// when the table does not exist.
func (s *Store) Grid(tableID string) (model.Grid, bool, error) {
	st, ok := s.lookup(tableID)
	if !ok {
		return nil, false, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.hasBlob {
		g, err := model.ParseGrid(st.blob)
		if err != nil {
			return nil, true, err
		}
		return g, true, nil
	}
	return st.grid.Clone(), true, nil
}

// Serialized returns the stored wire form of an existing table.
func (s *Store) Serialized(tableID string) (string, error) {
	st, ok := s.lookup(tableID)
	if !ok {
		return "", model.ErrTableNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.serializeLocked()
}

// ApplyCellUpdates applies the updates in order. An update addressing a cell
// outside the grid is skipped and the rest of the batch still applies.
// It returns the updates that were applied, in application order.
func (s *Store) ApplyCellUpdates(tableID string, updates []model.CellUpdate) ([]model.CellUpdate, error) {
	st := s.getOrCreate(tableID)

	st.mu.Lock()
	defer st.mu.Unlock()

	grid, err := st.gridLocked()
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", tableID, err)
	}

	applied := make([]model.CellUpdate, 0, len(updates))
	for _, u := range updates {
		if !grid.Contains(u.RowIndex, u.ColIndex) {
			s.logger.Warn("skipping cell update",
				zap.String("table", tableID),
				zap.Int("row", u.RowIndex),
				zap.Int("col", u.ColIndex),
				zap.Error(model.ErrCellOutOfRange),
			)
			continue
		}
		grid[u.RowIndex][u.ColIndex] = u.Value
		applied = append(applied, u)
	}

	if len(applied) > 0 {
		s.logger.Debug("cells updated", zap.String("table", tableID), zap.Int("applied", len(applied)), zap.Int("received", len(updates)))
	}
	return applied, nil
}

// ReplaceWhole overwrites the table state with an opaque serialized grid.
// The payload is not validated; a malformed payload only surfaces when a
// later cell update or client tries to parse it.
func (s *Store) ReplaceWhole(tableID string, payload string) {
	st := s.getOrCreate(tableID)

	st.mu.Lock()
	st.grid = nil
	st.blob = payload
	st.hasBlob = true
	st.mu.Unlock()

	s.logger.Debug("table replaced", zap.String("table", tableID), zap.Int("bytes", len(payload)))
}

// Tables returns the IDs of all known tables, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
