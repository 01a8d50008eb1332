package ws

import (
	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/table"
)

// Service owns the registry and relay handler for all tables.
type Service struct {
	registry *Registry
	store    *table.Store
	handler  *Handler
	journal  *AsyncRecorder
}

// NewService creates a WebSocket service around store. Every supported
// table is created up front with a default grid. A non-nil recorder is
// written to from a single background goroutine.
func NewService(store *table.Store, recorder EditRecorder, config Config, logger *zap.Logger) *Service {
	registry := NewRegistry(logger)

	var journal *AsyncRecorder
	if recorder != nil {
		journal = NewAsyncRecorder(recorder, journalQueueSize, logger)
		recorder = journal
	}
	handler := NewHandler(registry, store, recorder, config, logger)

	for _, id := range config.SupportedTables {
		store.Init(id)
	}

	return &Service{
		registry: registry,
		store:    store,
		handler:  handler,
		journal:  journal,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Registry returns the session registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Store returns the table state store.
func (s *Service) Store() *table.Store {
	return s.store
}

// Stats returns the number of tables with subscribers and the total connection count.
func (s *Service) Stats() (tables, connections int) {
	return s.registry.Stats()
}

// TableConnectionCount returns the number of clients subscribed to the table.
func (s *Service) TableConnectionCount(tableID string) int {
	return s.registry.Count(tableID)
}

// Close closes all WebSocket connections and flushes the edit journal.
func (s *Service) Close() {
	s.registry.Close()
	if s.journal != nil {
		s.journal.Close()
	}
}
