// Package ws provides WebSocket connection handling and message routing
// for shared tables.
//
// The package implements:
//   - Registry: tracks which clients are subscribed to which table
//   - Handler: runs one relay session per connection (initial_state, cell_updates, grid_update)
//   - Client: a connection with a single write pump fed by a send queue
//   - Service: wires the registry and handler to a table.Store
//
// Each accepted connection is registered for the lifetime of its session and
// released through a Lease on every exit path. Broadcasts take a snapshot of
// the table's clients and send outside the registry lock, skipping the sender.
package ws
