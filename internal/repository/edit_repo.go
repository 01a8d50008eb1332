// Package repository provides data access for the edit journal.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shared-grid/backend/internal/model"
)

const (
	// DefaultListLimit is used when ListRecent is called without a positive limit.
	DefaultListLimit = 50
	// MaxListLimit caps ListRecent.
	MaxListLimit = 500
)

// EditRepository records applied edits. The journal is an audit trail only;
// table state is never rebuilt from it.
type EditRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewEditRepository creates a new EditRepository.
func NewEditRepository(db *sql.DB) *EditRepository {
	return &EditRepository{db: db, now: time.Now}
}

// RecordCellUpdates inserts one journal row per applied cell update in a single transaction.
func (r *EditRepository) RecordCellUpdates(ctx context.Context, tableID, connID string, updates []model.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO edits (table_id, connection_id, kind, row_index, col_index, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := r.now()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, tableID, connID, model.EditKindCell, u.RowIndex, u.ColIndex, u.Value, now); err != nil {
			return fmt.Errorf("failed to record cell update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cell updates: %w", err)
	}
	return nil
}

// RecordReplace inserts a journal row for a whole-grid replace.
func (r *EditRepository) RecordReplace(ctx context.Context, tableID, connID, payload string) error {
	query := `
		INSERT INTO edits (table_id, connection_id, kind, value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, tableID, connID, model.EditKindReplace, payload, r.now())
	if err != nil {
		return fmt.Errorf("failed to record grid replace: %w", err)
	}
	return nil
}

// ListRecent returns the most recent edits of a table, newest first.
func (r *EditRepository) ListRecent(ctx context.Context, tableID string, limit int) ([]*model.Edit, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, table_id, connection_id, kind, row_index, col_index, value, created_at
		FROM edits
		WHERE table_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list edits: %w", err)
	}
	defer rows.Close()

	var edits []*model.Edit
	for rows.Next() {
		edit := &model.Edit{}
		var rowIndex sql.NullInt64
		var colIndex sql.NullInt64

		err := rows.Scan(
			&edit.ID,
			&edit.TableID,
			&edit.ConnectionID,
			&edit.Kind,
			&rowIndex,
			&colIndex,
			&edit.Value,
			&edit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}

		if rowIndex.Valid {
			row := int(rowIndex.Int64)
			edit.RowIndex = &row
		}
		if colIndex.Valid {
			col := int(colIndex.Int64)
			edit.ColIndex = &col
		}

		edits = append(edits, edit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edits: %w", err)
	}

	return edits, nil
}

// CountByTable returns the number of journal entries for a table.
func (r *EditRepository) CountByTable(ctx context.Context, tableID string) (int, error) {
	query := `SELECT COUNT(*) FROM edits WHERE table_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tableID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count edits: %w", err)
	}
	return count, nil
}
