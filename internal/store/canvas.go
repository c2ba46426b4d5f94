// Package store persists canvas cells and the append-only action log
package store

import (
	"bitwise74/canvas-api/internal/model"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CanvasStore struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *CanvasStore {
	return &CanvasStore{DB: db}
}

// UpsertCell writes the current state of one coordinate. The conflict
// target is the (x, y) primary key so repeated writes stay idempotent
// and the latest writer wins regardless of arrival order.
func (s *CanvasStore) UpsertCell(cell *model.Cell) error {
	err := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "x"}, {Name: "y"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"color", "last_writer", "updated_at",
		}),
	}).Create(cell).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cell (%d, %d), %w", cell.X, cell.Y, err)
	}

	return nil
}

// AppendAction records an accepted draw. Rows are insert-only.
func (s *CanvasStore) AppendAction(action *model.Action) error {
	if err := s.DB.Create(action).Error; err != nil {
		return fmt.Errorf("failed to append action, %w", err)
	}

	return nil
}

// Cells returns the whole current canvas state.
func (s *CanvasStore) Cells() ([]model.Cell, error) {
	var cells []model.Cell

	err := s.DB.
		Model(model.Cell{}).
		Select("x", "y", "color").
		Find(&cells).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to query cells, %w", err)
	}

	return cells, nil
}

// ActionCount returns the length of the action log, which clients use
// as the resume cursor for incremental snapshots.
func (s *CanvasStore) ActionCount() (int64, error) {
	var count int64

	err := s.DB.
		Model(model.Action{}).
		Count(&count).
		Error
	if err != nil {
		return 0, fmt.Errorf("failed to count actions, %w", err)
	}

	return count, nil
}

// ActionsSince returns all actions past the given offset cursor in
// insertion order. Offset reads get slow on a huge log but the cursor
// has no other stable form without a client-visible sequence ID.
func (s *CanvasStore) ActionsSince(cursor int64) ([]model.Action, error) {
	var actions []model.Action

	err := s.DB.
		Model(model.Action{}).
		Order("id").
		Offset(int(cursor)).
		Find(&actions).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to query actions since %d, %w", cursor, err)
	}

	return actions, nil
}
