package store

import (
	"bitwise74/canvas-api/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *CanvasStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(model.Cell{}, model.Action{}, model.UserSession{}))

	return New(db)
}

func TestUpsertCellIdempotent(t *testing.T) {
	s := testStore(t)

	cell := &model.Cell{X: 3, Y: 4, Color: "#ff0000", LastWriter: "u1", CreatedAt: 100, UpdatedAt: 100}
	require.NoError(t, s.UpsertCell(cell))
	require.NoError(t, s.UpsertCell(cell))

	cells, err := s.Cells()
	require.NoError(t, err)
	require.Len(t, cells, 1, "same coordinate must stay one row")
	assert.Equal(t, "#ff0000", cells[0].Color)
}

func TestUpsertCellLastWriteWins(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.UpsertCell(&model.Cell{X: 1, Y: 1, Color: "#000000", LastWriter: "u1", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, s.UpsertCell(&model.Cell{X: 1, Y: 1, Color: "#ffffff", LastWriter: "u2", CreatedAt: 2, UpdatedAt: 2}))

	var cell model.Cell
	require.NoError(t, s.DB.Where("x = ? AND y = ?", 1, 1).First(&cell).Error)

	assert.Equal(t, "#ffffff", cell.Color)
	assert.Equal(t, "u2", cell.LastWriter)
	assert.EqualValues(t, 2, cell.UpdatedAt)
	assert.EqualValues(t, 1, cell.CreatedAt, "creation timestamp survives overwrites")
}

func TestActionLogAppendOnly(t *testing.T) {
	s := testStore(t)

	for i := range 5 {
		require.NoError(t, s.AppendAction(&model.Action{X: i, Y: 0, Color: "#000000", Identity: "u1", CreatedAt: int64(i)}))
	}

	count, err := s.ActionCount()
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestActionsSince(t *testing.T) {
	s := testStore(t)

	for i := range 6 {
		require.NoError(t, s.AppendAction(&model.Action{X: i, Y: i, Color: "#123456", Identity: "u1", CreatedAt: int64(i)}))
	}

	actions, err := s.ActionsSince(4)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	assert.Equal(t, 4, actions[0].X)
	assert.Equal(t, 5, actions[1].X)
}

func TestActionsSincePastEnd(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.AppendAction(&model.Action{X: 0, Y: 0, Color: "#000000", Identity: "u1"}))

	actions, err := s.ActionsSince(10)
	require.NoError(t, err)
	assert.Empty(t, actions)
}
