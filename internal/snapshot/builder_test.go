package snapshot

import (
	"bitwise74/canvas-api/internal/model"
	"bitwise74/canvas-api/internal/store"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testBuilder(t *testing.T) (*Builder, *store.CanvasStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.Cell{}, model.Action{}))

	s := store.New(db)
	return NewBuilder(s, 5000), s
}

func record(t *testing.T, s *store.CanvasStore, x, y int, color string) {
	t.Helper()

	require.NoError(t, s.UpsertCell(&model.Cell{X: x, Y: y, Color: color, LastWriter: "u1"}))
	require.NoError(t, s.AppendAction(&model.Action{X: x, Y: y, Color: color, Identity: "u1"}))
}

func TestBuildFull(t *testing.T) {
	b, s := testBuilder(t)

	record(t, s, 0, 0, "#000000")
	record(t, s, 5, 7, "#ffffff")
	record(t, s, 5, 7, "#ff0000") // overwrite, cells stay deduped

	snap, err := b.Build(0)
	require.NoError(t, err)

	assert.EqualValues(t, 3, snap.ActionCount, "header carries the log length, not the cell count")
	assert.InDelta(t, 5.0, snap.Delay, 0.001)
	assert.Len(t, snap.Points, 2)
}

func TestBuildIncremental(t *testing.T) {
	b, s := testBuilder(t)

	record(t, s, 0, 0, "#000000")
	record(t, s, 1, 0, "#111111")

	snap, err := b.Build(0)
	require.NoError(t, err)
	cursor := int64(snap.ActionCount)

	record(t, s, 2, 0, "#222222")
	record(t, s, 3, 0, "#333333")

	inc, err := b.Build(cursor)
	require.NoError(t, err)

	require.Len(t, inc.Points, 2, "only draws past the cursor")
	assert.EqualValues(t, 4, inc.ActionCount)
	assert.Equal(t, Point{X: 2, Y: 0, Color: "#222222"}, inc.Points[0])
	assert.Equal(t, Point{X: 3, Y: 0, Color: "#333333"}, inc.Points[1])
}

func TestBuildIncrementalDedupes(t *testing.T) {
	b, s := testBuilder(t)

	record(t, s, 0, 0, "#000000")
	cursor := int64(1)

	record(t, s, 4, 4, "#111111")
	record(t, s, 4, 4, "#222222")

	inc, err := b.Build(cursor)
	require.NoError(t, err)

	require.Len(t, inc.Points, 1, "rewrites of one coordinate collapse")
	assert.Equal(t, "#222222", inc.Points[0].Color, "latest action wins")
}

func TestBuildNegativeCursorFallsBackToFull(t *testing.T) {
	b, s := testBuilder(t)

	record(t, s, 0, 0, "#000000")

	snap, err := b.Build(-3)
	require.NoError(t, err)
	assert.Len(t, snap.Points, 1)
}

func TestBuildRoundTripThroughCodec(t *testing.T) {
	b, s := testBuilder(t)

	record(t, s, 10, 20, "#abcdef")
	record(t, s, 30, 40, "#012345")

	snap, err := b.Build(0)
	require.NoError(t, err)

	buf, err := Encode(snap)
	require.NoError(t, err)

	out, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, snap.ActionCount, out.ActionCount)
	assert.ElementsMatch(t, snap.Points, out.Points)
}
