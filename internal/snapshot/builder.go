package snapshot

import (
	"bitwise74/canvas-api/internal/model"
	"bitwise74/canvas-api/internal/store"
	"fmt"
)

// DefaultPalette is the color set offered to clients. Purely advisory,
// draws may use any 6 hex-digit RGB color.
var DefaultPalette = []string{
	"#000000", "#ffffff", "#aaaaaa", "#555555",
	"#fed3c7", "#ffc4ce", "#faac8e", "#ff8b83",
	"#f44336", "#e91e63", "#e2669e", "#9c27b0",
	"#673ab7", "#3f51b5", "#004670", "#057197",
	"#2196f3", "#00bcd4", "#3be5db", "#97fddc",
	"#167300", "#37a93c", "#89e642", "#d7ff07",
	"#fff6d1", "#f8cb8c", "#ffeb3b", "#ffc107",
	"#ff9800", "#ff5722", "#b83f27", "#795548",
}

// Builder assembles snapshots from the canvas store.
type Builder struct {
	Store   *store.CanvasStore
	Palette []string
	// DelayMS mirrors the ledger replenish interval so clients can
	// render their countdown from the snapshot alone
	DelayMS int64
}

func NewBuilder(s *store.CanvasStore, delayMS int64) *Builder {
	return &Builder{
		Store:   s,
		Palette: DefaultPalette,
		DelayMS: delayMS,
	}
}

// Build returns the canvas state past the cursor, or everything when
// the cursor is zero or negative. The header's action count is read
// first so a concurrent draw can only make the cursor conservative,
// never skip actions.
func (b *Builder) Build(since int64) (*Snapshot, error) {
	count, err := b.Store.ActionCount()
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot, %w", err)
	}

	s := &Snapshot{
		ActionCount: uint32(count),
		Delay:       float32(b.DelayMS) / 1000,
		Palette:     b.Palette,
	}

	if since <= 0 {
		cells, err := b.Store.Cells()
		if err != nil {
			return nil, fmt.Errorf("failed to build snapshot, %w", err)
		}

		s.Points = make([]Point, 0, len(cells))
		for _, c := range cells {
			s.Points = append(s.Points, Point{X: c.X, Y: c.Y, Color: c.Color})
		}

		return s, nil
	}

	actions, err := b.Store.ActionsSince(since)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot, %w", err)
	}

	s.Points = dedupeLatest(actions)
	return s, nil
}

// dedupeLatest collapses actions to one point per coordinate, keeping
// the most recent write. Actions arrive in insertion order so the last
// seen entry wins.
func dedupeLatest(actions []model.Action) []Point {
	type key struct{ x, y int }

	latest := make(map[key]int, len(actions))
	points := make([]Point, 0, len(actions))

	for _, a := range actions {
		k := key{a.X, a.Y}

		if i, ok := latest[k]; ok {
			points[i].Color = a.Color
			continue
		}

		latest[k] = len(points)
		points = append(points, Point{X: a.X, Y: a.Y, Color: a.Color})
	}

	return points
}
