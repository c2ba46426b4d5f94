// Package validators contains request validation shared by handlers
package validators

import (
	"errors"
	"regexp"
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DrawInput is the structural shape of one cell mutation. Bounds
// against the configured canvas size are checked separately so the
// caller can distinguish a malformed request from an out-of-range one.
type DrawInput struct {
	X int
	Y int
	W int
	H int
	C string
}

// DrawValidator checks structure only: non-negative coordinates, unit
// size and a 6 hex-digit RGB color.
func DrawValidator(in *DrawInput) error {
	if in.X < 0 || in.Y < 0 {
		return errors.New("coordinates can't be negative")
	}

	if in.W != 1 || in.H != 1 {
		return errors.New("only single-cell draws are supported")
	}

	if !colorRe.MatchString(in.C) {
		return errors.New("color must be #rrggbb")
	}

	return nil
}

// InBounds checks a structurally valid coordinate against the canvas
// dimensions.
func InBounds(in *DrawInput, width, height int) bool {
	return in.X < width && in.Y < height
}
