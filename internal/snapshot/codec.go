// Package snapshot implements the binary canvas transfer format.
//
// Layout, all integers little-endian:
//
//	actionCount uint32
//	delay       float32 (seconds)
//	paletteSize uint8
//	palette     paletteSize * (r, g, b uint8)
//	pointCount  uint32
//	points      pointCount * (x uint16, y uint16, r, g, b uint8)
//
// Fixed-width packing only, no compression. The point of the format is
// to keep tens of thousands of cells cheap to ship and parse compared
// to a JSON body.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var ErrTruncated = errors.New("snapshot buffer truncated")

const (
	headerSize = 4 + 4 + 1
	pointSize  = 7
)

// Point is one encoded cell. Color is "#rrggbb".
type Point struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"c"`
}

type Snapshot struct {
	// ActionCount is the action log length at encode time. Clients
	// hand it back as the ?since= cursor to resume.
	ActionCount uint32
	// Delay is the replenish interval in seconds
	Delay   float32
	Palette []string
	Points  []Point
}

func Encode(s *Snapshot) ([]byte, error) {
	if len(s.Palette) > 255 {
		return nil, fmt.Errorf("palette has %d colors, max is 255", len(s.Palette))
	}

	size := headerSize + len(s.Palette)*3 + 4 + len(s.Points)*pointSize
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], s.ActionCount)
	off += 4

	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(s.Delay))
	off += 4

	buf[off] = uint8(len(s.Palette))
	off++

	for _, c := range s.Palette {
		r, g, b, err := splitColor(c)
		if err != nil {
			return nil, err
		}
		buf[off], buf[off+1], buf[off+2] = r, g, b
		off += 3
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Points)))
	off += 4

	for _, p := range s.Points {
		if p.X < 0 || p.X > math.MaxUint16 || p.Y < 0 || p.Y > math.MaxUint16 {
			return nil, fmt.Errorf("point (%d, %d) does not fit uint16 coordinates", p.X, p.Y)
		}

		binary.LittleEndian.PutUint16(buf[off:], uint16(p.X))
		off += 2
		binary.LittleEndian.PutUint16(buf[off:], uint16(p.Y))
		off += 2

		r, g, b, err := splitColor(p.Color)
		if err != nil {
			return nil, err
		}
		buf[off], buf[off+1], buf[off+2] = r, g, b
		off += 3
	}

	return buf, nil
}

// Decode is the structural inverse of Encode.
func Decode(buf []byte) (*Snapshot, error) {
	if len(buf) < headerSize {
		return nil, ErrTruncated
	}

	s := &Snapshot{}
	off := 0

	s.ActionCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	s.Delay = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	paletteSize := int(buf[off])
	off++

	if len(buf) < off+paletteSize*3+4 {
		return nil, ErrTruncated
	}

	s.Palette = make([]string, 0, paletteSize)
	for range paletteSize {
		s.Palette = append(s.Palette, joinColor(buf[off], buf[off+1], buf[off+2]))
		off += 3
	}

	pointCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) < off+pointCount*pointSize {
		return nil, ErrTruncated
	}

	s.Points = make([]Point, 0, pointCount)
	for range pointCount {
		p := Point{
			X: int(binary.LittleEndian.Uint16(buf[off:])),
			Y: int(binary.LittleEndian.Uint16(buf[off+2:])),
		}
		p.Color = joinColor(buf[off+4], buf[off+5], buf[off+6])
		off += pointSize

		s.Points = append(s.Points, p)
	}

	return s, nil
}

func splitColor(c string) (r, g, b byte, err error) {
	if len(c) > 0 && c[0] == '#' {
		c = c[1:]
	}

	if len(c) != 6 {
		return 0, 0, 0, fmt.Errorf("malformed color %q", c)
	}

	n, err := strconv.ParseUint(c, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed color %q", c)
	}

	return byte(n >> 16), byte(n >> 8), byte(n), nil
}

func joinColor(r, g, b byte) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
