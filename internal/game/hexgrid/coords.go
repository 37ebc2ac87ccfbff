// Package hexgrid provides axial hex-grid math and board generation for
// the game. Coordinates use the axial (q, r) convention; the implicit
// cube coordinate is s = -q-r.
package hexgrid

import (
	"fmt"
	"strconv"
	"strings"
)

type Coord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

func (c Coord) S() int { return -c.Q - c.R }

// Directions holds the six axial neighbor offsets, pointy-top order.
var Directions = [6]Coord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

func (c Coord) Add(o Coord) Coord { return Coord{Q: c.Q + o.Q, R: c.R + o.R} }

func (c Coord) Neighbors() [6]Coord {
	var out [6]Coord
	for i, d := range Directions {
		out[i] = c.Add(d)
	}
	return out
}

// Distance is the hex grid distance: the max absolute cube delta.
func Distance(a, b Coord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, max(dr, ds))
}

func Adjacent(a, b Coord) bool { return Distance(a, b) == 1 }

// Key is the canonical string form "q,r". Cell IDs on the wire use it.
func (c Coord) Key() string { return fmt.Sprintf("%d,%d", c.Q, c.R) }

// ParseKey is the inverse of Key.
func ParseKey(s string) (Coord, error) {
	i := strings.IndexByte(s, ',')
	if i < 0 {
		return Coord{}, fmt.Errorf("bad hex key %q", s)
	}
	q, err := strconv.Atoi(s[:i])
	if err != nil {
		return Coord{}, fmt.Errorf("bad hex key %q", s)
	}
	r, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Coord{}, fmt.Errorf("bad hex key %q", s)
	}
	return Coord{Q: q, R: r}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
