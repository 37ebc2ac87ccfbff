package hexgrid

import (
	"math"
	"math/rand"
	"sort"
)

// Cell is one board hex as generated. Ownership is layered on by the
// game and is not part of geometry.
type Cell struct {
	ID        string `json:"id"`
	Q         int    `json:"q"`
	R         int    `json:"r"`
	DiceValue int    `json:"dice_value"`
	Producer  int    `json:"producer"`
	Seller    int    `json:"seller"`
	Blocked   bool   `json:"blocked"`
}

func (c Cell) Coord() Coord { return Coord{Q: c.Q, R: c.R} }

// Radius picks the board radius for a game: it grows with the square
// root of players*rounds and is clamped to [min, max].
func Radius(players, rounds, min, max int) int {
	n := players * rounds
	if n < 1 {
		n = 1
	}
	r := int(math.Ceil(math.Sqrt(float64(n))))
	if r < min {
		r = min
	}
	if r > max {
		r = max
	}
	return r
}

// Generate builds a hexagonal board of the given radius: every axial
// coordinate with max(|q|,|r|,|s|) <= radius. Each cell gets a die face
// 1..6 and producer/seller values 1..9. Roughly blockFraction of the
// cells are blocked, and the result always keeps at least six unblocked
// cells with every die face 1..6 represented among them.
func Generate(rng *rand.Rand, radius int, blockFraction float64) []Cell {
	if radius < 1 {
		radius = 1
	}
	var cells []Cell
	for q := -radius; q <= radius; q++ {
		for r := -radius; r <= radius; r++ {
			c := Coord{Q: q, R: r}
			if abs(c.S()) > radius {
				continue
			}
			cells = append(cells, Cell{
				ID:        c.Key(),
				Q:         q,
				R:         r,
				DiceValue: 1 + rng.Intn(6),
				Producer:  1 + rng.Intn(9),
				Seller:    1 + rng.Intn(9),
				Blocked:   rng.Float64() < blockFraction,
			})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Q != cells[j].Q {
			return cells[i].Q < cells[j].Q
		}
		return cells[i].R < cells[j].R
	})

	ensureUnblocked(rng, cells, 6)
	ensureAllFaces(rng, cells)
	return cells
}

// ensureUnblocked unblocks random cells until at least n are open.
func ensureUnblocked(rng *rand.Rand, cells []Cell, n int) {
	open := 0
	for i := range cells {
		if !cells[i].Blocked {
			open++
		}
	}
	for open < n && open < len(cells) {
		i := rng.Intn(len(cells))
		if cells[i].Blocked {
			cells[i].Blocked = false
			open++
		}
	}
}

// ensureAllFaces rewrites die faces on random unblocked cells until every
// face 1..6 appears among the unblocked set at least once.
func ensureAllFaces(rng *rand.Rand, cells []Cell) {
	unblocked := make([]int, 0, len(cells))
	for i := range cells {
		if !cells[i].Blocked {
			unblocked = append(unblocked, i)
		}
	}
	if len(unblocked) < 6 {
		return
	}
	for {
		var have [7]int
		for _, i := range unblocked {
			have[cells[i].DiceValue]++
		}
		missing := 0
		for face := 1; face <= 6; face++ {
			if have[face] == 0 {
				missing = face
				break
			}
		}
		if missing == 0 {
			return
		}
		// Steal a face that appears more than once so no other face goes missing.
		for {
			i := unblocked[rng.Intn(len(unblocked))]
			if have[cells[i].DiceValue] > 1 {
				cells[i].DiceValue = missing
				break
			}
		}
	}
}
