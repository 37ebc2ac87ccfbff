package room

import "fmt"

// assignColor picks a display color for a new player: random candidates
// are scored by their minimum perceptual distance to the colors already
// in use, and the farthest-apart candidate wins.
func (r *Room) assignColor() string {
	existing := make([][3]int, 0, len(r.order))
	for _, id := range r.order {
		existing = append(existing, parseColor(r.players[id].Color))
	}

	best := ""
	bestScore := -1
	for i := 0; i < 64; i++ {
		c := [3]int{32 + r.rng.Intn(192), 32 + r.rng.Intn(192), 32 + r.rng.Intn(192)}
		score := int(^uint(0) >> 1)
		for _, e := range existing {
			if d := colorDist(c, e); d < score {
				score = d
			}
		}
		if score > bestScore {
			bestScore = score
			best = fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
		}
	}
	return best
}

// colorDist is a cheap perceptual distance: squared channel deltas
// weighted toward green, roughly matching luminance sensitivity.
func colorDist(a, b [3]int) int {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return 2*dr*dr + 4*dg*dg + 3*db*db
}

func parseColor(s string) [3]int {
	var r, g, b int
	fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b)
	return [3]int{r, g, b}
}
