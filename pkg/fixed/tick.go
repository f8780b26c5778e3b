package fixed

// RoundMode controls the direction of RoundToTick.
type RoundMode int

const (
	RoundNearest RoundMode = iota
	RoundUp
	RoundDown
)

// RoundToTick snaps p to the instrument tick grid. Exchanges quote index
// options on a 0.05 grid; fills must land on it.
func RoundToTick(p, tick Point, mode RoundMode) Point {
	if tick.IsZero() {
		return p
	}
	q := p.Div(tick)
	n := q.Rescale(0) // half-even
	switch mode {
	case RoundUp:
		if n.Mul(tick).Lt(p) {
			n = n.Add(One)
		}
	case RoundDown:
		if n.Mul(tick).Gt(p) {
			n = n.Sub(One)
		}
	}
	return n.Mul(tick)
}
