package room

import (
	"hash/fnv"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// palette hands out cursor colors for one room. Hues step around the
// circle by the golden ratio from a start derived from the board id, so
// consecutive joiners get distant colors. Guarded by Room.mu.
type palette struct {
	hue float64 // in [0, 1)
}

func newPalette(boardID string) *palette {
	h := fnv.New32a()
	h.Write([]byte(boardID))
	return &palette{hue: float64(h.Sum32()) / (math.MaxUint32 + 1)}
}

func (p *palette) next() string {
	c := colorful.Hsl(p.hue*360, 0.85, 0.55)
	p.hue = math.Mod(p.hue+goldenRatio, 1)
	return c.Hex()
}
