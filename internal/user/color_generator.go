package user

import (
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// ColorGenerator: hands out well-separated cursor colors, stable per participant
type ColorGenerator struct {
	counter  int
	assigned map[string]string
	mu       sync.Mutex
}

func NewColorGenerator() *ColorGenerator {
	return &ColorGenerator{assigned: make(map[string]string)}
}

// NextColor: next color in the golden-ratio hue sequence
func (cg *ColorGenerator) NextColor() string {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.next()
}

// Assign: color for id, allocated on first use and kept afterwards
func (cg *ColorGenerator) Assign(id string) string {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	if c, ok := cg.assigned[id]; ok {
		return c
	}
	c := cg.next()
	cg.assigned[id] = c
	return c
}

// Lookup: color previously assigned to id, or ""
func (cg *ColorGenerator) Lookup(id string) string {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.assigned[id]
}

func (cg *ColorGenerator) next() string {
	hue := float64(cg.counter) * goldenRatio
	hue -= float64(int(hue)) // fractional part
	cg.counter++

	return colorful.Hsl(hue*360, 0.85, 0.55).Hex()
}
