// Package path implements the partial-tour value type consumed by the
// branch-and-bound search engine.
//
// A Path is a stack-like sequence of distinct city indices over a fixed
// Graph, always starting at city 0. It is single-owner and not
// goroutine-safe: callers that hand a Path across a goroutine boundary
// must transfer it by value-copy (CopyFrom), never by shared reference.
package path

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gopherbb/tspbb/graph"
)

// ErrDuplicateCity is returned by Add when the city is already present
// in the path.
var ErrDuplicateCity = errors.New("path: city already in path")

// ErrCityOutOfRange is returned by Add when the city index is not a
// valid city of the underlying graph.
var ErrCityOutOfRange = errors.New("path: city index out of range")

// ErrEmptyPath is returned by Pop when the path has no cities to remove.
var ErrEmptyPath = errors.New("path: pop on empty path")

// ErrGraphMismatch is returned by CopyFrom when the source path is over
// a different Graph than the destination.
var ErrGraphMismatch = errors.New("path: graph mismatch")

// Path is an ordered, distinct sequence of city indices over g, always
// starting at city 0 once non-empty. A leaf may be closed by appending
// city 0 once more; that closing 0 is the only repeated city.
type Path struct {
	g       *graph.Graph
	cities  []int
	present []bool // present[i] iff city i is currently in cities
}

// New returns an empty Path over g.
func New(g *graph.Graph) *Path {
	n := g.Size()
	return &Path{
		g:       g,
		cities:  make([]int, 0, n),
		present: make([]bool, n),
	}
}

// Add appends city i to the path. City 0 may be added a second time
// only when the path is a leaf, which closes the tour.
func (p *Path) Add(i int) error {
	if i < 0 || i >= p.g.Size() {
		return fmt.Errorf("%w: %d", ErrCityOutOfRange, i)
	}
	if p.present[i] && !(i == 0 && p.Leaf()) {
		return fmt.Errorf("%w: %d", ErrDuplicateCity, i)
	}
	p.cities = append(p.cities, i)
	p.present[i] = true
	return nil
}

// Pop removes and returns the last city added to the path.
func (p *Path) Pop() (int, error) {
	n := len(p.cities)
	if n == 0 {
		return 0, ErrEmptyPath
	}
	last := p.cities[n-1]
	p.cities = p.cities[:n-1]
	// Popping the closing 0 of a closed tour leaves city 0 at the front.
	if !(last == 0 && p.Leaf()) {
		p.present[last] = false
	}
	return last, nil
}

// Contains reports whether city i is currently in the path.
func (p *Path) Contains(i int) bool {
	if i < 0 || i >= len(p.present) {
		return false
	}
	return p.present[i]
}

// Len returns the number of cities currently in the path.
func (p *Path) Len() int {
	return len(p.cities)
}

// Max returns the number of cities in the underlying graph (N).
func (p *Path) Max() int {
	return p.g.Size()
}

// Leaf reports whether the path has visited every city exactly once
// (length N, cycle not yet closed).
func (p *Path) Leaf() bool {
	return p.Len() == p.Max()
}

// Distance returns the sum of edge weights between consecutive cities
// currently on the path, including the closing edge if the path has
// been closed back to city 0.
func (p *Path) Distance() float64 {
	total := 0.0
	for k := 0; k+1 < len(p.cities); k++ {
		total += p.g.Distance(p.cities[k], p.cities[k+1])
	}
	return total
}

// IntDistance returns Distance rounded to the nearest integer, the cost
// domain the branch-and-bound bound test and best_cost cell operate in.
func (p *Path) IntDistance() int64 {
	return int64(p.Distance() + 0.5)
}

// Cities returns a read-only view of the cities visited so far, in
// visitation order. The caller must not retain or mutate the slice.
func (p *Path) Cities() []int {
	return p.cities
}

// CopyFrom overwrites p with the contents of other. Both paths must be
// over the same Graph.
func (p *Path) CopyFrom(other *Path) error {
	if p.g != other.g {
		return ErrGraphMismatch
	}
	p.cities = append(p.cities[:0], other.cities...)
	copy(p.present, other.present)
	return nil
}

// Clone returns an independent copy of p.
func (p *Path) Clone() *Path {
	clone := New(p.g)
	clone.cities = append(clone.cities, p.cities...)
	copy(clone.present, p.present)
	return clone
}

// Reset empties the path back to zero cities.
func (p *Path) Reset() {
	p.cities = p.cities[:0]
	for i := range p.present {
		p.present[i] = false
	}
}

// String renders the path as "[0 1 2]" for tracing output.
func (p *Path) String() string {
	parts := make([]string, len(p.cities))
	for i, c := range p.cities {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
