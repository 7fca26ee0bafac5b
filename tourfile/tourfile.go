// Package tourfile provides reference-tour generation and tour
// formatting shared by the search engine and the CLI: the identity tour
// used to seed best_cost before a search starts, and the
// "shortest <sequence> (<distance>)" rendering of a finished result.
package tourfile

import (
	"fmt"
	"strings"

	"github.com/gopherbb/tspbb/graph"
	"github.com/gopherbb/tspbb/path"
)

// IdentityTour returns the closed tour 0,1,...,N-1,0 over g. Its
// IntDistance includes the closing edge back to city 0, matching every
// other closed tour the search engine produces.
func IdentityTour(g *graph.Graph) *path.Path {
	p := path.New(g)
	for i := 0; i < g.Size(); i++ {
		_ = p.Add(i)
	}
	_ = p.Add(0)
	return p
}

// FormatSequence renders a closed tour's city sequence as
// space-separated indices, e.g. "0 2 1 0".
func FormatSequence(tour []int) string {
	parts := make([]string, len(tour))
	for i, c := range tour {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return strings.Join(parts, " ")
}

// FormatResult renders the "shortest <sequence> (<distance>)" stdout
// contract.
func FormatResult(tour []int, distance int64) string {
	return fmt.Sprintf("shortest %s (%d)", FormatSequence(tour), distance)
}
