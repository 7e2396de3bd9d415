package sourcemap

import (
	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
)

////////////////////////////////////////////////////////////////////////////////

type CorrelateOptions struct {
	// Markers are the begin/end label pairs that bracket hidden frames.
	Markers []capture.MarkerPair
}

type CorrelateStats struct {
	ResolvedNodes   int64
	UnresolvedRefs  int64
	SourceAbsent    int64
	HiddenNodes     int64
	DanglingMarkers int64
}

////////////////////////////////////////////////////////////////////////////////

// Correlate annotates every node with its resolved source position and its
// hidden-region depth. The tree shape is untouched, so the pass is
// idempotent: re-running it yields identical annotations.
//
// Hiding is determined by the path from the root alone. A begin marker
// opens a region that covers itself and everything below it until the
// matching end marker of the same pair closes it; the end marker is the
// last hidden frame of its region. Nesting counts per pair. An end marker
// with no open region is an ordinary visible frame. A region never closed
// extends to the leaves.
func Correlate(tree *calltree.Tree, store *Store, opts CorrelateOptions) *CorrelateStats {
	stats := &CorrelateStats{}

	begin := make(map[string]int, len(opts.Markers))
	end := make(map[string]int, len(opts.Markers))
	for i, pair := range opts.Markers {
		begin[pair.Begin] = i
		end[pair.End] = i
	}

	counters := make([]int, len(opts.Markers))
	depth := 0

	var walk func(n *calltree.Node)
	walk = func(n *calltree.Node) {
		if !n.Root() {
			annotate(n, store, stats)

			pair, isBegin := begin[n.Label]
			switch {
			case isBegin:
				counters[pair]++
				depth++
				n.HiddenDepth = depth
				defer func() {
					counters[pair]--
					depth--
				}()
			default:
				if pair, isEnd := end[n.Label]; isEnd {
					if counters[pair] > 0 {
						n.HiddenDepth = depth
						counters[pair]--
						depth--
						defer func() {
							counters[pair]++
							depth++
						}()
					} else {
						stats.DanglingMarkers++
						n.HiddenDepth = depth
					}
				} else {
					n.HiddenDepth = depth
				}
			}

			if n.HiddenDepth > 0 {
				stats.HiddenNodes++
			}
		}

		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree.Root)

	return stats
}

func annotate(n *calltree.Node, store *Store, stats *CorrelateStats) {
	switch {
	case !n.Ref.Valid():
		n.Resolved = false
		stats.SourceAbsent++
	case store != nil && store.Resolve(n.Ref):
		n.Resolved = true
		stats.ResolvedNodes++
	default:
		n.Resolved = false
		stats.UnresolvedRefs++
	}
}
