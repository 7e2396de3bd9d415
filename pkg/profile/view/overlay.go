package view

import (
	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
)

////////////////////////////////////////////////////////////////////////////////

// LineStat aggregates the time attributable to one source line. Total
// counts every occurrence of the line on a call path at most once, so a
// recursive function does not multiply its own time. Self is leaf residue
// sampled exactly at that line.
type LineStat struct {
	Total int64 `json:"total"`
	Self  int64 `json:"self"`
}

// LineStats computes per-line gutter annotations from the visible part of
// the tree, over the full extent.
func (e *Engine) LineStats() map[capture.SourceRef]LineStat {
	out := make(map[capture.SourceRef]LineStat)
	onPath := make(map[capture.SourceRef]int)

	var walk func(n *calltree.Node)
	walk = func(n *calltree.Node) {
		counted := false
		if !n.Root() && e.Visible(n) && n.Resolved {
			stat := out[n.Ref]
			stat.Self += n.Self()
			if onPath[n.Ref] == 0 {
				stat.Total += n.Time
			}
			out[n.Ref] = stat

			onPath[n.Ref]++
			counted = true
		}

		for _, c := range n.Children {
			walk(c)
		}

		if counted {
			onPath[n.Ref]--
		}
	}
	walk(e.tree.Root)

	return out
}

////////////////////////////////////////////////////////////////////////////////

// MemoryOverlay describes the collector activity inside the zoom window.
type MemoryOverlay struct {
	// Total is the summed width of visible collector blocks.
	Total int64

	Nodes []*calltree.Node

	// ByLine attributes each collector block to the source line it was
	// triggered under, the nearest visible resolved ancestor.
	ByLine map[capture.SourceRef]int64
}

func (e *Engine) Memory() *MemoryOverlay {
	overlay := &MemoryOverlay{
		ByLine: make(map[capture.SourceRef]int64),
	}

	for _, n := range e.tree.Nodes {
		if !n.MemEvent || !e.Visible(n) || !e.inWindow(n) {
			continue
		}
		overlay.Total += n.Time
		overlay.Nodes = append(overlay.Nodes, n)
		if ref, ok := e.HighlightForNode(n); ok {
			overlay.ByLine[ref] += n.Time
		}
	}
	return overlay
}
