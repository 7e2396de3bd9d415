package view

import (
	"golang.org/x/exp/maps"

	"github.com/stackscope/stackscope/pkg/profile/calltree"
)

////////////////////////////////////////////////////////////////////////////////

// Window is a half-open interval on the aggregated time axis.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w Window) Duration() int64 {
	return w.End - w.Start
}

func (w Window) Empty() bool {
	return w.End <= w.Start
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end int64) bool {
	return end > w.Start && start < w.End
}

////////////////////////////////////////////////////////////////////////////////

// State is the mutable view state of one visualization session. It has a
// single writer, the session's event dispatch; queries only read it.
type State struct {
	Hovered *calltree.Node
	Locked  *calltree.Node

	// Zoom is the rendered extent, full extent by default. Zooming never
	// mutates the tree.
	Zoom Window

	// RevealHidden shows marker-hidden frames without re-aggregating.
	RevealHidden bool

	// CollapsedLabels removes every node with a matching label from the
	// rendered view regardless of marker regions.
	CollapsedLabels map[string]struct{}
}

func (s *State) clone() State {
	out := *s
	out.CollapsedLabels = maps.Clone(s.CollapsedLabels)
	return out
}
