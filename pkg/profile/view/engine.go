package view

import (
	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
)

////////////////////////////////////////////////////////////////////////////////

type Options struct {
	// RevealHidden starts the session with marker-hidden frames shown.
	RevealHidden bool

	// CollapsedLabels are collapsed from the start.
	CollapsedLabels []string
}

// Engine answers interactive queries over one immutable call tree. All
// queries are pure projections of (tree, state): the same state snapshot
// always produces the same answer. The engine itself is not safe for
// concurrent mutation, state changes must stay on one dispatch goroutine.
type Engine struct {
	tree   *calltree.Tree
	state  State
	byLine map[capture.SourceRef][]*calltree.Node
}

func NewEngine(tree *calltree.Tree, opts Options) *Engine {
	e := &Engine{
		tree: tree,
		state: State{
			Zoom:            Window{End: tree.TotalTime},
			RevealHidden:    opts.RevealHidden,
			CollapsedLabels: make(map[string]struct{}, len(opts.CollapsedLabels)),
		},
		byLine: make(map[capture.SourceRef][]*calltree.Node),
	}
	for _, l := range opts.CollapsedLabels {
		e.state.CollapsedLabels[l] = struct{}{}
	}

	// Hidden nodes are indexed too: revealing them must not require a
	// rebuild.
	for _, n := range tree.Nodes {
		if n.Resolved {
			e.byLine[n.Ref] = append(e.byLine[n.Ref], n)
		}
	}
	return e
}

func (e *Engine) Tree() *calltree.Tree {
	return e.tree
}

// State returns a snapshot of the current view state.
func (e *Engine) State() State {
	return e.state.clone()
}

////////////////////////////////////////////////////////////////////////////////
// Mutations.

// Hover sets the hover target. A locked selection takes precedence, so
// hovering while locked is a no-op. A nil node clears the hover.
func (e *Engine) Hover(n *calltree.Node) {
	if e.state.Locked != nil {
		return
	}
	e.state.Hovered = n
}

// Lock toggles the locked selection: locking the locked node unlocks it.
func (e *Engine) Lock(n *calltree.Node) {
	if n == e.state.Locked {
		e.state.Locked = nil
		return
	}
	e.state.Locked = n
}

func (e *Engine) ClearLock() {
	e.state.Locked = nil
}

// ZoomTo clamps the window to the tree extent. A window that clamps to
// nothing is ignored.
func (e *Engine) ZoomTo(w Window) {
	w.Start = max(w.Start, 0)
	w.End = min(w.End, e.tree.TotalTime)
	if w.Empty() {
		return
	}
	e.state.Zoom = w
}

func (e *Engine) ResetZoom() {
	e.state.Zoom = Window{End: e.tree.TotalTime}
}

func (e *Engine) SetRevealHidden(reveal bool) {
	e.state.RevealHidden = reveal
}

func (e *Engine) SetLabelCollapsed(label string, collapsed bool) {
	if collapsed {
		e.state.CollapsedLabels[label] = struct{}{}
	} else {
		delete(e.state.CollapsedLabels, label)
	}
}

////////////////////////////////////////////////////////////////////////////////
// Queries.

// Selected returns the node interaction should describe: the locked node
// when present, the hovered node otherwise.
func (e *Engine) Selected() *calltree.Node {
	if e.state.Locked != nil {
		return e.state.Locked
	}
	return e.state.Hovered
}

// Visible reports whether the node participates in the current rendering
// and highlight computation.
func (e *Engine) Visible(n *calltree.Node) bool {
	if n.Root() {
		return true
	}
	if _, collapsed := e.state.CollapsedLabels[n.Label]; collapsed {
		return false
	}
	return n.HiddenDepth == 0 || e.state.RevealHidden
}

func (e *Engine) inWindow(n *calltree.Node) bool {
	return e.state.Zoom.Overlaps(n.Start, n.End)
}

// VisibleNodes returns every visible node intersecting the zoom window,
// in preorder. Invisible nodes do not prune their subtrees, their
// descendants still render shifted down.
func (e *Engine) VisibleNodes() []*calltree.Node {
	var out []*calltree.Node
	for _, n := range e.tree.Nodes {
		if n.Root() {
			continue
		}
		if e.Visible(n) && e.inWindow(n) {
			out = append(out, n)
		}
	}
	return out
}

// HighlightForLine returns the graph blocks to light up when the user
// hovers one source line: every visible in-window node whose frame
// resolved to exactly that line.
func (e *Engine) HighlightForLine(file int32, line int32) []*calltree.Node {
	var out []*calltree.Node
	for _, n := range e.byLine[capture.SourceRef{File: file, Line: line}] {
		if e.Visible(n) && e.inWindow(n) {
			out = append(out, n)
		}
	}
	return out
}

// HighlightForNode returns the source line that called the node: the
// resolved position of its nearest visible ancestor, not the node's own
// line. The second result is false when no such line exists.
func (e *Engine) HighlightForNode(n *calltree.Node) (capture.SourceRef, bool) {
	if n == nil {
		return capture.SourceRef{}, false
	}
	for p := n.Parent; p != nil && !p.Root(); p = p.Parent {
		if !e.Visible(p) {
			continue
		}
		if p.Resolved {
			return p.Ref, true
		}
		// The nearest visible ancestor carries no source, so the call
		// site is unknown. Climbing further would name a line that
		// did not make this call.
		return capture.SourceRef{}, false
	}
	return capture.SourceRef{}, false
}
