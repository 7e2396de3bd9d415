package calltree

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/parse"
)

// RootLabel names the synthetic node that accounts for total elapsed time.
const RootLabel = "all"

////////////////////////////////////////////////////////////////////////////////

// Node is one aggregated call path. All samples whose stacks share the
// path from the root down to this node are merged into it.
//
// Children are frozen in identity order once the tree is built, so two
// trees aggregated from the same multiset of samples are identical no
// matter how the samples were ordered.
type Node struct {
	// ID is the node's index in Tree.Nodes, assigned in preorder.
	ID    int
	Label string

	// Ref is the source position recorded in the sampled frame itself,
	// the line active in that frame's evaluation context. Zero when the
	// frame carried none.
	Ref capture.SourceRef

	Depth    int
	Parent   *Node
	Children []*Node

	// Samples is the weighted count of samples whose path ends at or
	// passes through this node. Time is Samples times the interval.
	Samples int64
	Time    int64

	// Start and End bound the node's extent on the aggregated time
	// axis, half-open. A node's children pack left inside its extent;
	// the tail gap is leaf residue.
	Start int64
	End   int64

	MemEvent bool

	// Correlation metadata, attached after construction.
	Resolved    bool
	HiddenDepth int

	children map[nodeKey]*Node
}

type nodeKey struct {
	label string
	file  int32
	line  int32
	mem   bool
}

// Self is the leaf residue: time sampled exactly at this frame with no
// deeper call recorded.
func (n *Node) Self() int64 {
	t := n.Time
	for _, c := range n.Children {
		t -= c.Time
	}
	return t
}

func (n *Node) SelfSamples() int64 {
	s := n.Samples
	for _, c := range n.Children {
		s -= c.Samples
	}
	return s
}

func (n *Node) Root() bool {
	return n.Parent == nil
}

// Walk visits the subtree in preorder. Returning false prunes the
// node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

////////////////////////////////////////////////////////////////////////////////

// Tree is the aggregated profile. It is immutable after Build except for
// the correlation metadata on nodes.
type Tree struct {
	Root *Node

	// Nodes lists every node in preorder, Nodes[i].ID == i.
	Nodes []*Node

	Interval    int64
	TotalWeight int64
	TotalTime   int64
}

func (t *Tree) NodeByID(id int) *Node {
	if id < 0 || id >= len(t.Nodes) {
		return nil
	}
	return t.Nodes[id]
}

////////////////////////////////////////////////////////////////////////////////

// Build merges the sample stream into a weighted call tree. Zero samples
// produce a valid empty tree.
func Build(profile *parse.Profile) *Tree {
	tree := &Tree{
		Root: &Node{
			Label:    RootLabel,
			children: make(map[nodeKey]*Node),
		},
		Interval: profile.Interval,
	}

	for _, sample := range profile.Samples {
		tree.addSample(sample)
	}

	tree.freeze()
	return tree
}

func (t *Tree) addSample(sample parse.Sample) {
	weight := sample.Weight
	if weight <= 0 {
		weight = 1
	}
	t.TotalWeight += weight
	t.Root.Samples += weight

	cur := t.Root
	for _, frame := range sample.Frames {
		key := nodeKey{
			label: frame.Label,
			file:  frame.Ref.File,
			line:  frame.Ref.Line,
			mem:   frame.MemEvent,
		}
		child := cur.children[key]
		if child == nil {
			child = &Node{
				Label:    frame.Label,
				Ref:      frame.Ref,
				Depth:    cur.Depth + 1,
				Parent:   cur,
				MemEvent: frame.MemEvent,
				children: make(map[nodeKey]*Node),
			}
			cur.children[key] = child
		}
		child.Samples += weight
		cur = child
	}
}

// freeze fixes child order, assigns preorder ids and lays nodes out on
// the aggregated time axis.
func (t *Tree) freeze() {
	t.TotalTime = t.TotalWeight * t.Interval
	t.Root.Time = t.TotalTime
	t.Root.End = t.TotalTime

	t.Nodes = t.Nodes[:0]
	var dfs func(n *Node)
	dfs = func(n *Node) {
		n.ID = len(t.Nodes)
		t.Nodes = append(t.Nodes, n)

		n.Children = make([]*Node, 0, len(n.children))
		for _, c := range n.children {
			n.Children = append(n.Children, c)
		}
		n.children = nil
		slices.SortFunc(n.Children, compareNodes)

		cursor := n.Start
		for _, c := range n.Children {
			c.Time = c.Samples * t.Interval
			c.Start = cursor
			c.End = cursor + c.Time
			cursor = c.End
			dfs(c)
		}
	}
	dfs(t.Root)
}

func compareNodes(a, b *Node) int {
	if c := cmp.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Ref.File, b.Ref.File); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Ref.Line, b.Ref.Line); c != 0 {
		return c
	}
	if a.MemEvent != b.MemEvent {
		if a.MemEvent {
			return 1
		}
		return -1
	}
	return 0
}
