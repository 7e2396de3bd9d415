package render

import (
	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/view"
)

const truncatedStack = "(truncated stack)"

////////////////////////////////////////////////////////////////////////////////

type block struct {
	parent *block

	// node is nil for synthetic blocks such as the truncation marker.
	node *calltree.Node

	name  string
	level int

	// offset and weight are fractions of the rendered window.
	offset float64
	weight float64

	hidden    bool
	truncated bool
}

type blocksBuilder struct {
	engine *view.Engine
	window view.Window
	span   float64

	minWeight float64
	maxDepth  int

	blocks  []*block
	trimmed int
}

func newBlocksBuilder(engine *view.Engine, minWeight float64, maxDepth int) *blocksBuilder {
	window := engine.State().Zoom
	span := float64(window.Duration())
	if span <= 0 {
		span = 1
	}
	return &blocksBuilder{
		engine:    engine,
		window:    window,
		span:      span,
		minWeight: minWeight,
		maxDepth:  maxDepth,
	}
}

// build lays the visible part of the tree out as blocks. An invisible
// node does not break its branch: descendants render one level up, under
// the nearest visible ancestor.
func (b *blocksBuilder) build() []*block {
	tree := b.engine.Tree()

	root := &block{
		node:   tree.Root,
		name:   tree.Root.Label,
		weight: 1,
	}
	b.blocks = append(b.blocks, root)

	b.walkChildren(tree.Root, root)
	return b.blocks
}

func (b *blocksBuilder) walkChildren(n *calltree.Node, parent *block) {
	if len(n.Children) == 0 {
		return
	}

	if b.maxDepth > 0 && parent.level >= b.maxDepth {
		b.truncate(n, parent)
		return
	}

	for _, c := range n.Children {
		b.walk(c, parent)
	}
}

func (b *blocksBuilder) walk(n *calltree.Node, parent *block) {
	if !b.window.Overlaps(n.Start, n.End) {
		// Children nest inside the parent extent, nothing below can
		// overlap either.
		return
	}

	if !b.engine.Visible(n) {
		b.walkChildren(n, parent)
		return
	}

	offset, weight := b.clip(n.Start, n.End)
	if weight < b.minWeight {
		b.trimmed++
		return
	}

	blk := &block{
		parent: parent,
		node:   n,
		name:   n.Label,
		level:  parent.level + 1,
		offset: offset,
		weight: weight,
		hidden: n.HiddenDepth > 0,
	}
	b.blocks = append(b.blocks, blk)

	b.walkChildren(n, blk)
}

// truncate stands in for everything below the depth limit with a single
// marker block spanning the children's combined extent, which is
// contiguous from the parent's start.
func (b *blocksBuilder) truncate(n *calltree.Node, parent *block) {
	end := n.Children[len(n.Children)-1].End
	if !b.window.Overlaps(n.Start, end) {
		return
	}

	offset, weight := b.clip(n.Start, end)
	if weight < b.minWeight {
		b.trimmed++
		return
	}

	b.blocks = append(b.blocks, &block{
		parent:    parent,
		name:      truncatedStack,
		level:     parent.level + 1,
		offset:    offset,
		weight:    weight,
		truncated: true,
	})
}

func (b *blocksBuilder) clip(start, end int64) (offset, weight float64) {
	start = max(start, b.window.Start)
	end = min(end, b.window.End)
	offset = float64(start-b.window.Start) / b.span
	weight = float64(end-start) / b.span
	return offset, weight
}
