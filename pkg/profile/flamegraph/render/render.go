package render

import (
	"bytes"
	"encoding/json"
	"io"
	"math"

	"golang.org/x/exp/slices"

	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render/format"
	"github.com/stackscope/stackscope/pkg/profile/view"
)

const defaultMinWeight = 0.00005

////////////////////////////////////////////////////////////////////////////////

// FlameGraph serializes the visible part of a session into the renderer
// wire format. Geometry honors the session's zoom window and reveal
// state; the tree itself is never touched.
type FlameGraph struct {
	minWeight float64
	maxDepth  int
	eventType string
	fileNamer func(int32) string
}

func NewFlameGraph() *FlameGraph {
	return &FlameGraph{
		minWeight: defaultMinWeight,
		eventType: "time",
	}
}

func (f *FlameGraph) SetMinWeight(value float64) {
	f.minWeight = value
}

func (f *FlameGraph) SetDepthLimit(value int) {
	f.maxDepth = value
}

func (f *FlameGraph) SetSampleType(typ string) {
	f.eventType = typ
}

// SetFileNamer installs the file-id to display-name mapping. Without one,
// blocks carry empty file names.
func (f *FlameGraph) SetFileNamer(namer func(int32) string) {
	f.fileNamer = namer
}

////////////////////////////////////////////////////////////////////////////////

func (f *FlameGraph) Build(engine *view.Engine) *format.Document {
	bb := newBlocksBuilder(engine, f.minWeight, f.maxDepth)
	blocks := bb.build()

	strtab := NewStringTable()

	maxLevel := 0
	for _, block := range blocks {
		if block.level > maxLevel {
			maxLevel = block.level
		}
	}

	blocksByLevels := make([][]*block, maxLevel+1)
	rows := make([][]format.Block, maxLevel+1)

	for _, block := range blocks {
		blocksByLevels[block.level] = append(blocksByLevels[block.level], block)
	}

	compareOffsets := func(a *block, b *block) int {
		// offset is defined on [0, 1), compare fn must return int, so we round it up and add a sign
		// diff (-1, 0) maps to -1
		// diff {0} maps to 0
		// diff (0, 1) maps to 1
		diff := a.offset - b.offset
		return int(math.Copysign(math.Ceil(math.Abs(diff)), diff))
	}

	for _, blocksOnLevel := range blocksByLevels {
		slices.SortFunc(blocksOnLevel, compareOffsets)
	}

	for h, blocksOnLevel := range blocksByLevels {
		for _, currentBlock := range blocksOnLevel {
			parentIndex := -1
			if h > 0 {
				parentIndex, _ = slices.BinarySearchFunc(blocksByLevels[h-1], currentBlock.parent, compareOffsets)
			}

			out := format.Block{
				ParentIndex: parentIndex,
				TextID:      strtab.Add(currentBlock.name),
				NodeID:      -1,
				Offset:      currentBlock.offset,
				Weight:      currentBlock.weight,
				File:        strtab.Add(f.fileName(currentBlock)),
				Hidden:      currentBlock.hidden,
				Truncated:   currentBlock.truncated,
			}
			if n := currentBlock.node; n != nil {
				out.NodeID = n.ID
				out.SampleCount = n.Samples
				out.TotalTime = n.Time
				out.SelfTime = n.Self()
				out.Memory = n.MemEvent
				if n.Resolved {
					out.Line = n.Ref.Line
				}
			}
			rows[currentBlock.level] = append(rows[currentBlock.level], out)
		}
	}

	tree := engine.Tree()
	window := engine.State().Zoom
	return &format.Document{
		Rows:    rows,
		Strings: strtab.Table(),
		Meta: format.Meta{
			Interval:      tree.Interval,
			TotalTime:     tree.TotalTime,
			WindowStart:   window.Start,
			WindowEnd:     window.End,
			EventType:     strtab.Add(f.eventType),
			TrimmedBlocks: bb.trimmed,
			Version:       1,
		},
	}
}

func (f *FlameGraph) fileName(b *block) string {
	if b.node == nil || !b.node.Resolved || f.fileNamer == nil {
		return ""
	}
	return f.fileNamer(b.node.Ref.File)
}

////////////////////////////////////////////////////////////////////////////////

func (f *FlameGraph) Render(engine *view.Engine, w io.Writer) error {
	return json.NewEncoder(w).Encode(f.Build(engine))
}

func (f *FlameGraph) RenderBytes(engine *view.Engine) ([]byte, error) {
	var w bytes.Buffer
	err := f.Render(engine, &w)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
