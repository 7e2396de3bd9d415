package format

// Document is the wire form of one rendered flame graph: blocks grouped
// by depth row, all strings interned into one table.
type Document struct {
	Rows    [][]Block `json:"rows"`
	Strings []string  `json:"stringTable"`
	Meta    Meta      `json:"meta"`
}

type StringIndex = int

type Meta struct {
	Interval    int64       `json:"interval"`
	TotalTime   int64       `json:"totalTime"`
	WindowStart int64       `json:"windowStart"`
	WindowEnd   int64       `json:"windowEnd"`
	EventType   StringIndex `json:"eventType"`

	// TrimmedBlocks counts blocks dropped below the minimum width.
	TrimmedBlocks int `json:"trimmedBlocks,omitempty"`

	Version int `json:"version"`
}

type Block struct {
	ParentIndex int         `json:"parentIndex"`
	TextID      StringIndex `json:"textId"`

	// NodeID addresses the call-tree node behind the block in follow-up
	// interaction queries. Synthetic blocks carry -1.
	NodeID int `json:"nodeId"`

	// Offset and Weight position the block inside the rendered window,
	// both fractions of the window width.
	Offset float64 `json:"offset"`
	Weight float64 `json:"weight"`

	SampleCount int64 `json:"sampleCount"`
	TotalTime   int64 `json:"totalTime"`
	SelfTime    int64 `json:"selfTime"`

	File StringIndex `json:"file"`
	Line int32       `json:"line,omitempty"`

	Memory    bool `json:"memory,omitempty"`
	Hidden    bool `json:"hidden,omitempty"`
	Truncated bool `json:"truncated,omitempty"`
}
