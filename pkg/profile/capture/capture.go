package capture

import (
	"encoding/json"
	"fmt"
	"io"
)

////////////////////////////////////////////////////////////////////////////////

const (
	// DefaultInterval is the sampling interval assumed when a capture does
	// not record one, in the capture's own time units.
	DefaultInterval = 10

	// Conventional marker labels emitted by instrumented runtimes around
	// frames that should stay out of the default rendering.
	DefaultHideBeginMarker = "..stacktraceoff.."
	DefaultHideEndMarker   = "..stacktraceon.."
)

////////////////////////////////////////////////////////////////////////////////

// SourceRef locates a source line inside one of the capture's source files.
// The zero value means the position is unknown.
type SourceRef struct {
	File int32 `json:"file"`
	Line int32 `json:"line"`
}

func (r SourceRef) Valid() bool {
	return r.File > 0 && r.Line > 0
}

func (r SourceRef) String() string {
	if !r.Valid() {
		return "?"
	}
	return fmt.Sprintf("%d:%d", r.File, r.Line)
}

// RawFrame is a single stack entry exactly as the profiler recorded it,
// before any label normalization.
type RawFrame struct {
	Call string `json:"call"`
	File int32  `json:"file,omitempty"`
	Line int32  `json:"line,omitempty"`
}

func (f RawFrame) Ref() SourceRef {
	return SourceRef{File: f.File, Line: f.Line}
}

// RawSample is one sampling tick. Frames are ordered root first.
// Weight is the number of ticks this sample stands for; zero means one.
type RawSample struct {
	Time   int64      `json:"time"`
	Weight int64      `json:"weight,omitempty"`
	Frames []RawFrame `json:"frames"`
}

func (s RawSample) EffectiveWeight() int64 {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// SourceFile is one file referenced by frame source positions. Text may be
// empty when only the name is known.
type SourceFile struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
	Text string `json:"text,omitempty"`
}

// MarkerPair names two frame labels that bracket a region of frames hidden
// from the default rendering. Begin opens the region and End closes it,
// in root-to-leaf stack order.
type MarkerPair struct {
	Begin string `json:"begin" yaml:"begin"`
	End   string `json:"end" yaml:"end"`
}

func DefaultHideMarkers() []MarkerPair {
	return []MarkerPair{{Begin: DefaultHideBeginMarker, End: DefaultHideEndMarker}}
}

////////////////////////////////////////////////////////////////////////////////

// Capture is the interchange form of one profiling run: the raw samples
// plus everything needed to correlate them back to source code.
type Capture struct {
	// Interval is the sampling interval in the capture's time units.
	Interval int64 `json:"interval,omitempty"`

	Samples []RawSample  `json:"samples"`
	Sources []SourceFile `json:"sources,omitempty"`

	HideMarkers []MarkerPair `json:"hideMarkers,omitempty"`

	// InitialHidden overrides whether marker-hidden frames start collapsed.
	// Unset means collapsed whenever any marker pair matched.
	InitialHidden *bool `json:"initialHidden,omitempty"`
}

func (c *Capture) EffectiveInterval() int64 {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

func (c *Capture) EffectiveHideMarkers() []MarkerPair {
	if c.HideMarkers == nil {
		return DefaultHideMarkers()
	}
	return c.HideMarkers
}

// Source returns the source file with the given id, or nil.
func (c *Capture) Source(id int32) *SourceFile {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func Decode(r io.Reader) (*Capture, error) {
	var c Capture
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("capture: malformed input: %w", err)
	}
	return &c, nil
}

func Encode(w io.Writer, c *Capture) error {
	enc := json.NewEncoder(w)
	return enc.Encode(c)
}

func Unmarshal(data []byte) (*Capture, error) {
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("capture: malformed input: %w", err)
	}
	return &c, nil
}

func Marshal(c *Capture) ([]byte, error) {
	return json.Marshal(c)
}
