package convert

import (
	"fmt"

	"github.com/google/pprof/profile"
	"golang.org/x/exp/slices"

	"github.com/stackscope/stackscope/pkg/profile/capture"
)

////////////////////////////////////////////////////////////////////////////////

type Options struct {
	// SampleType selects the pprof value to aggregate. The profile's
	// default sample type wins otherwise, then the first value.
	SampleType string

	// Interval is the capture interval to record, in the capture's time
	// units.
	Interval int64
}

// PProfToCapture lifts a pprof profile into the interchange form. Source
// positions come from pprof line info; the named files are recorded with
// empty text for a loader to fill. Address-only frames stay as
// source-absent blocks.
func PProfToCapture(prof *profile.Profile, opts Options) (*capture.Capture, error) {
	if len(prof.SampleType) == 0 {
		return nil, fmt.Errorf("convert: profile has no sample types")
	}

	sampleTypeIdx := 0
	want := opts.SampleType
	if want == "" {
		want = prof.DefaultSampleType
	}
	for i, value := range prof.SampleType {
		if value.Type == want {
			sampleTypeIdx = i
			break
		}
	}

	c := &capture.Capture{
		Interval: opts.Interval,
		Samples:  make([]capture.RawSample, 0, len(prof.Sample)),
	}

	fileIDs := make(map[string]int32)
	fileID := func(name string) int32 {
		if name == "" {
			return 0
		}
		id, ok := fileIDs[name]
		if !ok {
			id = int32(len(fileIDs) + 1)
			fileIDs[name] = id
			c.Sources = append(c.Sources, capture.SourceFile{ID: id, Name: name})
		}
		return id
	}

	type rawFrame struct {
		call string
		file string
		line int64
	}

	var tick int64
	for _, sample := range prof.Sample {
		// Locations are leaf first; lines expand inlining with the
		// innermost callee first.
		frames := make([]rawFrame, 0, len(sample.Location))
		for _, loc := range sample.Location {
			for j, line := range loc.Line {
				name := ""
				var file string
				if line.Function != nil {
					name = line.Function.Name
					if name == "" {
						name = line.Function.SystemName
					}
					file = line.Function.Filename
				}
				if j != len(loc.Line)-1 {
					name += " (inlined)"
				}
				frames = append(frames, rawFrame{
					call: name,
					file: file,
					line: line.Line,
				})
			}

			if len(loc.Line) == 0 {
				name := ""
				if loc.Mapping == nil {
					name = fmt.Sprintf("0x%x", loc.Address)
				} else {
					name = fmt.Sprintf("0x%x @%s", loc.Address, loc.Mapping.File)
				}
				frames = append(frames, rawFrame{call: name})
			}
		}
		slices.Reverse(frames)

		out := make([]capture.RawFrame, 0, len(frames))
		for _, f := range frames {
			out = append(out, capture.RawFrame{
				Call: f.call,
				File: fileID(f.file),
				Line: int32(f.line),
			})
		}

		weight := sample.Value[sampleTypeIdx]
		if weight <= 0 {
			weight = 1
		}
		tick += weight * c.EffectiveInterval()
		c.Samples = append(c.Samples, capture.RawSample{
			Time:   tick,
			Weight: weight,
			Frames: out,
		})
	}

	return c, nil
}
