package parse

import (
	"fmt"

	"github.com/stackscope/stackscope/pkg/profile/capture"
)

////////////////////////////////////////////////////////////////////////////////

// Frame is one normalized stack entry.
type Frame struct {
	Label    string
	Ref      capture.SourceRef
	MemEvent bool
}

// Sample is one normalized sampling tick, frames root first.
type Sample struct {
	Time   int64
	Weight int64
	Frames []Frame
}

// Profile is the normalized event stream consumed by the aggregator.
type Profile struct {
	Interval    int64
	Samples     []Sample
	TotalWeight int64
}

////////////////////////////////////////////////////////////////////////////////

type Options struct {
	// Interval overrides the capture's sampling interval when positive.
	Interval int64

	// ElideFrame drops every frame whose resolved label matches.
	// Runtime-internal frames between a user call and its target vary by
	// profiler version, so the predicate is configuration, not policy.
	ElideFrame func(label string) bool
}

// Stats counts what the parser saw and what it discarded. Parsing never
// fails on malformed content, it degrades and counts.
type Stats struct {
	TotalSamples     int64
	TotalFrames      int64
	MalformedSamples int64
	DroppedOperators int64
	ElidedFrames     int64
	AnonymousCalls   int64
	MemoryEvents     int64
	UnknownFileRefs  int64

	Errors []error
}

func (s *Stats) Merge(other *Stats) {
	s.TotalSamples += other.TotalSamples
	s.TotalFrames += other.TotalFrames
	s.MalformedSamples += other.MalformedSamples
	s.DroppedOperators += other.DroppedOperators
	s.ElidedFrames += other.ElidedFrames
	s.AnonymousCalls += other.AnonymousCalls
	s.MemoryEvents += other.MemoryEvents
	s.UnknownFileRefs += other.UnknownFileRefs
	s.Errors = append(s.Errors, other.Errors...)
}

////////////////////////////////////////////////////////////////////////////////

// Parse normalizes a raw capture into the event stream: labels resolved,
// operator frames dropped, memory pseudo-frames flagged. Samples with an
// empty stack are skipped and counted, never fatal.
func Parse(c *capture.Capture, opts Options) (*Profile, *Stats) {
	stats := &Stats{}
	profile := &Profile{
		Interval: c.EffectiveInterval(),
	}
	if opts.Interval > 0 {
		profile.Interval = opts.Interval
	}

	knownFiles := make(map[int32]struct{}, len(c.Sources))
	for _, f := range c.Sources {
		knownFiles[f.ID] = struct{}{}
	}

	profile.Samples = make([]Sample, 0, len(c.Samples))
	for i, raw := range c.Samples {
		stats.TotalSamples++
		if len(raw.Frames) == 0 {
			stats.MalformedSamples++
			stats.Errors = append(stats.Errors, fmt.Errorf("sample %d: empty stack", i))
			continue
		}

		sample := Sample{
			Time:   raw.Time,
			Weight: raw.EffectiveWeight(),
			Frames: make([]Frame, 0, len(raw.Frames)),
		}
		for _, rf := range raw.Frames {
			stats.TotalFrames++

			if rf.Call == MemoryLabel {
				// Collector pseudo-frames occupy width but never
				// point at source.
				stats.MemoryEvents++
				sample.Frames = append(sample.Frames, Frame{
					Label:    MemoryLabel,
					MemEvent: true,
				})
				continue
			}

			label, drop := resolveLabel(rf.Call)
			if drop {
				stats.DroppedOperators++
				continue
			}
			if label == AnonymousLabel {
				stats.AnonymousCalls++
			}
			if opts.ElideFrame != nil && opts.ElideFrame(label) {
				stats.ElidedFrames++
				continue
			}

			ref := rf.Ref()
			if ref.Valid() {
				if _, ok := knownFiles[ref.File]; !ok {
					stats.UnknownFileRefs++
				}
			} else {
				ref = capture.SourceRef{}
			}

			sample.Frames = append(sample.Frames, Frame{
				Label: label,
				Ref:   ref,
			})
		}

		// A stack reduced to nothing by the drop rules still accounts
		// for elapsed time at the root.
		profile.Samples = append(profile.Samples, sample)
		profile.TotalWeight += sample.Weight
	}

	return profile, stats
}
