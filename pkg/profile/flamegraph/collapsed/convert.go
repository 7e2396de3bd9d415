package collapsed

import (
	"strconv"
	"strings"

	"github.com/stackscope/stackscope/pkg/profile/capture"
)

// ParseFrame splits a folded stack entry of the form "label@file:line"
// into its parts. Entries without a well-formed position suffix are plain
// labels.
func ParseFrame(entry string) (label, file string, line int32) {
	at := strings.LastIndexByte(entry, '@')
	if at < 0 {
		return entry, "", 0
	}
	colon := strings.LastIndexByte(entry[at+1:], ':')
	if colon < 0 {
		return entry, "", 0
	}
	name := entry[at+1 : at+1+colon]
	n, err := strconv.ParseInt(entry[at+1+colon+1:], 10, 32)
	if err != nil || n <= 0 || name == "" {
		return entry, "", 0
	}
	return entry[:at], name, int32(n)
}

// ToCapture lifts a folded profile into the interchange form, assigning
// file ids in order of first appearance. Source text is left for a loader
// to fill in.
func ToCapture(p *Profile, interval int64) *capture.Capture {
	c := &capture.Capture{
		Interval: interval,
		Samples:  make([]capture.RawSample, 0, len(p.Samples)),
	}

	fileIDs := make(map[string]int32)
	var tick int64

	for _, sample := range p.Samples {
		frames := make([]capture.RawFrame, 0, len(sample.Stack))
		for _, entry := range sample.Stack {
			label, file, line := ParseFrame(entry)
			frame := capture.RawFrame{Call: label}
			if file != "" {
				id, ok := fileIDs[file]
				if !ok {
					id = int32(len(fileIDs) + 1)
					fileIDs[file] = id
					c.Sources = append(c.Sources, capture.SourceFile{
						ID:   id,
						Name: file,
					})
				}
				frame.File = id
				frame.Line = line
			}
			frames = append(frames, frame)
		}

		weight := sample.Value
		if weight <= 0 {
			weight = 1
		}
		tick += weight * c.EffectiveInterval()
		c.Samples = append(c.Samples, capture.RawSample{
			Time:   tick,
			Weight: weight,
			Frames: frames,
		})
	}

	return c
}
