package cli

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/parse"
	"github.com/stackscope/stackscope/pkg/profile/view"
)

func TestParseWindow(t *testing.T) {
	for i, test := range []struct {
		input    string
		expected view.Window
		err      bool
	}{
		{input: "20:50", expected: view.Window{Start: 20, End: 50}},
		{input: " 0 : 1 ", expected: view.Window{Start: 0, End: 1}},
		{input: "20", err: true},
		{input: "x:50", err: true},
		{input: "20:y", err: true},
		{input: "50:20", err: true},
		{input: "5:5", err: true},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			w, err := parseWindow(test.input)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, w)
		})
	}
}

func TestCollectHotspots(t *testing.T) {
	c := &capture.Capture{
		Interval: 10,
		Sources:  []capture.SourceFile{{ID: 1, Name: "app.R"}},
		Samples: []capture.RawSample{
			{Time: 10, Weight: 1, Frames: []capture.RawFrame{
				{Call: "a", File: 1, Line: 1},
				{Call: "b", File: 1, Line: 2},
			}},
			{Time: 20, Weight: 1, Frames: []capture.RawFrame{
				{Call: "a", File: 1, Line: 1},
				{Call: "b", File: 1, Line: 2},
			}},
			{Time: 30, Weight: 1, Frames: []capture.RawFrame{
				{Call: "a", File: 1, Line: 1},
			}},
			{Time: 40, Weight: 1, Frames: []capture.RawFrame{
				{Call: "b", File: 1, Line: 2},
			}},
		},
	}

	prof, _ := parse.Parse(c, parse.Options{})
	tree := calltree.Build(prof)

	hotspots := collectHotspots(tree)
	require.Len(t, hotspots, 2)

	// b occurs under a and at top level; both merge into one entry.
	assert.Equal(t, "b", hotspots[0].label)
	assert.Equal(t, int64(30), hotspots[0].self)
	assert.Equal(t, int64(3), hotspots[0].samples)

	assert.Equal(t, "a", hotspots[1].label)
	assert.Equal(t, int64(10), hotspots[1].self)
	assert.Equal(t, int64(1), hotspots[1].samples)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("debug")
	require.NoError(t, err)

	_, err = NewLogger("loud")
	require.Error(t, err)
}
