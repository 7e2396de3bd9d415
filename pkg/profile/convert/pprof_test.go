package convert

import (
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

func testProfile() *profile.Profile {
	mainFn := &profile.Function{ID: 1, Name: "main.main", Filename: "main.go"}
	workFn := &profile.Function{ID: 2, Name: "main.work", Filename: "main.go"}
	inlFn := &profile.Function{ID: 3, Name: "main.inlined", Filename: "util.go"}

	locMain := &profile.Location{ID: 1, Line: []profile.Line{{Function: mainFn, Line: 10}}}
	locWork := &profile.Location{ID: 2, Line: []profile.Line{
		{Function: inlFn, Line: 3},
		{Function: workFn, Line: 22},
	}}
	locAddr := &profile.Location{ID: 3, Address: 0xdead}

	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		Function: []*profile.Function{mainFn, workFn, inlFn},
		Location: []*profile.Location{locMain, locWork, locAddr},
		Sample: []*profile.Sample{
			// Locations are leaf first in pprof.
			{Location: []*profile.Location{locWork, locMain}, Value: []int64{2, 200}},
			{Location: []*profile.Location{locAddr, locMain}, Value: []int64{1, 100}},
		},
	}
}

func TestPProfToCapture(t *testing.T) {
	c, err := PProfToCapture(testProfile(), Options{Interval: 10})
	require.NoError(t, err)

	require.Equal(t, int64(10), c.Interval)
	require.Len(t, c.Samples, 2)

	// Stacks come out root first, with inline expansion outer first.
	first := c.Samples[0]
	require.Equal(t, int64(2), first.Weight)
	calls := []string{}
	for _, f := range first.Frames {
		calls = append(calls, f.Call)
	}
	require.Equal(t, []string{"main.main", "main.work", "main.inlined (inlined)"}, calls)

	require.Equal(t, int32(10), first.Frames[0].Line)
	require.Equal(t, int32(22), first.Frames[1].Line)
	require.Equal(t, int32(3), first.Frames[2].Line)

	// File table is shared across samples in appearance order.
	require.Len(t, c.Sources, 2)
	require.Equal(t, "main.go", c.Sources[0].Name)
	require.Equal(t, "util.go", c.Sources[1].Name)
	require.Equal(t, c.Sources[0].ID, first.Frames[1].File)
	require.Equal(t, c.Sources[1].ID, first.Frames[2].File)

	// Address-only frames are retained without source.
	second := c.Samples[1]
	require.Equal(t, "0xdead", second.Frames[1].Call)
	require.Equal(t, int32(0), second.Frames[1].File)

	// Synthetic ticks accumulate weighted intervals.
	require.Equal(t, int64(20), first.Time)
	require.Equal(t, int64(30), second.Time)
}

func TestPProfToCapture_SampleTypeSelection(t *testing.T) {
	c, err := PProfToCapture(testProfile(), Options{Interval: 10, SampleType: "cpu"})
	require.NoError(t, err)
	require.Equal(t, int64(200), c.Samples[0].Weight)

	prof := testProfile()
	prof.DefaultSampleType = "cpu"
	c, err = PProfToCapture(prof, Options{Interval: 10})
	require.NoError(t, err)
	require.Equal(t, int64(200), c.Samples[0].Weight)
}

func TestPProfToCapture_NoSampleTypes(t *testing.T) {
	_, err := PProfToCapture(&profile.Profile{}, Options{})
	require.Error(t, err)
}
