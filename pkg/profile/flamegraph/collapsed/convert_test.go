package collapsed_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/pkg/profile/flamegraph/collapsed"
)

func TestParseFrame(t *testing.T) {
	for i, test := range []struct {
		entry string
		label string
		file  string
		line  int32
	}{
		{entry: "work", label: "work"},
		{entry: "work@app.R:12", label: "work", file: "app.R", line: 12},
		{entry: "work@src/utils.R:3", label: "work", file: "src/utils.R", line: 3},
		{entry: "obj@fn", label: "obj@fn"},
		{entry: "work@app.R:x", label: "work@app.R:x"},
		{entry: "work@app.R:0", label: "work@app.R:0"},
		{entry: "work@:5", label: "work@:5"},
		{entry: "a@b@c.R:7", label: "a@b", file: "c.R", line: 7},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			label, file, line := collapsed.ParseFrame(test.entry)
			require.Equal(t, test.label, label)
			require.Equal(t, test.file, file)
			require.Equal(t, test.line, line)
		})
	}
}

func TestToCapture(t *testing.T) {
	profile, err := collapsed.Unmarshal([]byte(
		"main@app.R:1;work@app.R:4 2\n" +
			"main@app.R:1;helper@util.R:9 1\n"))
	require.NoError(t, err)

	c := collapsed.ToCapture(profile, 10)
	require.Equal(t, int64(10), c.Interval)
	require.Len(t, c.Samples, 2)
	require.Len(t, c.Sources, 2)

	require.Equal(t, "app.R", c.Sources[0].Name)
	require.Equal(t, int32(1), c.Sources[0].ID)
	require.Equal(t, "util.R", c.Sources[1].Name)
	require.Equal(t, int32(2), c.Sources[1].ID)

	first := c.Samples[0]
	require.Equal(t, int64(2), first.Weight)
	require.Equal(t, []string{"main", "work"}, []string{first.Frames[0].Call, first.Frames[1].Call})
	require.Equal(t, int32(1), first.Frames[1].File)
	require.Equal(t, int32(4), first.Frames[1].Line)

	second := c.Samples[1]
	require.Equal(t, int32(2), second.Frames[1].File)
	require.Equal(t, int32(9), second.Frames[1].Line)

	// Synthetic timestamps advance by weighted interval.
	require.Equal(t, int64(20), first.Time)
	require.Equal(t, int64(30), second.Time)
}

func TestToCapture_NonPositiveCount(t *testing.T) {
	profile := &collapsed.Profile{
		Samples: []collapsed.Sample{{Stack: []string{"f"}, Value: -5}},
	}
	c := collapsed.ToCapture(profile, 10)
	require.Equal(t, int64(1), c.Samples[0].Weight)
}
