package sourcemap

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/xlog"
)

func TestLoader_Fill(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/app.R", []byte("f <- 1\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/abs/util.R", []byte("g <- 2\n"), 0o644))

	c := &capture.Capture{
		Sources: []capture.SourceFile{
			{ID: 1, Name: "app.R"},
			{ID: 2, Name: "/abs/util.R"},
			{ID: 3, Name: "gone.R"},
			{ID: 4, Name: "inline.R", Text: "kept\n"},
		},
	}

	loader := NewLoader(fs, xlog.NewNop())
	stats, err := loader.Fill(context.Background(), c, "/proj")
	require.NoError(t, err)

	require.Equal(t, 2, stats.Loaded)
	require.Equal(t, 1, stats.Missing)
	require.Equal(t, 0, stats.Failed)
	require.Empty(t, stats.Errors)

	require.Equal(t, "f <- 1\n", c.Sources[0].Text)
	require.Equal(t, "g <- 2\n", c.Sources[1].Text)
	require.Equal(t, "", c.Sources[2].Text)
	require.Equal(t, "kept\n", c.Sources[3].Text, "already loaded text is not reread")
}

func TestLoader_FillCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &capture.Capture{Sources: []capture.SourceFile{{ID: 1, Name: "app.R"}}}
	loader := NewLoader(afero.NewMemMapFs(), xlog.NewNop())

	_, err := loader.Fill(ctx, c, ".")
	require.ErrorIs(t, err, context.Canceled)
}
