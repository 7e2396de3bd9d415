package viewer

import (
	"context"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render"
	"github.com/stackscope/stackscope/pkg/xlog"
)

// testCapture aggregates into this tree (interval 10, five samples):
//
//	all                      [0,50)   id 0
//	  main@1:1               [0,50)   id 1
//	    ..stacktraceoff..    [0,10)   id 2  hidden
//	      internal@1:4       [0,10)   id 3  hidden
//	        ..stacktraceon.. [0,10)   id 4  hidden
//	          render@1:5     [0,10)   id 5
//	    <GC>                 [10,20)  id 6
//	    work@1:2             [20,50)  id 7
//	      fit@1:3            [20,40)  id 8
func testCapture() *capture.Capture {
	return &capture.Capture{
		Interval: 10,
		Sources: []capture.SourceFile{
			{ID: 1, Name: "app.R", Text: "f <- function() {\n  w()\n  fit(model)\n  int()\n  r()\n"},
			{ID: 2, Name: "lib.R"},
		},
		Samples: []capture.RawSample{
			{Time: 10, Weight: 1, Frames: []capture.RawFrame{
				{Call: "main", File: 1, Line: 1},
				{Call: "..stacktraceoff.."},
				{Call: "internal", File: 1, Line: 4},
				{Call: "..stacktraceon.."},
				{Call: "render", File: 1, Line: 5},
			}},
			{Time: 20, Weight: 1, Frames: []capture.RawFrame{
				{Call: "main", File: 1, Line: 1},
				{Call: "<GC>"},
			}},
			{Time: 30, Weight: 1, Frames: []capture.RawFrame{
				{Call: "main", File: 1, Line: 1},
				{Call: "work", File: 1, Line: 2},
				{Call: "fit", File: 1, Line: 3},
			}},
			{Time: 40, Weight: 1, Frames: []capture.RawFrame{
				{Call: "main", File: 1, Line: 1},
				{Call: "work", File: 1, Line: 2},
				{Call: "fit", File: 1, Line: 3},
			}},
			{Time: 50, Weight: 1, Frames: []capture.RawFrame{
				{Call: "main", File: 1, Line: 1},
				{Call: "work", File: 1, Line: 2},
			}},
		},
	}
}

func openTestSession(t *testing.T, cfg *Config) (*Registry, *Session) {
	if cfg == nil {
		cfg = &Config{}
	}
	registry := NewRegistry(cfg, xlog.NewNop(), afero.NewMemMapFs())
	sess, err := registry.Open(context.Background(), "test", testCapture())
	require.NoError(t, err)
	return registry, sess
}

func TestSession_Info(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	info, err := sess.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, "test", info.Name)
	assert.Equal(t, int64(10), info.Interval)
	assert.Equal(t, int64(50), info.TotalTime)
	assert.Equal(t, int64(5), info.SampleCount)
	assert.Equal(t, 9, info.NodeCount)
	assert.Nil(t, info.Selected)
	assert.Equal(t, int64(0), info.Zoom.Start)
	assert.Equal(t, int64(50), info.Zoom.End)
	assert.False(t, info.RevealHidden)

	assert.Equal(t, int64(5), info.Stats.TotalSamples)
	assert.Equal(t, int64(1), info.Stats.MemoryEvents)
	assert.Equal(t, int64(3), info.Stats.HiddenNodes)
	assert.Equal(t, int64(0), info.Stats.MalformedSamples)
}

func TestSession_SelectionPrecedence(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	selected := func() *int {
		info, err := sess.Info(ctx)
		require.NoError(t, err)
		return info.Selected
	}

	require.NoError(t, sess.Hover(ctx, 7))
	require.Equal(t, 7, *selected())

	require.NoError(t, sess.Lock(ctx, 8))
	require.Equal(t, 8, *selected())

	// Hover loses against an active lock.
	require.NoError(t, sess.Hover(ctx, 5))
	require.Equal(t, 8, *selected())

	require.NoError(t, sess.Unlock(ctx))
	require.Equal(t, 7, *selected())

	// Locking the locked node again releases it.
	require.NoError(t, sess.Lock(ctx, 8))
	require.NoError(t, sess.Lock(ctx, 8))
	require.Equal(t, 7, *selected())

	require.NoError(t, sess.Hover(ctx, -1))
	require.Nil(t, selected())
}

func TestSession_UnknownNode(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	err := sess.Hover(ctx, 99)
	require.ErrorIs(t, err, ErrNoSuchNode)

	err = sess.Lock(ctx, 99)
	require.ErrorIs(t, err, ErrNoSuchNode)

	_, err = sess.Callsite(ctx, 99)
	require.ErrorIs(t, err, ErrNoSuchNode)
}

func TestSession_Zoom(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	start, end := int64(20), int64(50)
	require.NoError(t, sess.Zoom(ctx, &start, &end))

	info, err := sess.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Zoom.Start)
	assert.Equal(t, int64(50), info.Zoom.End)

	require.NoError(t, sess.Zoom(ctx, nil, nil))
	info, err = sess.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Zoom.Start)
	assert.Equal(t, int64(50), info.Zoom.End)

	err = sess.Zoom(ctx, &start, nil)
	require.ErrorIs(t, err, errBadWindow)
}

func TestSession_Flame(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	countBlocks := func() int {
		doc, err := sess.Flame(ctx, render.NewFlameGraph())
		require.NoError(t, err)
		n := 0
		for _, row := range doc.Rows {
			n += len(row)
		}
		return n
	}

	// Marker-delimited frames start hidden: root, main, render, <GC>,
	// work, fit.
	require.Equal(t, 6, countBlocks())

	require.NoError(t, sess.Reveal(ctx, true))
	require.Equal(t, 9, countBlocks())
}

func TestSession_Callsite(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	site, err := sess.Callsite(ctx, 8)
	require.NoError(t, err)
	assert.True(t, site.Found)
	assert.Equal(t, int32(1), site.File)
	assert.Equal(t, int32(2), site.Line)
	assert.Equal(t, "app.R", site.Name)

	// The visual parent of render is main: the marker chain is hidden.
	site, err = sess.Callsite(ctx, 5)
	require.NoError(t, err)
	assert.True(t, site.Found)
	assert.Equal(t, int32(1), site.File)
	assert.Equal(t, int32(1), site.Line)

	site, err = sess.Callsite(ctx, 0)
	require.NoError(t, err)
	assert.False(t, site.Found)
}

func TestSession_Highlight(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	ids, err := sess.Highlight(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, ids)

	// Zooming past render's extent drops it from the highlight set.
	start, end := int64(20), int64(50)
	require.NoError(t, sess.Zoom(ctx, &start, &end))
	ids, err = sess.Highlight(ctx, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSession_SourceListing(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	listing, err := sess.SourceListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "app.R", listing.Name)
	require.Len(t, listing.Lines, 5)

	assert.Equal(t, int64(50), listing.Lines[0].Total)
	assert.Equal(t, int64(0), listing.Lines[0].Self)
	// GC time lands on the nearest visible resolved ancestor's line.
	assert.Equal(t, int64(10), listing.Lines[0].Memory)

	assert.Equal(t, int64(30), listing.Lines[1].Total)
	assert.Equal(t, int64(10), listing.Lines[1].Self)

	assert.Equal(t, int64(20), listing.Lines[2].Total)
	assert.Equal(t, int64(20), listing.Lines[2].Self)

	// internal@1:4 is hidden, so line 4 carries nothing.
	assert.Equal(t, int64(0), listing.Lines[3].Total)

	assert.Equal(t, int64(10), listing.Lines[4].Total)
	assert.Equal(t, int64(10), listing.Lines[4].Self)

	_, err = sess.SourceListing(ctx, 2)
	require.ErrorIs(t, err, ErrNoSourceText)

	_, err = sess.SourceListing(ctx, 9)
	require.ErrorIs(t, err, ErrNoSuchFile)
}

func TestSession_DispatchSerializes(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	// The counter is unguarded on purpose: the dispatch loop is the only
	// writer, so the race detector stays quiet and the count is exact.
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sess.do(ctx, func() { count++ }))
		}()
	}
	wg.Wait()

	require.NoError(t, sess.do(ctx, func() {}))
	assert.Equal(t, 64, count)
}

func TestSession_Close(t *testing.T) {
	_, sess := openTestSession(t, nil)
	ctx := context.Background()

	sess.Close()
	sess.Close()

	err := sess.Hover(ctx, 1)
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = sess.Info(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRegistry_Limit(t *testing.T) {
	registry, _ := openTestSession(t, &Config{MaxSessions: 1})

	_, err := registry.Open(context.Background(), "spill", testCapture())
	require.ErrorIs(t, err, ErrTooManySessions)
}

func TestRegistry_DropAndList(t *testing.T) {
	registry, sess := openTestSession(t, nil)
	ctx := context.Background()

	other, err := registry.Open(ctx, "other", testCapture())
	require.NoError(t, err)
	require.Len(t, registry.List(), 2)

	require.NoError(t, registry.Drop(ctx, sess.ID))
	require.Len(t, registry.List(), 1)

	_, err = registry.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	err = registry.Drop(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	got, err := registry.Get(other.ID)
	require.NoError(t, err)
	assert.Equal(t, "other", got.Name)

	// Dropped sessions stop accepting work.
	err = sess.Hover(ctx, 1)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRegistry_SourceLoading(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/lib.R", []byte("x <- 1\ny <- 2\n"), 0o644))

	registry := NewRegistry(&Config{SourceRoot: "/src"}, xlog.NewNop(), fs)
	sess, err := registry.Open(context.Background(), "loaded", testCapture())
	require.NoError(t, err)

	info, err := sess.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, info.Stats.SourcesLoaded)

	listing, err := sess.SourceListing(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, listing.Lines, 2)
	assert.Equal(t, "x <- 1", listing.Lines[0].Text)
}

func TestRegistry_InitialHiddenFromCapture(t *testing.T) {
	registry := NewRegistry(&Config{}, xlog.NewNop(), afero.NewMemMapFs())

	c := testCapture()
	revealed := false
	c.InitialHidden = &revealed

	sess, err := registry.Open(context.Background(), "revealed", c)
	require.NoError(t, err)

	info, err := sess.Info(context.Background())
	require.NoError(t, err)
	assert.True(t, info.RevealHidden)
}

func TestRegistry_ElidesInternalFrames(t *testing.T) {
	registry := NewRegistry(&Config{InternalFrames: []string{"^internal$"}}, xlog.NewNop(), afero.NewMemMapFs())

	sess, err := registry.Open(context.Background(), "elided", testCapture())
	require.NoError(t, err)

	info, err := sess.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Stats.ElidedFrames)
	assert.Equal(t, 8, info.NodeCount)
}
