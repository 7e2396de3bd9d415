package viewer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render"
	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render/format"
	"github.com/stackscope/stackscope/pkg/profile/parse"
	"github.com/stackscope/stackscope/pkg/profile/sourcemap"
	"github.com/stackscope/stackscope/pkg/profile/view"
	"github.com/stackscope/stackscope/pkg/xlog"
)

var (
	ErrSessionNotFound = errors.New("there is no such session")
	ErrSessionClosed   = errors.New("session is closed")
	ErrTooManySessions = errors.New("too many open sessions")
	ErrNoSuchNode      = errors.New("there is no such node")
	ErrNoSuchFile      = errors.New("there is no such source file")
	ErrNoSourceText    = errors.New("source file has no text")

	errBadWindow = errors.New("zoom window needs both start and end")
)

type SessionID string

// Session binds one aggregated capture to one interaction state. All state
// access runs as closures on the session's own goroutine, so there is a
// single writer and the engine needs no locks.
type Session struct {
	ID      SessionID
	Name    string
	Created time.Time

	tree   *calltree.Tree
	store  *sourcemap.Store
	engine *view.Engine

	parseStats     *parse.Stats
	correlateStats *sourcemap.CorrelateStats
	loadStats      *sourcemap.LoadStats

	tasks     chan func()
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Session) loop() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.closed:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it. The tasks channel
// is unbuffered, so a successful send means the loop took the closure and
// will finish it.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.tasks <- func() { fn(); close(done) }:
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Tree is immutable after aggregation and safe to read from any goroutine.
func (s *Session) Tree() *calltree.Tree {
	return s.tree
}

func (s *Session) Store() *sourcemap.Store {
	return s.store
}

////////////////////////////////////////////////////////////////////////////////

type SessionStats struct {
	TotalSamples     int64 `json:"totalSamples"`
	MalformedSamples int64 `json:"malformedSamples"`
	DroppedOperators int64 `json:"droppedOperators"`
	ElidedFrames     int64 `json:"elidedFrames"`
	AnonymousCalls   int64 `json:"anonymousCalls"`
	MemoryEvents     int64 `json:"memoryEvents"`
	HiddenNodes      int64 `json:"hiddenNodes"`
	DanglingMarkers  int64 `json:"danglingMarkers"`
	UnresolvedRefs   int64 `json:"unresolvedRefs"`
	SourcesLoaded    int   `json:"sourcesLoaded"`
	SourcesMissing   int   `json:"sourcesMissing"`
}

type SessionInfo struct {
	ID           SessionID    `json:"id"`
	Name         string       `json:"name"`
	CreatedAt    time.Time    `json:"createdAt"`
	Interval     int64        `json:"interval"`
	TotalTime    int64        `json:"totalTime"`
	SampleCount  int64        `json:"sampleCount"`
	NodeCount    int          `json:"nodeCount"`
	Selected     *int         `json:"selected,omitempty"`
	Zoom         view.Window  `json:"zoom"`
	RevealHidden bool         `json:"revealHidden"`
	Stats        SessionStats `json:"stats"`
}

func (s *Session) Info(ctx context.Context) (*SessionInfo, error) {
	info := &SessionInfo{
		ID:          s.ID,
		Name:        s.Name,
		CreatedAt:   s.Created,
		Interval:    s.tree.Interval,
		TotalTime:   s.tree.TotalTime,
		SampleCount: s.tree.Root.Samples,
		NodeCount:   len(s.tree.Nodes),
	}

	info.Stats = SessionStats{
		TotalSamples:     s.parseStats.TotalSamples,
		MalformedSamples: s.parseStats.MalformedSamples,
		DroppedOperators: s.parseStats.DroppedOperators,
		ElidedFrames:     s.parseStats.ElidedFrames,
		AnonymousCalls:   s.parseStats.AnonymousCalls,
		MemoryEvents:     s.parseStats.MemoryEvents,
		HiddenNodes:      s.correlateStats.HiddenNodes,
		DanglingMarkers:  s.correlateStats.DanglingMarkers,
		UnresolvedRefs:   s.correlateStats.UnresolvedRefs,
	}
	if s.loadStats != nil {
		info.Stats.SourcesLoaded = s.loadStats.Loaded
		info.Stats.SourcesMissing = s.loadStats.Missing
	}

	err := s.do(ctx, func() {
		state := s.engine.State()
		info.Zoom = state.Zoom
		info.RevealHidden = state.RevealHidden
		if selected := s.engine.Selected(); selected != nil {
			id := selected.ID
			info.Selected = &id
		}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

////////////////////////////////////////////////////////////////////////////////

// node resolves an id coming off the wire. Negative ids mean "no node".
func (s *Session) node(nodeID int) (*calltree.Node, error) {
	if nodeID < 0 {
		return nil, nil
	}
	n := s.tree.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchNode, nodeID)
	}
	return n, nil
}

func (s *Session) Hover(ctx context.Context, nodeID int) error {
	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	return s.do(ctx, func() { s.engine.Hover(n) })
}

func (s *Session) Lock(ctx context.Context, nodeID int) error {
	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	return s.do(ctx, func() {
		if n == nil {
			s.engine.ClearLock()
		} else {
			s.engine.Lock(n)
		}
	})
}

func (s *Session) Unlock(ctx context.Context) error {
	return s.do(ctx, func() { s.engine.ClearLock() })
}

// Zoom moves the view window. Both bounds absent resets to the full extent.
func (s *Session) Zoom(ctx context.Context, start, end *int64) error {
	if (start == nil) != (end == nil) {
		return errBadWindow
	}
	return s.do(ctx, func() {
		if start == nil {
			s.engine.ResetZoom()
			return
		}
		s.engine.ZoomTo(view.Window{Start: *start, End: *end})
	})
}

func (s *Session) Reveal(ctx context.Context, reveal bool) error {
	return s.do(ctx, func() { s.engine.SetRevealHidden(reveal) })
}

func (s *Session) CollapseLabel(ctx context.Context, label string, collapsed bool) error {
	return s.do(ctx, func() { s.engine.SetLabelCollapsed(label, collapsed) })
}

func (s *Session) Flame(ctx context.Context, fg *render.FlameGraph) (*format.Document, error) {
	var doc *format.Document
	err := s.do(ctx, func() { doc = fg.Build(s.engine) })
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Session) Highlight(ctx context.Context, file, line int32) ([]int, error) {
	ids := []int{}
	err := s.do(ctx, func() {
		for _, n := range s.engine.HighlightForLine(file, line) {
			ids = append(ids, n.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type Callsite struct {
	Found bool   `json:"found"`
	File  int32  `json:"file,omitempty"`
	Name  string `json:"name,omitempty"`
	Line  int32  `json:"line,omitempty"`
}

func (s *Session) Callsite(ctx context.Context, nodeID int) (*Callsite, error) {
	n := s.tree.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchNode, nodeID)
	}

	site := &Callsite{}
	err := s.do(ctx, func() {
		ref, ok := s.engine.HighlightForNode(n)
		if !ok {
			return
		}
		site.Found = true
		site.File = ref.File
		site.Line = ref.Line
		if f := s.store.File(ref.File); f != nil {
			site.Name = f.Name
		}
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

type SourceLine struct {
	Line   int32  `json:"line"`
	Text   string `json:"text"`
	Total  int64  `json:"total,omitempty"`
	Self   int64  `json:"self,omitempty"`
	Memory int64  `json:"memory,omitempty"`
}

type SourceListing struct {
	ID    int32        `json:"id"`
	Name  string       `json:"name"`
	Lines []SourceLine `json:"lines"`
}

// SourceListing renders a gutter-annotated file: every text line together
// with the time and allocation totals attributed to it under the current
// visibility state.
func (s *Session) SourceListing(ctx context.Context, fileID int32) (*SourceListing, error) {
	file := s.store.File(fileID)
	if file == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchFile, fileID)
	}
	lines, ok := s.store.Lines(fileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceText, file.Name)
	}

	listing := &SourceListing{
		ID:    file.ID,
		Name:  file.Name,
		Lines: make([]SourceLine, len(lines)),
	}

	err := s.do(ctx, func() {
		stats := s.engine.LineStats()
		memory := s.engine.Memory()
		for i, text := range lines {
			line := SourceLine{Line: int32(i + 1), Text: text}
			ref := capture.SourceRef{File: fileID, Line: line.Line}
			if stat, ok := stats[ref]; ok {
				line.Total = stat.Total
				line.Self = stat.Self
			}
			line.Memory = memory.ByLine[ref]
			listing.Lines[i] = line
		}
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

////////////////////////////////////////////////////////////////////////////////

// Registry keeps the open sessions. Lookup is mutex-guarded; interaction
// state never is, that belongs to each session's loop.
type Registry struct {
	log xlog.Logger
	cfg *Config
	fs  afero.Fs

	mu       sync.Mutex
	sessions map[SessionID]*Session
}

func NewRegistry(cfg *Config, log xlog.Logger, fs afero.Fs) *Registry {
	cfg.fillDefault()
	return &Registry{
		log:      log.WithName("sessions"),
		cfg:      cfg,
		fs:       fs,
		sessions: make(map[SessionID]*Session),
	}
}

// Open runs the aggregation pipeline over a decoded capture and registers
// the result as a new session.
func (r *Registry) Open(ctx context.Context, name string, c *capture.Capture) (*Session, error) {
	elide, err := r.cfg.elidePredicate()
	if err != nil {
		return nil, err
	}

	opts := parse.Options{ElideFrame: elide}
	if c.Interval <= 0 {
		opts.Interval = r.cfg.SamplingInterval
	}

	prof, parseStats := parse.Parse(c, opts)
	tree := calltree.Build(prof)

	var loadStats *sourcemap.LoadStats
	if r.cfg.SourceRoot != "" {
		loadStats, err = sourcemap.NewLoader(r.fs, r.log).Fill(ctx, c, r.cfg.SourceRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to load sources: %w", err)
		}
	}
	store := sourcemap.NewStore(c.Sources)

	markers := c.EffectiveHideMarkers()
	if c.HideMarkers == nil && len(r.cfg.HideMarkerPairs) > 0 {
		markers = r.cfg.HideMarkerPairs
	}
	correlateStats := sourcemap.Correlate(tree, store, sourcemap.CorrelateOptions{Markers: markers})

	hidden := true
	if r.cfg.InitialHiddenState != nil {
		hidden = *r.cfg.InitialHiddenState
	}
	if c.InitialHidden != nil {
		hidden = *c.InitialHidden
	}

	engine := view.NewEngine(tree, view.Options{
		RevealHidden:    !hidden,
		CollapsedLabels: r.cfg.CollapsedLabels,
	})

	id, err := genID()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = string(id[:8])
	}

	sess := &Session{
		ID:             id,
		Name:           name,
		Created:        time.Now(),
		tree:           tree,
		store:          store,
		engine:         engine,
		parseStats:     parseStats,
		correlateStats: correlateStats,
		loadStats:      loadStats,
		tasks:          make(chan func()),
		closed:         make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	r.sessions[id] = sess
	go sess.loop()

	r.log.Info(ctx, "Opened session",
		zap.String("session.id", string(id)),
		zap.String("session.name", name),
		zap.Int64("samples", tree.Root.Samples),
		zap.Int64("total.time", tree.TotalTime),
		zap.Int("nodes", len(tree.Nodes)),
	)

	return sess, nil
}

func (r *Registry) Get(id SessionID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (r *Registry) Drop(ctx context.Context, id SessionID) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Close()
	r.log.Info(ctx, "Dropped session", zap.String("session.id", string(id)))
	return nil
}

// List returns the open sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		res = append(res, sess)
	}
	slices.SortFunc(res, func(a, b *Session) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		sess.Close()
		delete(r.sessions, id)
	}
}

func genID() (SessionID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return SessionID(id.String()), nil
}
