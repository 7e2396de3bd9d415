package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render"
	"github.com/stackscope/stackscope/pkg/xlog"
)

var errBadRequest = errors.New("bad request")

// Service exposes the interaction engine over HTTP. It returns data only;
// drawing belongs to whatever client sits on the other side.
type Service struct {
	l        xlog.Logger
	cfg      *Config
	registry *Registry
	router   http.Handler
}

func NewService(cfg *Config, l xlog.Logger, fs afero.Fs) *Service {
	cfg.fillDefault()

	s := &Service{
		l:        l.WithName("viewer"),
		cfg:      cfg,
		registry: NewRegistry(cfg, l, fs),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.dropSession)
			r.Get("/flame", s.getFlame)
			r.Post("/hover", s.postHover)
			r.Post("/lock", s.postLock)
			r.Post("/unlock", s.postUnlock)
			r.Post("/zoom", s.postZoom)
			r.Post("/reveal", s.postReveal)
			r.Post("/collapse", s.postCollapse)
			r.Get("/highlight", s.getHighlight)
			r.Get("/nodes/{nodeID}/callsite", s.getCallsite)
			r.Get("/source/{fileID}", s.getSource)
		})
	})

	s.router = r
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen.Addr,
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.l.Info(ctx, "Starting HTTP server", zap.String("addr", s.cfg.Listen.Addr))
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn(ctx, "HTTP server shutdown failed", zap.Error(err))
		}
		s.registry.Close()
		return nil
	})

	return g.Wait()
}

////////////////////////////////////////////////////////////////////////////////

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) respondJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn(ctx, "Failed to write response", zap.Error(err))
	}
}

func (s *Service) respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrNoSuchNode),
		errors.Is(err, ErrNoSuchFile),
		errors.Is(err, ErrNoSourceText):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, errBadWindow):
		status = http.StatusBadRequest
	case errors.Is(err, ErrTooManySessions):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrSessionClosed):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		s.l.Error(ctx, "Request failed", zap.Error(err))
	}
	s.respondJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func (s *Service) respondInfo(ctx context.Context, w http.ResponseWriter, sess *Session) {
	info, err := sess.Info(ctx)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusOK, info)
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := s.registry.Get(SessionID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondError(r.Context(), w, err)
		return nil, false
	}
	return sess, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *Service) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := capture.Decode(r.Body)
	if err != nil {
		s.respondError(ctx, w, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}

	sess, err := s.registry.Open(ctx, r.URL.Query().Get("name"), c)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}

	info, err := sess.Info(ctx)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusCreated, info)
}

type sessionsResponse struct {
	Sessions []*SessionInfo `json:"sessions"`
}

func (s *Service) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessions := s.registry.List()
	infos := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info, err := sess.Info(ctx)
		if err != nil {
			// Dropped while listing.
			continue
		}
		infos = append(infos, info)
	}
	s.respondJSON(ctx, w, http.StatusOK, sessionsResponse{Sessions: infos})
}

func (s *Service) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondInfo(r.Context(), w, sess)
}

func (s *Service) dropSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := s.registry.Drop(ctx, SessionID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) flamegraph(values url.Values) (*render.FlameGraph, error) {
	fg := render.NewFlameGraph()
	if s.cfg.Render.MinWeight > 0 {
		fg.SetMinWeight(s.cfg.Render.MinWeight)
	}
	fg.SetDepthLimit(s.cfg.Render.MaxDepth)

	if v := values.Get("minWeight"); v != "" {
		mw, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad minWeight: %s", errBadRequest, err)
		}
		fg.SetMinWeight(mw)
	}
	if v := values.Get("maxDepth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad maxDepth: %s", errBadRequest, err)
		}
		fg.SetDepthLimit(depth)
	}
	return fg, nil
}

func (s *Service) getFlame(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	fg, err := s.flamegraph(r.URL.Query())
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	fg.SetFileNamer(func(id int32) string {
		if f := sess.Store().File(id); f != nil {
			return f.Name
		}
		return ""
	})

	doc, err := sess.Flame(ctx, fg)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusOK, doc)
}

type nodeRequest struct {
	Node *int `json:"node"`
}

func (r *nodeRequest) id() int {
	if r.Node == nil {
		return -1
	}
	return *r.Node
}

func (s *Service) postHover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req nodeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	if err := sess.Hover(ctx, req.id()); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

func (s *Service) postLock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req nodeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	if err := sess.Lock(ctx, req.id()); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

func (s *Service) postUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Unlock(ctx); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

type zoomRequest struct {
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
}

func (s *Service) postZoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req zoomRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	if err := sess.Zoom(ctx, req.Start, req.End); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

type revealRequest struct {
	Reveal bool `json:"reveal"`
}

func (s *Service) postReveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	if err := sess.Reveal(ctx, req.Reveal); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

type collapseRequest struct {
	Label     string `json:"label"`
	Collapsed bool   `json:"collapsed"`
}

func (s *Service) postCollapse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req collapseRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	if req.Label == "" {
		s.respondError(ctx, w, fmt.Errorf("%w: label is required", errBadRequest))
		return
	}
	if err := sess.CollapseLabel(ctx, req.Label, req.Collapsed); err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondInfo(ctx, w, sess)
}

type highlightResponse struct {
	Nodes []int `json:"nodes"`
}

func (s *Service) getHighlight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	file, err := queryInt32(r, "file")
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	line, err := queryInt32(r, "line")
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}

	ids, err := sess.Highlight(ctx, file, line)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusOK, highlightResponse{Nodes: ids})
}

func (s *Service) getCallsite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	nodeID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		s.respondError(ctx, w, fmt.Errorf("%w: bad node id: %s", errBadRequest, err))
		return
	}

	site, err := sess.Callsite(ctx, nodeID)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusOK, site)
}

func (s *Service) getSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	fileID, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 32)
	if err != nil {
		s.respondError(ctx, w, fmt.Errorf("%w: bad file id: %s", errBadRequest, err))
		return
	}

	listing, err := sess.SourceListing(ctx, int32(fileID))
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}
	s.respondJSON(ctx, w, http.StatusOK, listing)
}

func queryInt32(r *http.Request, key string) (int32, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, key)
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s: %s", errBadRequest, key, err)
	}
	return int32(v), nil
}
