package sourcemap

import (
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/stackscope/stackscope/pkg/profile/capture"
)

// Store holds the capture's source files and a lazily built line index.
// Lookups are read-only and safe for concurrent use.
type Store struct {
	files map[int32]*capture.SourceFile
	lines *ccache.Cache[[]string]
}

func NewStore(files []capture.SourceFile) *Store {
	s := &Store{
		files: make(map[int32]*capture.SourceFile, len(files)),
		lines: ccache.New[[]string](ccache.Configure[[]string]()),
	}
	for i := range files {
		s.files[files[i].ID] = &files[i]
	}
	return s
}

func (s *Store) File(id int32) *capture.SourceFile {
	return s.files[id]
}

func (s *Store) Files() []*capture.SourceFile {
	out := make([]*capture.SourceFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	return out
}

// Lines returns the file's text split into lines, without terminators.
func (s *Store) Lines(id int32) ([]string, bool) {
	f := s.files[id]
	if f == nil || f.Text == "" {
		return nil, false
	}

	item, err := s.lines.Fetch(strconv.Itoa(int(id)), time.Hour, func() ([]string, error) {
		return splitLines(f.Text), nil
	})
	if err != nil {
		return nil, false
	}
	return item.Value(), true
}

func (s *Store) LineCount(id int32) int {
	lines, ok := s.Lines(id)
	if !ok {
		return 0
	}
	return len(lines)
}

// Line returns the 1-based line, or false when the reference falls outside
// the known text.
func (s *Store) Line(id int32, line int32) (string, bool) {
	lines, ok := s.Lines(id)
	if !ok || line < 1 || int(line) > len(lines) {
		return "", false
	}
	return lines[line-1], true
}

// Resolve reports whether the reference points into known source text.
func (s *Store) Resolve(ref capture.SourceRef) bool {
	if !ref.Valid() {
		return false
	}
	_, ok := s.Line(ref.File, ref.Line)
	return ok
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
