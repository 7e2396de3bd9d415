package sourcemap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/xlog"
)

const defaultLoadConcurrency = 8

////////////////////////////////////////////////////////////////////////////////

// Loader fills missing source text for the files a capture names. A file
// that cannot be read is counted and skipped, the profile still renders
// with source-absent blocks.
type Loader struct {
	fs  afero.Fs
	log xlog.Logger

	// Concurrency bounds parallel reads, defaultLoadConcurrency when zero.
	Concurrency int
}

type LoadStats struct {
	Loaded  int
	Missing int
	Failed  int

	Errors []error
}

func NewLoader(fs afero.Fs, log xlog.Logger) *Loader {
	return &Loader{fs: fs, log: log}
}

// Fill reads the text of every source file that has none, resolving names
// relative to root. The capture is modified in place.
func (l *Loader) Fill(ctx context.Context, c *capture.Capture, root string) (*LoadStats, error) {
	stats := &LoadStats{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = defaultLoadConcurrency
	}
	g.SetLimit(limit)

	for i := range c.Sources {
		if c.Sources[i].Text != "" {
			continue
		}

		src := &c.Sources[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			path := src.Name
			if !filepath.IsAbs(path) {
				path = filepath.Join(root, path)
			}

			text, err := afero.ReadFile(l.fs, path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				src.Text = string(text)
				stats.Loaded++
			case os.IsNotExist(err):
				stats.Missing++
				l.log.Debug(ctx, "Source file not found", zap.String("path", path))
			default:
				stats.Failed++
				stats.Errors = append(stats.Errors, fmt.Errorf("read %s: %w", path, err))
				l.log.Warn(ctx, "Failed to read source file",
					zap.String("path", path), zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
