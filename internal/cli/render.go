package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/flamegraph/render"
	"github.com/stackscope/stackscope/pkg/profile/parse"
	"github.com/stackscope/stackscope/pkg/profile/sourcemap"
	"github.com/stackscope/stackscope/pkg/profile/view"
	"github.com/stackscope/stackscope/pkg/xpflag"
)

var (
	renderOutputPath string
	renderWindow     *view.Window
	renderReveal     bool
	renderMinWeight  float64
	renderMaxDepth   int
	renderSourceDir  string

	renderCmd = &cobra.Command{
		Use:   "render [capture]",
		Short: "Render a capture into flame-model JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRender(args[0])
		},
	}
)

func runRender(path string) error {
	ctx := context.Background()

	logger, err := NewLogger(logLevel.String())
	if err != nil {
		return err
	}

	c, err := readCapture(path)
	if err != nil {
		return err
	}

	prof, stats := parse.Parse(c, parse.Options{})
	if len(stats.Errors) > 0 {
		logger.Warn(ctx, "Capture has defects",
			zap.Int("count", len(stats.Errors)),
			zap.Error(stats.Errors[0]),
		)
	}
	tree := calltree.Build(prof)

	if renderSourceDir != "" {
		_, err := sourcemap.NewLoader(afero.NewOsFs(), logger).Fill(ctx, c, renderSourceDir)
		if err != nil {
			return err
		}
	}
	store := sourcemap.NewStore(c.Sources)
	sourcemap.Correlate(tree, store, sourcemap.CorrelateOptions{Markers: c.EffectiveHideMarkers()})

	reveal := renderReveal
	if !reveal && c.InitialHidden != nil {
		reveal = !*c.InitialHidden
	}
	engine := view.NewEngine(tree, view.Options{RevealHidden: reveal})

	if renderWindow != nil {
		engine.ZoomTo(*renderWindow)
	}

	fg := render.NewFlameGraph()
	if renderMinWeight > 0 {
		fg.SetMinWeight(renderMinWeight)
	}
	fg.SetDepthLimit(renderMaxDepth)
	fg.SetFileNamer(func(id int32) string {
		if f := store.File(id); f != nil {
			return f.Name
		}
		return ""
	})

	out := os.Stdout
	if renderOutputPath != "" {
		f, err := os.Create(renderOutputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := fg.Render(engine, out); err != nil {
		return fmt.Errorf("failed to render flame model: %w", err)
	}

	logger.Info(ctx, "Rendered flame model",
		zap.String("capture", path),
		zap.Int64("total.time", tree.TotalTime),
		zap.Int("nodes", len(tree.Nodes)),
	)
	return nil
}

// parseWindow parses a "start:end" zoom range.
func parseWindow(s string) (view.Window, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return view.Window{}, fmt.Errorf("bad zoom range %q, want start:end", s)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(from), 10, 64)
	if err != nil {
		return view.Window{}, fmt.Errorf("bad zoom start %q: %w", from, err)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return view.Window{}, fmt.Errorf("bad zoom end %q: %w", to, err)
	}
	if end <= start {
		return view.Window{}, fmt.Errorf("bad zoom range %q, end before start", s)
	}
	return view.Window{Start: start, End: end}, nil
}

func init() {
	renderCmd.Flags().StringVarP(
		&renderOutputPath,
		"output",
		"o",
		"",
		"Output path, stdout if empty",
	)
	renderCmd.Flags().Var(
		xpflag.NewFunc(func(val string) error {
			w, err := parseWindow(val)
			if err != nil {
				return err
			}
			renderWindow = &w
			return nil
		}),
		"zoom",
		"Zoom window as start:end in capture time units",
	)
	renderCmd.Flags().BoolVar(
		&renderReveal,
		"reveal-hidden",
		false,
		"Show marker-delimited hidden frames",
	)
	renderCmd.Flags().Float64Var(
		&renderMinWeight,
		"min-weight",
		0,
		"Minimum relative block weight to render",
	)
	renderCmd.Flags().IntVar(
		&renderMaxDepth,
		"max-depth",
		0,
		"Maximum stack depth, 0 for unlimited",
	)
	renderCmd.Flags().StringVar(
		&renderSourceDir,
		"source-dir",
		"",
		"Directory to load referenced source files from",
	)
	must(renderCmd.MarkFlagFilename("output"))

	rootCmd.AddCommand(renderCmd)
}
