package cli

import (
	"cmp"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/stackscope/stackscope/pkg/profile/calltree"
	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/parse"
	"github.com/stackscope/stackscope/pkg/profile/sourcemap"
)

var (
	inspectTop int

	inspectCmd = &cobra.Command{
		Use:   "inspect [capture]",
		Short: "Summarize a capture and its hottest frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
)

type hotspot struct {
	label   string
	ref     capture.SourceRef
	self    int64
	samples int64
}

// collectHotspots merges self time across the tree per frame identity, the
// same identity the aggregator uses for siblings.
func collectHotspots(tree *calltree.Tree) []hotspot {
	type key struct {
		label string
		ref   capture.SourceRef
	}
	acc := make(map[key]*hotspot)

	tree.Root.Walk(func(n *calltree.Node) bool {
		if n.Root() {
			return true
		}
		k := key{label: n.Label, ref: n.Ref}
		h, ok := acc[k]
		if !ok {
			h = &hotspot{label: n.Label, ref: n.Ref}
			acc[k] = h
		}
		h.self += n.Self()
		h.samples += n.SelfSamples()
		return true
	})

	res := make([]hotspot, 0, len(acc))
	for _, h := range acc {
		res = append(res, *h)
	}
	slices.SortFunc(res, func(a, b hotspot) int {
		if c := cmp.Compare(b.self, a.self); c != 0 {
			return c
		}
		return cmp.Compare(a.label, b.label)
	})
	return res
}

func runInspect(path string) error {
	c, err := readCapture(path)
	if err != nil {
		return err
	}

	prof, stats := parse.Parse(c, parse.Options{})
	tree := calltree.Build(prof)
	store := sourcemap.NewStore(c.Sources)
	cstats := sourcemap.Correlate(tree, store, sourcemap.CorrelateOptions{Markers: c.EffectiveHideMarkers()})

	duration := func(v int64) string {
		return (time.Duration(v) * time.Millisecond).String()
	}

	fmt.Printf("Capture %s\n", path)
	fmt.Printf("  interval:     %s\n", duration(tree.Interval))
	fmt.Printf("  total time:   %s\n", duration(tree.TotalTime))
	fmt.Printf("  samples:      %s\n", humanize.Comma(tree.Root.Samples))
	fmt.Printf("  tree nodes:   %s\n", humanize.Comma(int64(len(tree.Nodes))))
	fmt.Printf("  source files: %d\n", len(c.Sources))
	if stats.MalformedSamples > 0 {
		fmt.Printf("  malformed samples: %d\n", stats.MalformedSamples)
	}
	if stats.MemoryEvents > 0 {
		fmt.Printf("  gc frames: %d\n", stats.MemoryEvents)
	}
	if cstats.HiddenNodes > 0 {
		fmt.Printf("  hidden frames: %d\n", cstats.HiddenNodes)
	}

	hotspots := collectHotspots(tree)
	if len(hotspots) > inspectTop {
		hotspots = hotspots[:inspectTop]
	}
	if len(hotspots) == 0 {
		return nil
	}

	fmt.Printf("\nTop %d by self time:\n", len(hotspots))
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "  SELF\tPCT\tSAMPLES\tFUNCTION\tSOURCE")
	for _, h := range hotspots {
		pct := 0.0
		if tree.TotalTime > 0 {
			pct = float64(h.self) * 100 / float64(tree.TotalTime)
		}
		source := ""
		if h.ref.Valid() {
			source = h.ref.String()
			if f := store.File(h.ref.File); f != nil {
				source = fmt.Sprintf("%s:%d", f.Name, h.ref.Line)
			}
		}
		fmt.Fprintf(w, "  %s\t%.1f%%\t%s\t%s\t%s\n",
			duration(h.self), pct, humanize.Comma(h.samples), h.label, source)
	}
	return w.Flush()
}

func init() {
	inspectCmd.Flags().IntVar(
		&inspectTop,
		"top",
		10,
		"Number of hotspots to print",
	)

	rootCmd.AddCommand(inspectCmd)
}
