package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/profile/convert"
	"github.com/stackscope/stackscope/pkg/profile/sourcemap"
)

var (
	ingestOutputPath string
	ingestSampleType string
	ingestInterval   int64
	ingestSourceDir  string

	ingestCmd = &cobra.Command{
		Use:   "ingest [profile]",
		Short: "Convert a pprof profile into a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runIngest(args[0])
		},
	}
)

func runIngest(path string) error {
	ctx := context.Background()

	logger, err := NewLogger(logLevel.String())
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prof, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse pprof profile %s: %w", path, err)
	}

	c, err := convert.PProfToCapture(prof, convert.Options{
		SampleType: ingestSampleType,
		Interval:   ingestInterval,
	})
	if err != nil {
		return err
	}

	if ingestSourceDir != "" {
		stats, err := sourcemap.NewLoader(afero.NewOsFs(), logger).Fill(ctx, c, ingestSourceDir)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Attached sources",
			zap.Int("loaded", stats.Loaded),
			zap.Int("missing", stats.Missing),
			zap.Int("failed", stats.Failed),
		)
	}

	out := os.Stdout
	if ingestOutputPath != "" {
		f, err := os.Create(ingestOutputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := capture.Encode(out, c); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}

	logger.Info(ctx, "Converted profile",
		zap.String("profile", path),
		zap.Int("samples", len(c.Samples)),
		zap.Int("sources", len(c.Sources)),
	)
	return nil
}

func init() {
	ingestCmd.Flags().StringVarP(
		&ingestOutputPath,
		"output",
		"o",
		"",
		"Output path, stdout if empty",
	)
	ingestCmd.Flags().StringVar(
		&ingestSampleType,
		"sample-type",
		"",
		"pprof sample type to aggregate, profile default if empty",
	)
	ingestCmd.Flags().Int64Var(
		&ingestInterval,
		"interval",
		0,
		"Sampling interval to record, 0 for the capture default",
	)
	ingestCmd.Flags().StringVar(
		&ingestSourceDir,
		"source-dir",
		"",
		"Directory to load referenced source files from",
	)
	must(ingestCmd.MarkFlagFilename("output"))

	rootCmd.AddCommand(ingestCmd)
}
