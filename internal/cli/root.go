package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackscope/stackscope/pkg/profile/capture"
	"github.com/stackscope/stackscope/pkg/xpflag"
)

var (
	logLevel = xpflag.NewOneOf("info", "debug", "info", "warn", "error")

	rootCmd = &cobra.Command{
		Use:           "stackscope",
		Short:         "Explore sampled profiles interactively",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().Var(
		logLevel,
		"log-level",
		"Logging level, one of ("+logLevel.Variants()+")",
	)
	must(rootCmd.RegisterFlagCompletionFunc("log-level", logLevel.Complete))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func readCapture(path string) (*capture.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := capture.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	return c, nil
}
