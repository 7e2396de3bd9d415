package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackscope/stackscope/internal/viewer"
)

var (
	serveConfigPath string

	serveCmd = &cobra.Command{
		Use:   "serve [captures...]",
		Short: "Serve the interactive viewer API",
		RunE: func(_ *cobra.Command, args []string) error {
			return runServe(args)
		},
	}
)

func runServe(paths []string) error {
	ctx := context.Background()

	logger, err := NewLogger(logLevel.String())
	if err != nil {
		return err
	}

	conf := &viewer.Config{}
	if serveConfigPath != "" {
		conf, err = viewer.ParseConfig(serveConfigPath)
		if err != nil {
			return err
		}
	}

	service := viewer.NewService(conf, logger, afero.NewOsFs())

	for _, path := range paths {
		c, err := readCapture(path)
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		sess, err := service.Registry().Open(ctx, name, c)
		if err != nil {
			return fmt.Errorf("failed to preload %s: %w", path, err)
		}
		logger.Info(ctx, "Preloaded capture",
			zap.String("path", path),
			zap.String("session.id", string(sess.ID)),
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return service.Run(ctx)
	})

	g.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt)
		defer signal.Stop(signals)

		select {
		case <-ctx.Done():
		case <-signals:
			logger.Warn(ctx, "Stopping the viewer because SIGINT received")
			cancel()
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().StringVarP(
		&serveConfigPath,
		"config",
		"c",
		"",
		"Path to viewer config",
	)
	must(serveCmd.MarkFlagFilename("config"))

	rootCmd.AddCommand(serveCmd)
}
