// Package cmd defines the CLI commands for the newsrefresher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-refresher/internal/config"
	"github.com/JakeFAU/news-refresher/internal/refresh"
	"github.com/JakeFAU/news-refresher/internal/server"
)

// App is the application surface the commands drive.
type App interface {
	Run(ctx context.Context) error
	RefreshOnce(ctx context.Context) (refresh.Report, error)
	Close(ctx context.Context)
}

// newApp is the application factory. Tests replace it with a fake.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type appKeyType struct{}

// newRootCmd creates and configures the root command.
func newRootCmd(stdout io.Writer) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "newsrefresher",
		Short: "Keeps a searchable news corpus fresh.",
		Long: `newsrefresher pulls article summaries from a news API twice a day,
recovers truncated bodies from the publishers' pages, and stores the result
in a datastore that supports full-text search and pagination.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command.
func Execute() {
	if err := ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ExecuteContext runs the root command with ctx and returns its error.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd(os.Stdout).ExecuteContext(ctx)
}
