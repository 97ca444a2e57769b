// Package cmd defines the CLI commands for the grarchiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/app"
	"github.com/civicdatalab/gr-archiver/internal/config"
	"github.com/civicdatalab/gr-archiver/internal/publisher"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can replace
// it with a fake.
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grarchiver",
		Short: "Ledger-driven archiver for Maharashtra government resolutions",
		Long: `grarchiver reconciles the gr.maharashtra.gov.in listings into a
partitioned flat-file ledger and drives each record through download,
wayback snapshot, and archive.org upload.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults and GRARCHIVER_ env vars)")

	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newStageCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// publishRunEvent reports one command run on the event channel. Publish
// failures are logged, never fatal.
func publishRunEvent(ctx context.Context, a *app.App, command, mode string, started time.Time, runErr error, detail any) {
	event := publisher.RunEvent{
		RunID:         uuid.NewString(),
		Command:       command,
		Mode:          mode,
		StartedAtUTC:  started.UTC(),
		FinishedAtUTC: time.Now().UTC(),
		Succeeded:     runErr == nil,
		Detail:        detail,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if _, err := a.Events.Publish(ctx, a.Cfg.PubSub.TopicName, event); err != nil {
		a.Log.Warn("publish run event", zap.Error(err))
	}
}
