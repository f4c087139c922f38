// Package cmd defines and implements the CLI commands for the creator-suite executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/config"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/server"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Tracker submits jobs and approves director scripts.
type Tracker interface {
	Submit(ctx context.Context, t suite.JobType, form suite.Form) (suite.Job, error)
	ApproveScript(ctx context.Context, id string, scenes []map[string]any) (suite.Job, error)
}

// JobStore is the tracked collection.
type JobStore interface {
	Jobs() []suite.Job
	Get(id string) (suite.Job, bool)
	RemoveJob(ctx context.Context, id string) bool
	ClearJobs(ctx context.Context)
	SyncRemote(ctx context.Context) error
	Subscribe() (<-chan struct{}, func())
}

// Backend exposes service health and analytics.
type Backend interface {
	HealthAll(ctx context.Context) map[suite.Service]bool
	Analytics(ctx context.Context, area gateway.Area, userID string) ([]gateway.AnalyticsRecord, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Submitter() Tracker
	Store() JobStore
	Backend() Backend
	CurrentUser() (suite.User, bool)
	RunPollers(ctx context.Context) error
}

// appFactory builds the application from a config path.
type appFactory func(ctx context.Context, cfgPath string) (App, error)

func newServerApp(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

// serverApp adapts *server.App to the App interface.
type serverApp struct {
	*server.App
}

func (a serverApp) Submitter() Tracker { return a.Tracker() }

func (a serverApp) Store() JobStore { return a.Jobs() }

func (a serverApp) Backend() Backend { return a.Gateway() }

func (a serverApp) CurrentUser() (suite.User, bool) { return a.Session().CurrentUser() }

func (a serverApp) RunPollers(ctx context.Context) error { return a.Pollers().Run(ctx) }

// newRootCmd creates and configures the root command.
func newRootCmd(factory appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "creator-suite",
		Short: "Submit and track generative media jobs.",
		Long: `creator-suite submits video, image and movie generation requests to the
backend services, polls long-running jobs until they finish, and keeps a
bounded, persisted history of recent jobs. Run "serve" for the local API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := factory(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()
			return appInstance.Close(ctx)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(),
		newSubmitCmd(),
		newApproveCmd(),
		newJobsCmd(),
		newStatusCmd(),
		newHealthCmd(),
		newAnalyticsCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(newServerApp).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
