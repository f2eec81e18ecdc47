package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/citypulse/internal/config"
	"github.com/crimson-sun/citypulse/internal/logging"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "citypulse",
		Short:         "Zurich open-data feeds as resampled time series",
		Long:          "citypulse fetches the canton case/death feed and the city pedestrian counter feed, sums them into calendar buckets and writes snapshots, charts and reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is ./citypulse.yaml when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newSampleCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	boot := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(a.logLevel), "text")
	config.LoadEnv(boot)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		boot.WithError(err).Error("failed to load config")
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		a.logger.WithError(err).Error("invalid config")
		return err
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
