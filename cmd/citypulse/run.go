package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/citypulse/internal/config"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	var formats []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch both feeds once and write every configured output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(formats) > 0 {
				a.cfg.Output.Formats = formats
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m := metrics.New(config.Version)
			jobs, err := buildJobs(a.cfg)
			if err != nil {
				return err
			}
			join, err := buildJoin(a.cfg)
			if err != nil {
				return err
			}
			runID := uuid.New()
			out, err := buildOutputs(ctx, a.cfg, a.logger, runID, cmd.OutOrStdout())
			if err != nil {
				a.logger.WithError(err).Error("failed to set up outputs")
				return err
			}

			p := pipeline.New(engine.New(a.logger), out,
				pipeline.WithLogger(a.logger),
				pipeline.WithMetrics(m),
				pipeline.WithRunID(runID),
				join,
			)
			_, runErr := p.Run(ctx, jobs)
			closeErr := p.Close()

			if err := m.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
				a.logger.WithError(err).Warn("failed to write metrics textfile")
			}
			if runErr != nil {
				return runErr
			}
			if closeErr != nil {
				a.logger.WithError(closeErr).Error("failed to flush outputs")
			}
			return closeErr
		},
	}
	cmd.Flags().StringSliceVar(&formats, "format", nil, "override output.formats (stdout,csv,xlsx,chart,webhook,postgres)")
	return cmd
}
