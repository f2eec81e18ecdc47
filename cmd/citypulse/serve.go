package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/citypulse/internal/config"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/pipeline"
	"github.com/crimson-sun/citypulse/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest series and charts over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			jobs, err := buildJobs(a.cfg)
			if err != nil {
				return err
			}
			join, err := buildJoin(a.cfg)
			if err != nil {
				return err
			}
			m := metrics.New(config.Version)
			eng := engine.New(a.logger)

			run := func(ctx context.Context) ([]model.Series, error) {
				p := pipeline.New(eng, nil,
					pipeline.WithLogger(a.logger),
					pipeline.WithMetrics(m),
					join,
				)
				res, err := p.Run(ctx, jobs)
				return res.Series, err
			}

			srv := server.New(run,
				server.WithRefresh(a.cfg.Server.Refresh),
				server.WithRenderer(buildRenderer(a.cfg)),
				server.WithMetrics(m),
				server.WithLogger(a.logger),
			)
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
