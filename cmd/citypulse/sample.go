package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/pipeline"
)

func newSampleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sample [cases|counter]",
		Short: "Print the first raw records of a feed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "counter"
			if len(args) == 1 {
				name = args[0]
			}
			jobs, err := buildJobs(a.cfg)
			if err != nil {
				return err
			}
			var job *pipeline.Job
			for i := range jobs {
				if jobs[i].Name == name {
					job = &jobs[i]
				}
			}
			if job == nil {
				return fmt.Errorf("sample: feed %q is not enabled", name)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			p := pipeline.New(engine.New(a.logger), nil, pipeline.WithLogger(a.logger))
			recs, err := p.Sample(ctx, *job)
			if err != nil {
				a.logger.WithError(err).Error("sample failed")
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}
}
