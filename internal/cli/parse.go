package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tracelens/backend/internal/models"
)

func (a *app) newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE...",
		Short: "Decode log files and print colored records",
		Long: `Decode one or more log files according to the schema and print their
records followed by a summary. Files are ingested concurrently and printed
in argument order.

Examples:
  tracelens parse app.log
  tracelens parse app.log worker.log.gz --output json
  tracelens parse trace.log --profile short.profile`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.schema()
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}

			tables := make([]*models.Table, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, path := range args {
				g.Go(func() error {
					t, err := a.load(ctx, path, f.Schema)
					tables[i] = t
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, t := range tables {
				name := ""
				if len(args) > 1 {
					name = args[i]
				}
				if err := r.Render(name, t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
