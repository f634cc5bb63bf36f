package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/services"
)

func newLatestCmd(a *app) *cobra.Command {
	var stageNames []string

	c := &cobra.Command{
		Use:   "latest NAME",
		Short: "Show the latest version of a model per stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stages []domain.Stage
			for _, s := range stageNames {
				st, err := domain.ParseStage(s)
				if err != nil {
					return fmt.Errorf("%w: %q", err, s)
				}
				stages = append(stages, st)
			}

			svc := services.NewModelVersionService(a.store, a.cfg.Registration.PollInterval)
			versions, err := svc.Latest(cmd.Context(), args[0], stages)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTAGE\tSTATUS\tRUN ID\tSOURCE")
			for _, mv := range versions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", mv.Version, mv.Stage, mv.Status, mv.RunID, mv.Source)
			}
			return w.Flush()
		},
	}

	c.Flags().StringSliceVar(&stageNames, "stage", nil, "Restrict to these stages (repeatable)")
	return c
}
