package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/services"
)

func newTransitionCmd(a *app) *cobra.Command {
	var archiveExisting bool

	c := &cobra.Command{
		Use:   "transition NAME VERSION STAGE",
		Short: "Move a model version to another stage",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := domain.ParseVersion(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", err, args[1])
			}
			stage, err := domain.ParseStage(args[2])
			if err != nil {
				return fmt.Errorf("%w: %q (want one of None, Staging, Production, Archived)", err, args[2])
			}

			svc := services.NewModelVersionService(a.store, a.cfg.Registration.PollInterval)
			mv, err := svc.Transition(cmd.Context(), args[0], version, stage, archiveExisting)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s version %d transitioned to %s.\n", mv.Name, mv.Version, mv.Stage)
			return nil
		},
	}

	c.Flags().BoolVar(&archiveExisting, "archive-existing", false, "Archive other versions currently in the target stage")
	return c
}
