package main

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"model-registrar/internal/adapters/secondary/tracking"
	"model-registrar/internal/config"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/logger"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg     *config.Config
	store   ports.TrackingStore
	closers []io.Closer
}

func (a *app) init(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCloser, err := logger.Init(cfg.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, logCloser)

	store, closer, err := tracking.Open(ctx, cfg.Tracking)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, closer)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.WithError(err).Warn("close")
		}
	}
	a.closers = nil
}

func newRootCmd(a *app) *cobra.Command {
	var envFile string

	c := &cobra.Command{
		Use:   "registrar",
		Short: "Log a trained model to MLflow, register it and promote it to Staging",
		Long: "Without a subcommand, registrar runs the registration flow with the\n" +
			"configured model, vectorizer and model name.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, a, registerOptions{})
		},
	}

	c.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path of an optional dotenv file")
	c.AddCommand(newRegisterCmd(a), newTransitionCmd(a), newLatestCmd(a))
	return c
}
