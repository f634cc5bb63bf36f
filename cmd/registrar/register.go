package main

import (
	"github.com/spf13/cobra"

	"model-registrar/internal/adapters/secondary/artifacts"
	"model-registrar/internal/core/services"
)

type registerOptions struct {
	modelName      string
	modelPath      string
	vectorizerPath string
	artifactPath   string
}

func newRegisterCmd(a *app) *cobra.Command {
	var opts registerOptions

	c := &cobra.Command{
		Use:   "register",
		Short: "Log, register and stage a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, a, opts)
		},
	}

	c.Flags().StringVar(&opts.modelName, "model-name", "", "Registered model name (default from REGISTRATION_MODEL_NAME)")
	c.Flags().StringVar(&opts.modelPath, "model-path", "", "LightGBM model dump (default from REGISTRATION_MODEL_PATH)")
	c.Flags().StringVar(&opts.vectorizerPath, "vectorizer-path", "", "Vectorizer vocabulary (default from REGISTRATION_VECTORIZER_PATH)")
	c.Flags().StringVar(&opts.artifactPath, "artifact-path", "", "Artifact path inside the run (default from REGISTRATION_ARTIFACT_PATH)")
	return c
}

func runRegister(cmd *cobra.Command, a *app, opts registerOptions) error {
	reg := a.cfg.Registration
	req := services.RegisterRequest{
		ModelName:      firstNonEmpty(opts.modelName, reg.ModelName),
		ModelPath:      firstNonEmpty(opts.modelPath, reg.ModelPath),
		VectorizerPath: firstNonEmpty(opts.vectorizerPath, reg.VectorizerPath),
	}

	svc := services.NewRegistrarService(a.store, artifacts.NewFileLoader(), services.RegistrarConfig{
		ExperimentName: a.cfg.Tracking.ExperimentName,
		ArtifactPath:   firstNonEmpty(opts.artifactPath, reg.ArtifactPath),
		ReadyTimeout:   reg.ReadyTimeout,
		PollInterval:   reg.PollInterval,
		Stdout:         cmd.OutOrStdout(),
	})

	_, err := svc.Register(cmd.Context(), req)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
