package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

type RegistrarConfig struct {
	ExperimentName string
	ArtifactPath   string
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	// Stdout receives the confirmation line. Defaults to os.Stdout.
	Stdout io.Writer
}

type RegisterRequest struct {
	ModelName      string
	ModelPath      string
	VectorizerPath string
}

type RegisterResult struct {
	RunID     string
	Version   *domain.ModelVersion
	Signature domain.Signature
}

// RegistrarService logs a model to a tracking run, registers it and promotes
// the newest unstaged version to Staging.
type RegistrarService struct {
	store    ports.TrackingStore
	loader   ports.ArtifactLoader
	models   *RegisteredModelService
	versions *ModelVersionService
	cfg      RegistrarConfig
	now      func() time.Time
}

func NewRegistrarService(store ports.TrackingStore, loader ports.ArtifactLoader, cfg RegistrarConfig) *RegistrarService {
	if cfg.ExperimentName == "" {
		cfg.ExperimentName = domain.DefaultExperimentName
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = "lgbm_model"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 300 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return &RegistrarService{
		store:    store,
		loader:   loader,
		models:   NewRegisteredModelService(store),
		versions: NewModelVersionService(store, cfg.PollInterval),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *RegistrarService) Versions() *ModelVersionService {
	return s.versions
}

func (s *RegistrarService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	res, err := s.register(ctx, req)
	if err != nil {
		log.Errorf("Error during model registration: %v", err)
		return nil, err
	}
	return res, nil
}

func (s *RegistrarService) register(ctx context.Context, req RegisterRequest) (res *RegisterResult, err error) {
	if req.ModelName == "" {
		return nil, domain.ErrInvalidModelName
	}

	run, err := s.startRun(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		status := domain.RunStatusFinished
		if err != nil {
			status = domain.RunStatusFailed
		}
		if uerr := s.store.UpdateRun(context.WithoutCancel(ctx), run.ID, status, s.now()); uerr != nil {
			log.WithError(uerr).WithField("run_id", run.ID).Warn("failed to close tracking run")
		}
	}()

	logger := log.WithFields(log.Fields{"run_id": run.ID, "model": req.ModelName})

	model, err := s.loader.LoadModel(req.ModelPath)
	if err != nil {
		return nil, err
	}
	vectorizer, err := s.loader.LoadVectorizer(req.VectorizerPath)
	if err != nil {
		return nil, err
	}

	input := BuildExampleInput(vectorizer.FeatureNames())
	logger.WithField("features", input.NumColumns()).Debug("built example input")

	output, err := model.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPrediction, err)
	}
	sig := InferSignature(input, output)

	created, err := s.logModel(ctx, run, model.Flavor(), req, input, sig)
	if err != nil {
		return nil, err
	}

	latest, err := s.versions.LatestUnstaged(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	if latest.Version != created.Version {
		logger.WithFields(log.Fields{
			"created_version": created.Version,
			"latest_version":  latest.Version,
		}).Warn("latest unstaged version differs from the version created by this run")
	}

	staged, err := s.versions.Transition(ctx, req.ModelName, latest.Version, domain.StageStaging, false)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Model %s version %d registered and transitioned to Staging.", req.ModelName, staged.Version)
	logger.Debug(msg)
	fmt.Fprintln(s.cfg.Stdout, msg)

	return &RegisterResult{RunID: run.ID, Version: staged, Signature: sig}, nil
}

func (s *RegistrarService) startRun(ctx context.Context) (*domain.Run, error) {
	exp, err := s.store.GetExperimentByName(ctx, s.cfg.ExperimentName)
	if errors.Is(err, domain.ErrExperimentNotFound) {
		exp, err = s.store.CreateExperiment(ctx, s.cfg.ExperimentName)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve experiment %q: %w", s.cfg.ExperimentName, err)
	}

	run, err := s.store.CreateRun(ctx, ports.CreateRunInput{
		ExperimentID: exp.ID,
		StartTime:    s.now(),
		Tags: map[string]string{
			domain.TagSourceName: "registrar",
			domain.TagSourceType: "LOCAL",
			domain.TagUser:       currentUser(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	log.WithFields(log.Fields{
		"run_id":        run.ID,
		"experiment_id": exp.ID,
	}).Info("started tracking run")
	return run, nil
}

// logModel uploads the model package to the run and registers it, returning
// the version created for this run once it is READY.
func (s *RegistrarService) logModel(ctx context.Context, run *domain.Run, flavor string, req RegisterRequest, input domain.Frame, sig domain.Signature) (*domain.ModelVersion, error) {
	pkg, err := writeModelPackage(req.ModelPath, flavor, run.ID, s.cfg.ArtifactPath, input, sig, s.now())
	if err != nil {
		return nil, err
	}
	defer pkg.Cleanup()

	if err := s.store.LogArtifacts(ctx, run, pkg.Dir, s.cfg.ArtifactPath); err != nil {
		return nil, fmt.Errorf("log model artifacts: %w", err)
	}

	history, err := pkg.HistoryTag()
	if err != nil {
		return nil, fmt.Errorf("encode log-model history: %w", err)
	}
	if err := s.store.SetTag(ctx, run.ID, domain.TagLogModelHistory, history); err != nil {
		return nil, fmt.Errorf("set log-model history tag: %w", err)
	}

	if err := s.models.Ensure(ctx, req.ModelName); err != nil {
		return nil, fmt.Errorf("create registered model: %w", err)
	}

	source := strings.TrimSuffix(run.ArtifactURI, "/") + "/" + path.Clean(s.cfg.ArtifactPath)
	mv, err := s.versions.Create(ctx, req.ModelName, source, run.ID)
	if err != nil {
		return nil, fmt.Errorf("create model version: %w", err)
	}

	log.WithFields(log.Fields{
		"model":   req.ModelName,
		"version": mv.Version,
		"source":  source,
	}).Info("created model version")

	return s.versions.WaitUntilReady(ctx, mv, s.cfg.ReadyTimeout)
}

func currentUser() string {
	for _, k := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(k); u != "" {
			return u
		}
	}
	return "unknown"
}
