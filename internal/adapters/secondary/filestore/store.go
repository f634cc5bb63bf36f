// Package filestore keeps tracking and registry state in a local directory
// using the same layout as the MLflow file store, so runs and models logged
// here can be browsed with the stock MLflow UI.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/fsutil"
)

const (
	metaFile       = "meta.yaml"
	modelsDir      = "models"
	tagsDir        = "tags"
	artifactsDir   = "artifacts"
	versionPrefix  = "version-"
	defaultExpID   = "0"
	lifecycleAlive = "active"
)

var runStatusCodes = map[domain.RunStatus]int{
	domain.RunStatusRunning:   1,
	domain.RunStatusScheduled: 2,
	domain.RunStatusFinished:  3,
	domain.RunStatusFailed:    4,
	domain.RunStatusKilled:    5,
}

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string   `yaml:"artifact_uri"`
	EndTime        *int64   `yaml:"end_time"`
	EntryPointName string   `yaml:"entry_point_name"`
	ExperimentID   string   `yaml:"experiment_id"`
	LifecycleStage string   `yaml:"lifecycle_stage"`
	RunID          string   `yaml:"run_id"`
	RunName        string   `yaml:"run_name"`
	RunUUID        string   `yaml:"run_uuid"`
	SourceName     string   `yaml:"source_name"`
	SourceType     int      `yaml:"source_type"`
	SourceVersion  string   `yaml:"source_version"`
	StartTime      int64    `yaml:"start_time"`
	Status         int      `yaml:"status"`
	Tags           []string `yaml:"tags"`
	UserID         string   `yaml:"user_id"`
}

type registeredModelMeta struct {
	CreationTimestamp    int64  `yaml:"creation_timestamp"`
	Description          string `yaml:"description"`
	LastUpdatedTimestamp int64  `yaml:"last_updated_timestamp"`
	Name                 string `yaml:"name"`
}

type modelVersionMeta struct {
	CreationTimestamp    int64  `yaml:"creation_timestamp"`
	CurrentStage         string `yaml:"current_stage"`
	Description          string `yaml:"description"`
	LastUpdatedTimestamp int64  `yaml:"last_updated_timestamp"`
	Name                 string `yaml:"name"`
	RunID                string `yaml:"run_id"`
	RunLink              string `yaml:"run_link"`
	Source               string `yaml:"source"`
	Status               string `yaml:"status"`
	StatusMessage        string `yaml:"status_message"`
	UserID               string `yaml:"user_id"`
	Version              int    `yaml:"version"`
}

// Store is a TrackingStore rooted at a local directory.
type Store struct {
	root string
	now  func() time.Time
}

// New opens (creating if needed) a store rooted at root and makes sure the
// Default experiment exists.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	s := &Store{root: abs, now: time.Now}
	if _, err := os.Stat(filepath.Join(abs, defaultExpID, metaFile)); errors.Is(err, os.ErrNotExist) {
		if _, err := s.createExperiment(defaultExpID, domain.DefaultExperimentName); err != nil {
			return nil, err
		}
	}

	log.WithField("root", abs).Debug("opened file tracking store")
	return s, nil
}

var _ ports.TrackingStore = (*Store)(nil)

// Root is the absolute store directory.
func (s *Store) Root() string { return s.root }

// ============================================================================
// Experiments
// ============================================================================

func (s *Store) GetExperimentByName(_ context.Context, name string) (*domain.Experiment, error) {
	exps, err := s.listExperiments()
	if err != nil {
		return nil, err
	}
	for _, e := range exps {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, domain.ErrExperimentNotFound
}

func (s *Store) CreateExperiment(ctx context.Context, name string) (*domain.Experiment, error) {
	if _, err := s.GetExperimentByName(ctx, name); err == nil {
		return nil, domain.ErrExperimentConflict
	}

	exps, err := s.listExperiments()
	if err != nil {
		return nil, err
	}
	next := 0
	for _, e := range exps {
		if id, err := strconv.Atoi(e.ID); err == nil && id >= next {
			next = id + 1
		}
	}
	return s.createExperiment(strconv.Itoa(next), name)
}

func (s *Store) createExperiment(id, name string) (*domain.Experiment, error) {
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create experiment dir: %w", err)
	}

	now := s.now()
	meta := experimentMeta{
		ArtifactLocation: fsutil.FileURI(dir),
		CreationTime:     now.UnixMilli(),
		ExperimentID:     id,
		LastUpdateTime:   now.UnixMilli(),
		LifecycleStage:   lifecycleAlive,
		Name:             name,
	}
	if err := writeYAML(filepath.Join(dir, metaFile), meta); err != nil {
		return nil, fmt.Errorf("write experiment meta: %w", err)
	}
	return meta.toDomain(), nil
}

func (s *Store) listExperiments() ([]*domain.Experiment, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	var out []*domain.Experiment
	for _, e := range entries {
		if !e.IsDir() || e.Name() == modelsDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		var meta experimentMeta
		if err := readYAML(filepath.Join(s.root, e.Name(), metaFile), &meta); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read experiment %s: %w", e.Name(), err)
		}
		out = append(out, meta.toDomain())
	}
	return out, nil
}

func (m experimentMeta) toDomain() *domain.Experiment {
	return &domain.Experiment{
		ID:               m.ExperimentID,
		Name:             m.Name,
		ArtifactLocation: m.ArtifactLocation,
		LifecycleStage:   m.LifecycleStage,
		CreatedAt:        time.UnixMilli(m.CreationTime),
	}
}

// ============================================================================
// Runs
// ============================================================================

func (s *Store) CreateRun(_ context.Context, in ports.CreateRunInput) (*domain.Run, error) {
	expDir := filepath.Join(s.root, in.ExperimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrExperimentNotFound, in.ExperimentID)
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	runDir := filepath.Join(expDir, id)
	if err := os.MkdirAll(filepath.Join(runDir, artifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	name := in.RunName
	if name == "" {
		name = "registrar-" + id[:8]
	}
	start := in.StartTime
	if start.IsZero() {
		start = s.now()
	}

	tags := make(map[string]string, len(in.Tags)+1)
	for k, v := range in.Tags {
		tags[k] = v
	}
	tags[domain.TagRunName] = name

	meta := runMeta{
		ArtifactURI:    fsutil.FileURI(filepath.Join(runDir, artifactsDir)),
		ExperimentID:   in.ExperimentID,
		LifecycleStage: lifecycleAlive,
		RunID:          id,
		RunName:        name,
		RunUUID:        id,
		SourceName:     tags[domain.TagSourceName],
		SourceType:     4,
		StartTime:      start.UnixMilli(),
		Status:         runStatusCodes[domain.RunStatusRunning],
		Tags:           []string{},
		UserID:         tags[domain.TagUser],
	}
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, fmt.Errorf("write run meta: %w", err)
	}
	for k, v := range tags {
		if err := s.writeTag(runDir, k, v); err != nil {
			return nil, err
		}
	}

	return &domain.Run{
		ID:           id,
		ExperimentID: in.ExperimentID,
		Name:         name,
		Status:       domain.RunStatusRunning,
		ArtifactURI:  meta.ArtifactURI,
		StartTime:    time.UnixMilli(meta.StartTime),
		Tags:         tags,
	}, nil
}

func (s *Store) UpdateRun(_ context.Context, runID string, status domain.RunStatus, endTime time.Time) error {
	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}
	code, ok := runStatusCodes[status]
	if !ok {
		return fmt.Errorf("unknown run status %q", status)
	}

	var meta runMeta
	if err := readYAML(filepath.Join(runDir, metaFile), &meta); err != nil {
		return fmt.Errorf("read run meta: %w", err)
	}
	meta.Status = code
	end := endTime.UnixMilli()
	meta.EndTime = &end
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return fmt.Errorf("write run meta: %w", err)
	}
	return nil
}

func (s *Store) SetTag(_ context.Context, runID, key, value string) error {
	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}
	return s.writeTag(runDir, key, value)
}

func (s *Store) LogArtifacts(_ context.Context, run *domain.Run, localDir, artifactPath string) error {
	root, err := fsutil.LocalPath(run.ArtifactURI)
	if err != nil {
		return err
	}
	dst := filepath.Join(root, filepath.FromSlash(artifactPath))
	if err := fsutil.CopyDir(localDir, dst); err != nil {
		return fmt.Errorf("copy artifacts: %w", err)
	}
	return nil
}

// GetRun reads back a run, including its tags.
func (s *Store) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	runDir, err := s.findRun(runID)
	if err != nil {
		return nil, err
	}
	var meta runMeta
	if err := readYAML(filepath.Join(runDir, metaFile), &meta); err != nil {
		return nil, fmt.Errorf("read run meta: %w", err)
	}

	run := &domain.Run{
		ID:           meta.RunID,
		ExperimentID: meta.ExperimentID,
		Name:         meta.RunName,
		ArtifactURI:  meta.ArtifactURI,
		StartTime:    time.UnixMilli(meta.StartTime),
		Tags:         map[string]string{},
	}
	for st, code := range runStatusCodes {
		if code == meta.Status {
			run.Status = st
		}
	}
	if meta.EndTime != nil {
		run.EndTime = time.UnixMilli(*meta.EndTime)
	}

	entries, err := os.ReadDir(filepath.Join(runDir, tagsDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(runDir, tagsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read tag %s: %w", e.Name(), err)
		}
		run.Tags[e.Name()] = string(b)
	}
	return run, nil
}

func (s *Store) findRun(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\.`) {
		return "", domain.ErrRunNotFound
	}
	exps, err := s.listExperiments()
	if err != nil {
		return "", err
	}
	for _, e := range exps {
		dir := filepath.Join(s.root, e.ID, runID)
		if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
}

func (s *Store) writeTag(runDir, key, value string) error {
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid tag key %q", key)
	}
	dir := filepath.Join(runDir, tagsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tags dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write tag %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// Registry
// ============================================================================

func (s *Store) CreateRegisteredModel(_ context.Context, name string) (*domain.RegisteredModel, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, domain.ErrModelNameConflict
		}
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	now := s.now().UnixMilli()
	meta := registeredModelMeta{CreationTimestamp: now, LastUpdatedTimestamp: now, Name: name}
	if err := writeYAML(filepath.Join(dir, metaFile), meta); err != nil {
		return nil, fmt.Errorf("write model meta: %w", err)
	}
	return &domain.RegisteredModel{
		Name:      name,
		CreatedAt: time.UnixMilli(now),
		UpdatedAt: time.UnixMilli(now),
	}, nil
}

func (s *Store) CreateModelVersion(_ context.Context, name, source, runID string) (*domain.ModelVersion, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
	}

	versions, err := s.listVersions(name)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, v := range versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	// Mkdir is the claim: a concurrent writer that got there first pushes us
	// to the next number.
	var vdir string
	for {
		vdir = filepath.Join(dir, versionPrefix+strconv.Itoa(next))
		err := os.Mkdir(vdir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create version dir: %w", err)
		}
		next++
	}

	now := s.now().UnixMilli()
	meta := modelVersionMeta{
		CreationTimestamp:    now,
		CurrentStage:         string(domain.StageNone),
		LastUpdatedTimestamp: now,
		Name:                 name,
		RunID:                runID,
		Source:               source,
		Status:               string(domain.VersionStatusReady),
		Version:              next,
	}
	if err := writeYAML(filepath.Join(vdir, metaFile), meta); err != nil {
		return nil, fmt.Errorf("write version meta: %w", err)
	}
	if err := s.touchModel(name, now); err != nil {
		return nil, err
	}
	return meta.toDomain(), nil
}

func (s *Store) GetModelVersion(_ context.Context, name string, version int) (*domain.ModelVersion, error) {
	meta, err := s.readVersion(name, version)
	if err != nil {
		return nil, err
	}
	return meta.toDomain(), nil
}

func (s *Store) GetLatestVersions(_ context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
	}

	versions, err := s.listVersions(name)
	if err != nil {
		return nil, err
	}
	return domain.LatestPerStage(versions, stages), nil
}

// ListVersions returns every version of name ordered by version number.
func (s *Store) ListVersions(_ context.Context, name string) ([]*domain.ModelVersion, error) {
	return s.listVersions(name)
}

func (s *Store) TransitionModelVersionStage(_ context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error) {
	meta, err := s.readVersion(name, version)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	if archiveExisting && (stage == domain.StageStaging || stage == domain.StageProduction) {
		others, err := s.listVersions(name)
		if err != nil {
			return nil, err
		}
		for _, o := range others {
			if o.Version == version || o.Stage != stage {
				continue
			}
			om, err := s.readVersion(name, o.Version)
			if err != nil {
				return nil, err
			}
			om.CurrentStage = string(domain.StageArchived)
			om.LastUpdatedTimestamp = now
			if err := s.writeVersion(name, om); err != nil {
				return nil, err
			}
		}
	}

	meta.CurrentStage = string(stage)
	meta.LastUpdatedTimestamp = now
	if err := s.writeVersion(name, meta); err != nil {
		return nil, err
	}
	if err := s.touchModel(name, now); err != nil {
		return nil, err
	}
	return meta.toDomain(), nil
}

func (s *Store) modelDir(name string) (string, error) {
	if name == "" {
		return "", domain.ErrInvalidModelName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidModelName, name)
	}
	return filepath.Join(s.root, modelsDir, name), nil
}

func (s *Store) listVersions(name string) ([]*domain.ModelVersion, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
		}
		return nil, fmt.Errorf("list versions: %w", err)
	}

	var out []*domain.ModelVersion
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), versionPrefix) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimPrefix(e.Name(), versionPrefix))
		if err != nil {
			continue
		}
		meta, err := s.readVersion(name, v)
		if err != nil {
			// a version directory claimed but not yet written
			if errors.Is(err, domain.ErrVersionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, meta.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) readVersion(name string, version int) (*modelVersionMeta, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	var meta modelVersionMeta
	path := filepath.Join(dir, versionPrefix+strconv.Itoa(version), metaFile)
	if err := readYAML(path, &meta); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s version %d", domain.ErrVersionNotFound, name, version)
		}
		return nil, fmt.Errorf("read version meta: %w", err)
	}
	return &meta, nil
}

func (s *Store) writeVersion(name string, meta *modelVersionMeta) error {
	dir, err := s.modelDir(name)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, versionPrefix+strconv.Itoa(meta.Version), metaFile)
	if err := writeYAML(path, meta); err != nil {
		return fmt.Errorf("write version meta: %w", err)
	}
	return nil
}

func (s *Store) touchModel(name string, now int64) error {
	dir, err := s.modelDir(name)
	if err != nil {
		return err
	}
	var meta registeredModelMeta
	path := filepath.Join(dir, metaFile)
	if err := readYAML(path, &meta); err != nil {
		return fmt.Errorf("read model meta: %w", err)
	}
	meta.LastUpdatedTimestamp = now
	if err := writeYAML(path, meta); err != nil {
		return fmt.Errorf("write model meta: %w", err)
	}
	return nil
}

func (m *modelVersionMeta) toDomain() *domain.ModelVersion {
	return &domain.ModelVersion{
		Name:          m.Name,
		Version:       m.Version,
		Stage:         domain.Stage(m.CurrentStage),
		Status:        domain.VersionStatus(m.Status),
		StatusMessage: m.StatusMessage,
		Description:   m.Description,
		Source:        m.Source,
		RunID:         m.RunID,
		CreatedAt:     time.UnixMilli(m.CreationTimestamp),
		UpdatedAt:     time.UnixMilli(m.LastUpdatedTimestamp),
	}
}

// ============================================================================
// YAML helpers
// ============================================================================

func readYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// writeYAML replaces path atomically via a temp file in the same directory.
func writeYAML(path string, in any) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
