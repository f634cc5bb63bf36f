// Package postgres is a TrackingStore on a PostgreSQL database laid out like
// the MLflow SQL backend. Artifacts are kept on local disk.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/fsutil"
)

const (
	pgUniqueViolation = "23505"
	lifecycleActive   = "active"
	sourceTypeLocal   = "LOCAL"
)

type TrackingStore struct {
	pool         *pgxpool.Pool
	artifactRoot string
	now          func() time.Time
}

var _ ports.TrackingStore = (*TrackingStore)(nil)

// NewTrackingStore wraps pool. artifactRoot is made absolute so run artifact
// URIs stay valid from any working directory.
func NewTrackingStore(pool *pgxpool.Pool, artifactRoot string) (*TrackingStore, error) {
	abs, err := filepath.Abs(artifactRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	return &TrackingStore{pool: pool, artifactRoot: abs, now: time.Now}, nil
}

// ============================================================================
// Experiments
// ============================================================================

func (s *TrackingStore) GetExperimentByName(ctx context.Context, name string) (*domain.Experiment, error) {
	query := `
		SELECT experiment_id, name, COALESCE(artifact_location, ''), lifecycle_stage, COALESCE(creation_time, 0)
		FROM experiments
		WHERE name = $1
	`
	var (
		exp     domain.Experiment
		id      int
		created int64
	)
	err := s.pool.QueryRow(ctx, query, name).Scan(&id, &exp.Name, &exp.ArtifactLocation, &exp.LifecycleStage, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("get experiment by name: %w", err)
	}
	exp.ID = strconv.Itoa(id)
	exp.CreatedAt = time.UnixMilli(created)
	return &exp, nil
}

func (s *TrackingStore) CreateExperiment(ctx context.Context, name string) (*domain.Experiment, error) {
	now := s.now()
	query := `
		INSERT INTO experiments (name, lifecycle_stage, creation_time, last_update_time)
		VALUES ($1, $2, $3, $3)
		RETURNING experiment_id
	`
	var id int
	if err := s.pool.QueryRow(ctx, query, name, lifecycleActive, now.UnixMilli()).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrExperimentConflict
		}
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	log.WithFields(log.Fields{"experiment": name, "id": id}).Info("experiment created")
	return &domain.Experiment{
		ID:             strconv.Itoa(id),
		Name:           name,
		LifecycleStage: lifecycleActive,
		CreatedAt:      time.UnixMilli(now.UnixMilli()),
	}, nil
}

// ============================================================================
// Runs
// ============================================================================

func (s *TrackingStore) CreateRun(ctx context.Context, in ports.CreateRunInput) (*domain.Run, error) {
	expID, err := strconv.Atoi(in.ExperimentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrExperimentNotFound, in.ExperimentID)
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
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

	artifactURI := fsutil.FileURI(filepath.Join(s.artifactRoot, in.ExperimentID, id, "artifacts"))

	err = withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO runs
				(run_uuid, name, experiment_id, user_id, status, start_time,
				 source_type, source_name, artifact_uri, lifecycle_stage)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`
		_, err := tx.Exec(ctx, query,
			id, name, expID, tags[domain.TagUser], string(domain.RunStatusRunning), start.UnixMilli(),
			sourceTypeLocal, tags[domain.TagSourceName], artifactURI, lifecycleActive,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("%w: %s", domain.ErrExperimentNotFound, in.ExperimentID)
			}
			return fmt.Errorf("create run: %w", err)
		}
		for k, v := range tags {
			if err := upsertTag(ctx, tx, id, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.Run{
		ID:           id,
		ExperimentID: in.ExperimentID,
		Name:         name,
		Status:       domain.RunStatusRunning,
		ArtifactURI:  artifactURI,
		StartTime:    time.UnixMilli(start.UnixMilli()),
		Tags:         tags,
	}, nil
}

func (s *TrackingStore) UpdateRun(ctx context.Context, runID string, status domain.RunStatus, endTime time.Time) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, end_time = $2 WHERE run_uuid = $3`,
		string(status), endTime.UnixMilli(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (s *TrackingStore) SetTag(ctx context.Context, runID, key, value string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE run_uuid = $1)`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("set tag: %w", err)
	}
	if !exists {
		return domain.ErrRunNotFound
	}
	return upsertTag(ctx, s.pool, runID, key, value)
}

func (s *TrackingStore) LogArtifacts(_ context.Context, run *domain.Run, localDir, artifactPath string) error {
	root, err := fsutil.LocalPath(run.ArtifactURI)
	if err != nil {
		return err
	}
	if err := fsutil.CopyDir(localDir, filepath.Join(root, filepath.FromSlash(artifactPath))); err != nil {
		return fmt.Errorf("copy artifacts: %w", err)
	}
	return nil
}

func upsertTag(ctx context.Context, q querier, runID, key, value string) error {
	query := `
		INSERT INTO tags (key, value, run_uuid) VALUES ($1, $2, $3)
		ON CONFLICT (key, run_uuid) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := q.Exec(ctx, query, key, value, runID); err != nil {
		return fmt.Errorf("set tag %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// Registry
// ============================================================================

const versionColumns = `
	name, version, COALESCE(creation_time, 0), COALESCE(last_updated_time, 0),
	COALESCE(description, ''), current_stage, COALESCE(source, ''),
	COALESCE(run_id, ''), status, COALESCE(status_message, '')
`

func (s *TrackingStore) CreateRegisteredModel(ctx context.Context, name string) (*domain.RegisteredModel, error) {
	if name == "" {
		return nil, domain.ErrInvalidModelName
	}
	now := s.now().UnixMilli()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO registered_models (name, creation_time, last_updated_time, description) VALUES ($1, $2, $2, '')`,
		name, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrModelNameConflict
		}
		return nil, fmt.Errorf("create registered model: %w", err)
	}
	return &domain.RegisteredModel{Name: name, CreatedAt: time.UnixMilli(now), UpdatedAt: time.UnixMilli(now)}, nil
}

// CreateModelVersion numbers the new version under a row lock on the parent
// model so concurrent registrations never share a number.
func (s *TrackingStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*domain.ModelVersion, error) {
	now := s.now().UnixMilli()

	var mv *domain.ModelVersion
	err := withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT name FROM registered_models WHERE name = $1 FOR UPDATE`, name).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrModelNotFound
			}
			return fmt.Errorf("lock registered model: %w", err)
		}

		var next int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = $1`, name).Scan(&next); err != nil {
			return fmt.Errorf("next version: %w", err)
		}

		query := `
			INSERT INTO model_versions
				(name, version, creation_time, last_updated_time, description,
				 current_stage, source, run_id, status, status_message)
			VALUES ($1, $2, $3, $3, '', $4, $5, $6, $7, '')
			RETURNING ` + versionColumns
		mv, err = scanVersion(tx.QueryRow(ctx, query,
			name, next, now, string(domain.StageNone), source, runID, string(domain.VersionStatusReady),
		))
		if err != nil {
			return fmt.Errorf("create model version: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE registered_models SET last_updated_time = $1 WHERE name = $2`, now, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

func (s *TrackingStore) GetModelVersion(ctx context.Context, name string, version int) (*domain.ModelVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM model_versions WHERE name = $1 AND version = $2`
	mv, err := scanVersion(s.pool.QueryRow(ctx, query, name, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get model version: %w", err)
	}
	return mv, nil
}

func (s *TrackingStore) GetLatestVersions(ctx context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registered_models WHERE name = $1)`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("get latest versions: %w", err)
	}
	if !exists {
		return nil, domain.ErrModelNotFound
	}

	rows, err := s.pool.Query(ctx, `SELECT `+versionColumns+` FROM model_versions WHERE name = $1 ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.ModelVersion
	for rows.Next() {
		mv, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		versions = append(versions, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	return domain.LatestPerStage(versions, stages), nil
}

func (s *TrackingStore) TransitionModelVersionStage(ctx context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error) {
	now := s.now().UnixMilli()

	var mv *domain.ModelVersion
	err := withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		query := `
			UPDATE model_versions SET current_stage = $1, last_updated_time = $2
			WHERE name = $3 AND version = $4
			RETURNING ` + versionColumns
		var err error
		mv, err = scanVersion(tx.QueryRow(ctx, query, string(stage), now, name, version))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrVersionNotFound
			}
			return fmt.Errorf("transition model version: %w", err)
		}

		if archiveExisting && (stage == domain.StageStaging || stage == domain.StageProduction) {
			_, err = tx.Exec(ctx, `
				UPDATE model_versions SET current_stage = $1, last_updated_time = $2
				WHERE name = $3 AND version <> $4 AND current_stage = $5
			`, string(domain.StageArchived), now, name, version, string(stage))
			if err != nil {
				return fmt.Errorf("archive existing versions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

func scanVersion(row pgx.Row) (*domain.ModelVersion, error) {
	var (
		mv               domain.ModelVersion
		created, updated int64
		stage, status    string
	)
	err := row.Scan(&mv.Name, &mv.Version, &created, &updated, &mv.Description,
		&stage, &mv.Source, &mv.RunID, &status, &mv.StatusMessage)
	if err != nil {
		return nil, err
	}
	mv.Stage = domain.Stage(stage)
	mv.Status = domain.VersionStatus(status)
	mv.CreatedAt = time.UnixMilli(created)
	mv.UpdatedAt = time.UnixMilli(updated)
	return &mv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
