package mlflow

import (
	"bytes"
	"strconv"
	"time"

	"model-registrar/internal/core/domain"
)

// int64Value decodes int64 fields that servers emit either as numbers or as
// strings.
type int64Value int64

func (v *int64Value) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*v = int64Value(n)
	return nil
}

func (v int64Value) time() time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(v))
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type runTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type experiment struct {
	ExperimentID     string     `json:"experiment_id"`
	Name             string     `json:"name"`
	ArtifactLocation string     `json:"artifact_location"`
	LifecycleStage   string     `json:"lifecycle_stage"`
	CreationTime     int64Value `json:"creation_time"`
}

func (e experiment) toDomain() *domain.Experiment {
	return &domain.Experiment{
		ID:               e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   e.LifecycleStage,
		CreatedAt:        e.CreationTime.time(),
	}
}

type runInfo struct {
	RunID          string     `json:"run_id"`
	RunUUID        string     `json:"run_uuid"`
	RunName        string     `json:"run_name"`
	ExperimentID   string     `json:"experiment_id"`
	Status         string     `json:"status"`
	StartTime      int64Value `json:"start_time"`
	EndTime        int64Value `json:"end_time"`
	ArtifactURI    string     `json:"artifact_uri"`
	LifecycleStage string     `json:"lifecycle_stage"`
}

type runData struct {
	Tags []runTag `json:"tags"`
}

type run struct {
	Info runInfo `json:"info"`
	Data runData `json:"data"`
}

func (r run) toDomain() *domain.Run {
	id := r.Info.RunID
	if id == "" {
		id = r.Info.RunUUID
	}
	tags := make(map[string]string, len(r.Data.Tags))
	for _, t := range r.Data.Tags {
		tags[t.Key] = t.Value
	}
	return &domain.Run{
		ID:           id,
		ExperimentID: r.Info.ExperimentID,
		Name:         r.Info.RunName,
		Status:       domain.RunStatus(r.Info.Status),
		ArtifactURI:  r.Info.ArtifactURI,
		StartTime:    r.Info.StartTime.time(),
		EndTime:      r.Info.EndTime.time(),
		Tags:         tags,
	}
}

type registeredModel struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	CreationTimestamp    int64Value `json:"creation_timestamp"`
	LastUpdatedTimestamp int64Value `json:"last_updated_timestamp"`
}

func (m registeredModel) toDomain() *domain.RegisteredModel {
	return &domain.RegisteredModel{
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreationTimestamp.time(),
		UpdatedAt:   m.LastUpdatedTimestamp.time(),
	}
}

type modelVersion struct {
	Name                 string     `json:"name"`
	Version              string     `json:"version"`
	CreationTimestamp    int64Value `json:"creation_timestamp"`
	LastUpdatedTimestamp int64Value `json:"last_updated_timestamp"`
	CurrentStage         string     `json:"current_stage"`
	Description          string     `json:"description"`
	Source               string     `json:"source"`
	RunID                string     `json:"run_id"`
	Status               string     `json:"status"`
	StatusMessage        string     `json:"status_message"`
}

func (v modelVersion) toDomain() (*domain.ModelVersion, error) {
	n, err := domain.ParseVersion(v.Version)
	if err != nil {
		return nil, err
	}
	stage := domain.Stage(v.CurrentStage)
	if stage == "" {
		stage = domain.StageNone
	}
	return &domain.ModelVersion{
		Name:          v.Name,
		Version:       n,
		Stage:         stage,
		Status:        domain.VersionStatus(v.Status),
		StatusMessage: v.StatusMessage,
		Description:   v.Description,
		Source:        v.Source,
		RunID:         v.RunID,
		CreatedAt:     v.CreationTimestamp.time(),
		UpdatedAt:     v.LastUpdatedTimestamp.time(),
	}, nil
}

// Request and response envelopes.

type createExperimentRequest struct {
	Name string `json:"name"`
}

type createExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type getExperimentResponse struct {
	Experiment experiment `json:"experiment"`
}

type createRunRequest struct {
	ExperimentID string   `json:"experiment_id"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time"`
	Tags         []runTag `json:"tags,omitempty"`
}

type runResponse struct {
	Run run `json:"run"`
}

type updateRunRequest struct {
	RunID   string `json:"run_id"`
	RunUUID string `json:"run_uuid"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time"`
}

type setTagRequest struct {
	RunID   string `json:"run_id"`
	RunUUID string `json:"run_uuid"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

type createRegisteredModelRequest struct {
	Name string `json:"name"`
}

type registeredModelResponse struct {
	RegisteredModel registeredModel `json:"registered_model"`
}

type createModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
}

type modelVersionResponse struct {
	ModelVersion modelVersion `json:"model_version"`
}

type getLatestVersionsRequest struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages,omitempty"`
}

type modelVersionsResponse struct {
	ModelVersions []modelVersion `json:"model_versions"`
}

type transitionStageRequest struct {
	Name                    string `json:"name"`
	Version                 string `json:"version"`
	Stage                   string `json:"stage"`
	ArchiveExistingVersions bool   `json:"archive_existing_versions"`
}
