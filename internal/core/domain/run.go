package domain

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

// DefaultExperimentName is the experiment every tracking backend creates on first use.
const DefaultExperimentName = "Default"

type Experiment struct {
	ID               string    `json:"experiment_id"`
	Name             string    `json:"name"`
	ArtifactLocation string    `json:"artifact_location"`
	LifecycleStage   string    `json:"lifecycle_stage"`
	CreatedAt        time.Time `json:"creation_time"`
}

type Run struct {
	ID           string            `json:"run_id"`
	ExperimentID string            `json:"experiment_id"`
	Name         string            `json:"run_name"`
	Status       RunStatus         `json:"status"`
	ArtifactURI  string            `json:"artifact_uri"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Tags         map[string]string `json:"tags"`
}

// Well-known run tags.
const (
	TagRunName         = "mlflow.runName"
	TagUser            = "mlflow.user"
	TagSourceName      = "mlflow.source.name"
	TagSourceType      = "mlflow.source.type"
	TagLogModelHistory = "mlflow.log-model.history"
)
