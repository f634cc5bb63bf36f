package domain

import (
	"strconv"
	"strings"
	"time"
)

// Stage is the lifecycle label of a registered model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// AllStages lists the stages in the order registries report them.
var AllStages = []Stage{StageNone, StageStaging, StageProduction, StageArchived}

// ParseStage accepts any casing of a known stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range AllStages {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", ErrInvalidStage
}

type VersionStatus string

const (
	VersionStatusPending VersionStatus = "PENDING_REGISTRATION"
	VersionStatusFailed  VersionStatus = "FAILED_REGISTRATION"
	VersionStatusReady   VersionStatus = "READY"
)

type ModelVersion struct {
	Name          string        `json:"name"`
	Version       int           `json:"version"`
	Stage         Stage         `json:"current_stage"`
	Status        VersionStatus `json:"status"`
	StatusMessage string        `json:"status_message"`
	Description   string        `json:"description"`
	Source        string        `json:"source"`
	RunID         string        `json:"run_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ParseVersion converts the string form used on the wire into a version number.
func ParseVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return 0, ErrInvalidVersion
	}
	return v, nil
}

// LatestPerStage keeps the highest version of each requested stage, in the
// order the stages are given. A nil stages slice means every stage.
func LatestPerStage(versions []*ModelVersion, stages []Stage) []*ModelVersion {
	if len(stages) == 0 {
		stages = AllStages
	}

	latest := make(map[Stage]*ModelVersion)
	for _, v := range versions {
		cur, ok := latest[v.Stage]
		if !ok || v.Version > cur.Version {
			latest[v.Stage] = v
		}
	}

	var out []*ModelVersion
	for _, st := range stages {
		if v, ok := latest[st]; ok {
			out = append(out, v)
		}
	}
	return out
}
