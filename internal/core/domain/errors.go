package domain

import "errors"

// ============================================================================
// Model Registry Errors
// ============================================================================

var (
	ErrModelNotFound       = errors.New("registered model not found")
	ErrModelNameConflict   = errors.New("registered model with this name already exists")
	ErrVersionNotFound     = errors.New("model version not found")
	ErrNoUnstagedVersion   = errors.New("no model version in stage None")
	ErrInvalidModelName    = errors.New("model name is required")
	ErrInvalidStage        = errors.New("invalid stage")
	ErrInvalidVersion      = errors.New("model version must be a positive integer")
	ErrRegistrationFailed  = errors.New("model version registration failed")
	ErrRegistrationTimeout = errors.New("timed out waiting for model version to become READY")
)

// ============================================================================
// Tracking Errors
// ============================================================================

var (
	ErrExperimentNotFound     = errors.New("experiment not found")
	ErrExperimentConflict     = errors.New("experiment with this name already exists")
	ErrRunNotFound            = errors.New("run not found")
	ErrUnsupportedScheme      = errors.New("unsupported tracking URI scheme")
	ErrUnsupportedArtifactURI = errors.New("unsupported artifact URI")
)

// ============================================================================
// Artifact Errors
// ============================================================================

var (
	ErrArtifactLoad    = errors.New("failed to load artifact")
	ErrPrediction      = errors.New("model rejected example input")
	ErrFeatureMismatch = errors.New("input column count does not match the model feature count")
)
