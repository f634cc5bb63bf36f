package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/fsutil"
)

const (
	mlmodelFileName      = "MLmodel"
	inputExampleFileName = "input_example.json"
	utcTimeLayout        = "2006-01-02 15:04:05.000000"
)

type savedInputExampleInfo struct {
	ArtifactPath string `yaml:"artifact_path"`
	PandasOrient string `yaml:"pandas_orient"`
	Type         string `yaml:"type"`
}

type mlmodelSignature struct {
	Inputs  string  `yaml:"inputs"`
	Outputs string  `yaml:"outputs"`
	Params  *string `yaml:"params"`
}

// mlmodel is the MLmodel descriptor written next to every logged model.
type mlmodel struct {
	ArtifactPath          string                    `yaml:"artifact_path"`
	Flavors               map[string]map[string]any `yaml:"flavors"`
	ModelSizeBytes        int64                     `yaml:"model_size_bytes"`
	ModelUUID             string                    `yaml:"model_uuid"`
	RunID                 string                    `yaml:"run_id"`
	SavedInputExampleInfo savedInputExampleInfo     `yaml:"saved_input_example_info"`
	Signature             mlmodelSignature          `yaml:"signature"`
	UTCTimeCreated        string                    `yaml:"utc_time_created"`
}

// logModelHistoryEntry is one element of the mlflow.log-model.history run tag.
type logModelHistoryEntry struct {
	RunID          string                    `json:"run_id"`
	ArtifactPath   string                    `json:"artifact_path"`
	UTCTimeCreated string                    `json:"utc_time_created"`
	Flavors        map[string]map[string]any `json:"flavors"`
	ModelUUID      string                    `json:"model_uuid"`
}

type modelPackage struct {
	Dir        string
	Descriptor mlmodel
}

// writeModelPackage stages the model directory (model file, MLmodel,
// input_example.json) in a fresh temporary directory.
func writeModelPackage(modelPath, flavor, runID, artifactPath string, input domain.Frame, sig domain.Signature, now time.Time) (*modelPackage, error) {
	dir, err := os.MkdirTemp("", "registrar-model-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	dataName := filepath.Base(modelPath)
	if err := fsutil.CopyFile(modelPath, filepath.Join(dir, dataName)); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stage model file: %w", err)
	}
	info, err := os.Stat(filepath.Join(dir, dataName))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stage model file: %w", err)
	}

	example, err := input.MarshalSplit()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encode input example: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, inputExampleFileName), example, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write input example: %w", err)
	}

	inputs, err := sig.InputsJSON()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encode signature inputs: %w", err)
	}
	outputs, err := sig.OutputsJSON()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encode signature outputs: %w", err)
	}

	desc := mlmodel{
		ArtifactPath: artifactPath,
		Flavors: map[string]map[string]any{
			flavor: {
				"data":        dataName,
				"model_class": flavorModelClass(flavor),
				"code":        nil,
			},
		},
		ModelSizeBytes: info.Size(),
		ModelUUID:      strings.ReplaceAll(uuid.New().String(), "-", ""),
		RunID:          runID,
		SavedInputExampleInfo: savedInputExampleInfo{
			ArtifactPath: inputExampleFileName,
			PandasOrient: "split",
			Type:         "dataframe",
		},
		Signature:      mlmodelSignature{Inputs: inputs, Outputs: outputs},
		UTCTimeCreated: now.UTC().Format(utcTimeLayout),
	}

	b, err := yaml.Marshal(desc)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encode MLmodel: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mlmodelFileName), b, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write MLmodel: %w", err)
	}

	return &modelPackage{Dir: dir, Descriptor: desc}, nil
}

// HistoryTag renders the value of the mlflow.log-model.history tag.
func (p *modelPackage) HistoryTag() (string, error) {
	entries := []logModelHistoryEntry{{
		RunID:          p.Descriptor.RunID,
		ArtifactPath:   p.Descriptor.ArtifactPath,
		UTCTimeCreated: p.Descriptor.UTCTimeCreated,
		Flavors:        p.Descriptor.Flavors,
		ModelUUID:      p.Descriptor.ModelUUID,
	}}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *modelPackage) Cleanup() {
	os.RemoveAll(p.Dir)
}

func flavorModelClass(flavor string) string {
	switch flavor {
	case "lightgbm":
		return "lightgbm.basic.Booster"
	default:
		return flavor
	}
}
