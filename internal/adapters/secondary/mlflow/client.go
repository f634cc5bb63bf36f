// Package mlflow is a TrackingStore backed by the MLflow REST API.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/fsutil"
)

const (
	apiPrefix       = "/api/2.0/mlflow"
	artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts"
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

var _ ports.TrackingStore = (*Client)(nil)

// NewClient returns a REST client for the tracking server at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracking url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout:   timeout,
			Transport: newLoggingTransport(http.DefaultTransport),
		},
	}, nil
}

// ============================================================================
// Experiments
// ============================================================================

func (c *Client) GetExperimentByName(ctx context.Context, name string) (*domain.Experiment, error) {
	q := url.Values{}
	q.Set("experiment_name", name)

	var resp getExperimentResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/experiments/get-by-name?"+q.Encode(), nil, &resp); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return nil, domain.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("get experiment by name: %w", err)
	}
	return resp.Experiment.toDomain(), nil
}

func (c *Client) CreateExperiment(ctx context.Context, name string) (*domain.Experiment, error) {
	var resp createExperimentResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/experiments/create", createExperimentRequest{Name: name}, &resp); err != nil {
		if errors.Is(err, errResourceAlreadyExists) {
			return nil, domain.ErrExperimentConflict
		}
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	return &domain.Experiment{ID: resp.ExperimentID, Name: name}, nil
}

// ============================================================================
// Runs
// ============================================================================

func (c *Client) CreateRun(ctx context.Context, in ports.CreateRunInput) (*domain.Run, error) {
	req := createRunRequest{
		ExperimentID: in.ExperimentID,
		RunName:      in.RunName,
		StartTime:    in.StartTime.UnixMilli(),
	}
	for k, v := range in.Tags {
		req.Tags = append(req.Tags, runTag{Key: k, Value: v})
	}

	var resp runResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/create", req, &resp); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return resp.Run.toDomain(), nil
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status domain.RunStatus, endTime time.Time) error {
	req := updateRunRequest{RunID: runID, RunUUID: runID, Status: string(status), EndTime: endTime.UnixMilli()}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/update", req, nil); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return domain.ErrRunNotFound
		}
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	req := setTagRequest{RunID: runID, RunUUID: runID, Key: key, Value: value}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/set-tag", req, nil); err != nil {
		return fmt.Errorf("set tag: %w", err)
	}
	return nil
}

// LogArtifacts uploads through the artifact proxy for mlflow-artifacts: URIs
// and copies into place for file: URIs.
func (c *Client) LogArtifacts(ctx context.Context, r *domain.Run, localDir, artifactPath string) error {
	u, err := url.Parse(r.ArtifactURI)
	if err != nil {
		return fmt.Errorf("parse artifact uri: %w", err)
	}

	switch u.Scheme {
	case "mlflow-artifacts":
		return c.uploadArtifacts(ctx, u, localDir, artifactPath)
	case "file", "":
		root, err := fsutil.LocalPath(r.ArtifactURI)
		if err != nil {
			return err
		}
		return fsutil.CopyDir(localDir, filepath.Join(root, filepath.FromSlash(artifactPath)))
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedArtifactURI, r.ArtifactURI)
	}
}

func (c *Client) uploadArtifacts(ctx context.Context, artifactURI *url.URL, localDir, artifactPath string) error {
	files, err := fsutil.ListFiles(localDir)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	base := strings.Trim(artifactURI.Path, "/")
	for _, rel := range files {
		remote := path.Join(base, artifactPath, rel)
		if err := c.uploadFile(ctx, filepath.Join(localDir, filepath.FromSlash(rel)), remote); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) uploadFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	endpoint := c.baseURL + artifactsPrefix + "/" + escapePath(remote)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, f)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", remote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload artifact %s: %w", remote, decodeError(resp))
	}
	return nil
}

// ============================================================================
// Registry
// ============================================================================

func (c *Client) CreateRegisteredModel(ctx context.Context, name string) (*domain.RegisteredModel, error) {
	var resp registeredModelResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/registered-models/create", createRegisteredModelRequest{Name: name}, &resp); err != nil {
		if errors.Is(err, errResourceAlreadyExists) {
			return nil, domain.ErrModelNameConflict
		}
		return nil, fmt.Errorf("create registered model: %w", err)
	}
	return resp.RegisteredModel.toDomain(), nil
}

func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (*domain.ModelVersion, error) {
	req := createModelVersionRequest{Name: name, Source: source, RunID: runID}

	var resp modelVersionResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/model-versions/create", req, &resp); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("create model version: %w", err)
	}
	return resp.ModelVersion.toDomain()
}

func (c *Client) GetModelVersion(ctx context.Context, name string, version int) (*domain.ModelVersion, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("version", strconv.Itoa(version))

	var resp modelVersionResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/model-versions/get?"+q.Encode(), nil, &resp); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get model version: %w", err)
	}
	return resp.ModelVersion.toDomain()
}

func (c *Client) GetLatestVersions(ctx context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error) {
	req := getLatestVersionsRequest{Name: name}
	for _, s := range stages {
		req.Stages = append(req.Stages, string(s))
	}

	var resp modelVersionsResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/registered-models/get-latest-versions", req, &resp); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("get latest versions: %w", err)
	}

	out := make([]*domain.ModelVersion, 0, len(resp.ModelVersions))
	for _, v := range resp.ModelVersions {
		mv, err := v.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, nil
}

func (c *Client) TransitionModelVersionStage(ctx context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error) {
	req := transitionStageRequest{
		Name:                    name,
		Version:                 strconv.Itoa(version),
		Stage:                   string(stage),
		ArchiveExistingVersions: archiveExisting,
	}

	var resp modelVersionResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/model-versions/transition-stage", req, &resp); err != nil {
		if errors.Is(err, errResourceDoesNotExist) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("transition stage: %w", err)
	}
	return resp.ModelVersion.toDomain()
}

// ============================================================================
// Transport
// ============================================================================

var (
	errResourceAlreadyExists = errors.New("RESOURCE_ALREADY_EXISTS")
	errResourceDoesNotExist  = errors.New("RESOURCE_DOES_NOT_EXIST")
)

// APIError is a non-2xx response from the tracking server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("tracking server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tracking server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case errResourceAlreadyExists:
		return e.Code == "RESOURCE_ALREADY_EXISTS"
	case errResourceDoesNotExist:
		return e.Code == "RESOURCE_DOES_NOT_EXIST" || (e.Code == "" && e.StatusCode == http.StatusNotFound)
	}
	return false
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope apiError
	if err := json.Unmarshal(b, &envelope); err == nil && envelope.ErrorCode != "" {
		apiErr.Code = envelope.ErrorCode
		apiErr.Message = envelope.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}

	log.WithFields(log.Fields{
		"status": resp.StatusCode,
		"code":   apiErr.Code,
	}).Debug("tracking server error")
	return apiErr
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
