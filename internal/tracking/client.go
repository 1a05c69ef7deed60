// Package tracking is a client for an MLflow-compatible experiment tracking
// server: experiments, runs, metrics, artifacts and the model registry.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"email-classifier/internal/retry"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the server reports RESOURCE_DOES_NOT_EXIST.
	ErrNotFound = errors.New("tracking resource not found")

	// ErrAlreadyExists is returned when the server reports RESOURCE_ALREADY_EXISTS.
	ErrAlreadyExists = errors.New("tracking resource already exists")

	errTransient = errors.New("transient tracking server error")
)

// APIError is a non-2xx response from the tracking server.
type APIError struct {
	StatusCode int
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking server returned status %d: %s %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "RESOURCE_DOES_NOT_EXIST" || e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.Code == "RESOURCE_ALREADY_EXISTS":
		return ErrAlreadyExists
	case e.StatusCode >= 500:
		return errTransient
	}
	return nil
}

// Client talks to the tracking server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at endpoint, e.g.
// "http://localhost:5000".
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:  retry.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.RetryableErrors = []error{errTransient}
	c.retry.Logger = c.logger
	return c
}

// Endpoint returns the server URL.
func (c *Client) Endpoint() string { return c.baseURL }

func (c *Client) apiURL(path string) string {
	return c.baseURL + "/api/2.0/mlflow/" + path
}

func (c *Client) artifactURL(path string) string {
	return c.baseURL + "/api/2.0/mlflow-artifacts/artifacts/" + strings.TrimLeft(path, "/")
}

// call sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) call(ctx context.Context, method, rawURL string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return retry.Do(ctx, c.retry, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w: %w", errTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if b, ok := out.(*[]byte); ok {
		*b, err = io.ReadAll(resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetExperimentByName returns ErrNotFound when no experiment has that name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	u := c.apiURL("experiments/get-by-name") + "?experiment_name=" + url.QueryEscape(name)
	if err := c.call(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("get experiment %q: %w", name, err)
	}
	return &resp.Experiment, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("experiments/create"), map[string]string{"name": name}, &resp); err != nil {
		return "", fmt.Errorf("create experiment %q: %w", name, err)
	}
	return resp.ExperimentID, nil
}

// EnsureExperiment returns the id of the named experiment, creating it if
// it does not exist yet.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (string, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		c.logger.Debug("Using experiment", zap.String("name", exp.Name), zap.String("id", exp.ExperimentID))
		return exp.ExperimentID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	c.logger.Info("Experiment not found, creating it", zap.String("name", name))
	id, err := c.CreateExperiment(ctx, name)
	if errors.Is(err, ErrAlreadyExists) {
		// created concurrently
		exp, err := c.GetExperimentByName(ctx, name)
		if err != nil {
			return "", err
		}
		return exp.ExperimentID, nil
	}
	return id, err
}

// StartRun opens a run in the experiment.
func (c *Client) StartRun(ctx context.Context, experimentID, runName string) (*Run, error) {
	req := map[string]any{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    time.Now().UnixMilli(),
	}
	var resp struct {
		Run struct {
			Info RunInfo `json:"info"`
		} `json:"run"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("runs/create"), req, &resp); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	info := resp.Run.Info
	if info.ExperimentID == "" {
		info.ExperimentID = experimentID
	}
	return &Run{ID: info.RunID, ExperimentID: info.ExperimentID, Name: runName}, nil
}

// EndRun marks the run terminated with status.
func (c *Client) EndRun(ctx context.Context, runID string, status RunStatus) error {
	req := map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("runs/update"), req, nil); err != nil {
		return fmt.Errorf("end run %s: %w", runID, err)
	}
	return nil
}

// LogParams records string parameters on the run in one batch.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	batch := make([]keyValue, 0, len(params))
	for _, k := range sortedKeys(params) {
		batch = append(batch, keyValue{Key: k, Value: params[k]})
	}
	req := map[string]any{"run_id": runID, "params": batch}
	if err := c.call(ctx, http.MethodPost, c.apiURL("runs/log-batch"), req, nil); err != nil {
		return fmt.Errorf("log params: %w", err)
	}
	return nil
}

// LogMetrics records metrics at step 0 in one batch.
func (c *Client) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	if len(metrics) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	batch := make([]Metric, 0, len(metrics))
	for _, k := range sortedKeys(metrics) {
		batch = append(batch, Metric{Key: k, Value: metrics[k], Timestamp: now})
	}
	req := map[string]any{"run_id": runID, "metrics": batch}
	if err := c.call(ctx, http.MethodPost, c.apiURL("runs/log-batch"), req, nil); err != nil {
		return fmt.Errorf("log metrics: %w", err)
	}
	return nil
}

// LogArtifact uploads data to path under the run's artifact root.
func (c *Client) LogArtifact(ctx context.Context, run *Run, path string, data []byte) error {
	u := c.artifactURL(run.ArtifactPath(path))
	err := retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		return c.do(req, nil)
	})
	if err != nil {
		return fmt.Errorf("log artifact %s: %w", path, err)
	}
	return nil
}

// DownloadArtifact fetches an artifact by its path relative to the
// artifact proxy root ("<experiment>/<run>/artifacts/<path>").
func (c *Client) DownloadArtifact(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	if err := c.call(ctx, http.MethodGet, c.artifactURL(path), nil, &data); err != nil {
		return nil, fmt.Errorf("download artifact %s: %w", path, err)
	}
	return data, nil
}

// SearchRuns lists runs of an experiment ordered by orderBy, e.g.
// "metrics.accuracy DESC".
func (c *Client) SearchRuns(ctx context.Context, experimentID, orderBy string, maxResults int) ([]RunRecord, error) {
	req := map[string]any{
		"experiment_ids": []string{experimentID},
		"max_results":    maxResults,
	}
	if orderBy != "" {
		req["order_by"] = []string{orderBy}
	}
	var resp struct {
		Runs []RunRecord `json:"runs"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("runs/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	return resp.Runs, nil
}

// BestMetric returns the highest value of metric among the experiment's
// finished runs, skipping excludeRunID. ok is false when no run logged it.
func (c *Client) BestMetric(ctx context.Context, experimentID, metric, excludeRunID string) (float64, bool, error) {
	runs, err := c.SearchRuns(ctx, experimentID, "metrics."+metric+" DESC", 50)
	if err != nil {
		return 0, false, err
	}
	best, found := 0.0, false
	for _, r := range runs {
		if r.Info.RunID == excludeRunID {
			continue
		}
		if v, ok := r.Metric(metric); ok && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found, nil
}

// CreateRegisteredModel creates name; an existing model is not an error.
func (c *Client) CreateRegisteredModel(ctx context.Context, name string) error {
	err := c.call(ctx, http.MethodPost, c.apiURL("registered-models/create"), map[string]string{"name": name}, nil)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("create registered model %q: %w", name, err)
	}
	return nil
}

// CreateModelVersion registers source as a new version of name.
func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	req := map[string]string{"name": name, "source": source, "run_id": runID}
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("model-versions/create"), req, &resp); err != nil {
		return nil, fmt.Errorf("create model version of %q: %w", name, err)
	}
	return &resp.ModelVersion, nil
}

// TransitionStage moves a model version to stage, archiving previous
// versions in that stage.
func (c *Client) TransitionStage(ctx context.Context, name, version, stage string) error {
	req := map[string]any{
		"name":                      name,
		"version":                   version,
		"stage":                     stage,
		"archive_existing_versions": true,
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("model-versions/transition-stage"), req, nil); err != nil {
		return fmt.Errorf("transition %s v%s to %s: %w", name, version, stage, err)
	}
	return nil
}

// DeleteModelVersion removes version of name from the registry.
func (c *Client) DeleteModelVersion(ctx context.Context, name, version string) error {
	req := map[string]string{"name": name, "version": version}
	if err := c.call(ctx, http.MethodDelete, c.apiURL("model-versions/delete"), req, nil); err != nil {
		return fmt.Errorf("delete %s v%s: %w", name, version, err)
	}
	return nil
}

// LatestVersion returns the newest version of name in stage, or ErrNotFound.
func (c *Client) LatestVersion(ctx context.Context, name, stage string) (*ModelVersion, error) {
	req := map[string]any{"name": name, "stages": []string{stage}}
	var resp struct {
		ModelVersions []ModelVersion `json:"model_versions"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiURL("registered-models/get-latest-versions"), req, &resp); err != nil {
		return nil, fmt.Errorf("latest version of %q: %w", name, err)
	}
	if len(resp.ModelVersions) == 0 {
		return nil, fmt.Errorf("model %q has no version in stage %q: %w", name, stage, ErrNotFound)
	}
	return &resp.ModelVersions[len(resp.ModelVersions)-1], nil
}
