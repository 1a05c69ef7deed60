package tracking

import (
	"path"
	"sort"
	"strings"
)

// RunStatus is the terminal state recorded when a run ends.
type RunStatus string

const (
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
)

// Experiment is a named group of runs.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
}

// RunInfo is the metadata block of a run.
type RunInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name"`
	Status       string `json:"status"`
	ArtifactURI  string `json:"artifact_uri"`
}

// Run is an open tracking scope.
type Run struct {
	ID           string
	ExperimentID string
	Name         string
}

// ArtifactPath is p relative to the artifact proxy root.
func (r *Run) ArtifactPath(p string) string {
	return path.Join(r.ExperimentID, r.ID, "artifacts", p)
}

// ArtifactURI is the registry source URI for p.
func (r *Run) ArtifactURI(p string) string {
	return "mlflow-artifacts:/" + r.ArtifactPath(p)
}

// ArtifactPathFromURI converts a "mlflow-artifacts:/..." URI back into a
// proxy-relative path.
func ArtifactPathFromURI(uri string) string {
	p := strings.TrimPrefix(uri, "mlflow-artifacts:")
	return strings.TrimLeft(p, "/")
}

// Metric is one logged metric value.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunRecord is a run as returned by search.
type RunRecord struct {
	Info RunInfo `json:"info"`
	Data struct {
		Metrics []Metric   `json:"metrics"`
		Params  []keyValue `json:"params"`
	} `json:"data"`
}

// Metric returns the latest value of key on the run.
func (r RunRecord) Metric(key string) (float64, bool) {
	for _, m := range r.Data.Metrics {
		if m.Key == key {
			return m.Value, true
		}
	}
	return 0, false
}

// ModelVersion is a registered model version.
type ModelVersion struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Source       string `json:"source"`
	RunID        string `json:"run_id"`
	CurrentStage string `json:"current_stage"`
	Status       string `json:"status"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
