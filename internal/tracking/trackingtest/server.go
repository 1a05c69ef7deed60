// Package trackingtest runs an in-memory MLflow-compatible server for tests.
package trackingtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// RunState is what the fake server knows about a run.
type RunState struct {
	ID           string
	ExperimentID string
	Name         string
	Status       string
	Params       map[string]string
	Metrics      map[string]float64
}

type version struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
	RunID   string `json:"run_id"`
	Stage   string `json:"current_stage"`
	Status  string `json:"status"`
}

// Server is a fake tracking server. All fields are guarded by mu.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	experiments map[string]string
	runs        map[string]*RunState
	runOrder    []string
	artifacts   map[string][]byte
	models      map[string][]*version
	versionSeq  map[string]int

	failNext int
}

// FailNext makes the next n requests return 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// NewServer starts a fake server; it is closed with t.Cleanup by callers.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		experiments: make(map[string]string),
		runs:        make(map[string]*RunState),
		artifacts:   make(map[string][]byte),
		models:      make(map[string][]*version),
		versionSeq:  make(map[string]int),
	}
	r := gin.New()
	r.Use(s.faults)

	api := r.Group("/api/2.0/mlflow")
	api.GET("/experiments/get-by-name", s.getExperiment)
	api.POST("/experiments/create", s.createExperiment)
	api.POST("/runs/create", s.createRun)
	api.POST("/runs/update", s.updateRun)
	api.POST("/runs/log-batch", s.logBatch)
	api.POST("/runs/search", s.searchRuns)
	api.POST("/registered-models/create", s.createModel)
	api.POST("/model-versions/create", s.createVersion)
	api.POST("/model-versions/transition-stage", s.transition)
	api.DELETE("/model-versions/delete", s.deleteVersion)
	api.POST("/registered-models/get-latest-versions", s.latestVersions)

	r.PUT("/api/2.0/mlflow-artifacts/artifacts/*path", s.putArtifact)
	r.GET("/api/2.0/mlflow-artifacts/artifacts/*path", s.getArtifact)

	s.Server = httptest.NewServer(r)
	return s
}

// Run returns a copy of the run's state.
func (s *Server) Run(id string) (RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return RunState{}, false
	}
	return *r, true
}

// Runs returns every run in creation order.
func (s *Server) Runs() []RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunState, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		out = append(out, *s.runs[id])
	}
	return out
}

// Artifact returns an uploaded artifact by proxy-relative path.
func (s *Server) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.artifacts[strings.TrimLeft(path, "/")]
	return b, ok
}

// Versions returns how many versions of model are registered.
func (s *Server) Versions(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models[model])
}

// AddRun seeds a finished run with one metric.
func (s *Server) AddRun(experimentID, metric string, value float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "seed-" + strconv.Itoa(len(s.runs)+1)
	s.runs[id] = &RunState{ID: id, ExperimentID: experimentID, Status: "FINISHED",
		Params: map[string]string{}, Metrics: map[string]float64{metric: value}}
	s.runOrder = append(s.runOrder, id)
	return id
}

// CreateExperiment seeds an experiment and returns its id.
func (s *Server) CreateExperiment(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createExperimentLocked(name)
}

func (s *Server) createExperimentLocked(name string) string {
	id := strconv.Itoa(len(s.experiments) + 1)
	s.experiments[name] = id
	return id
}

func (s *Server) faults(c *gin.Context) {
	s.mu.Lock()
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	s.mu.Unlock()
	if fail {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error_code": "TEMPORARILY_UNAVAILABLE", "message": "try again"})
		return
	}
	c.Next()
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": msg})
}

func (s *Server) getExperiment(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Query("experiment_name")
	id, ok := s.experiments[name]
	if !ok {
		notFound(c, "experiment "+name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment": gin.H{"experiment_id": id, "name": name}})
}

func (s *Server) createExperiment(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "INVALID_PARAMETER_VALUE", "message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[req.Name]; ok {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "RESOURCE_ALREADY_EXISTS", "message": req.Name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment_id": s.createExperimentLocked(req.Name)})
}

func (s *Server) createRun(c *gin.Context) {
	var req struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "run-" + strconv.Itoa(len(s.runs)+1)
	s.runs[id] = &RunState{ID: id, ExperimentID: req.ExperimentID, Name: req.RunName, Status: "RUNNING",
		Params: map[string]string{}, Metrics: map[string]float64{}}
	s.runOrder = append(s.runOrder, id)
	c.JSON(http.StatusOK, gin.H{"run": gin.H{"info": gin.H{"run_id": id, "experiment_id": req.ExperimentID, "status": "RUNNING"}}})
}

func (s *Server) updateRun(c *gin.Context) {
	var req struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[req.RunID]
	if !ok {
		notFound(c, "run "+req.RunID)
		return
	}
	r.Status = req.Status
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) logBatch(c *gin.Context) {
	var req struct {
		RunID   string `json:"run_id"`
		Metrics []struct {
			Key   string  `json:"key"`
			Value float64 `json:"value"`
		} `json:"metrics"`
		Params []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[req.RunID]
	if !ok {
		notFound(c, "run "+req.RunID)
		return
	}
	for _, m := range req.Metrics {
		r.Metrics[m.Key] = m.Value
	}
	for _, p := range req.Params {
		r.Params[p.Key] = p.Value
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) searchRuns(c *gin.Context) {
	var req struct {
		ExperimentIDs []string `json:"experiment_ids"`
		OrderBy       []string `json:"order_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*RunState
	for _, id := range s.runOrder {
		r := s.runs[id]
		for _, e := range req.ExperimentIDs {
			if r.ExperimentID == e {
				matched = append(matched, r)
			}
		}
	}
	if len(req.OrderBy) > 0 {
		key := strings.TrimPrefix(strings.Fields(req.OrderBy[0])[0], "metrics.")
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Metrics[key] > matched[j].Metrics[key]
		})
	}

	runs := make([]gin.H, 0, len(matched))
	for _, r := range matched {
		metrics := make([]gin.H, 0, len(r.Metrics))
		for k, v := range r.Metrics {
			metrics = append(metrics, gin.H{"key": k, "value": v})
		}
		runs = append(runs, gin.H{
			"info": gin.H{"run_id": r.ID, "experiment_id": r.ExperimentID, "status": r.Status},
			"data": gin.H{"metrics": metrics},
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) createModel(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[req.Name]; ok {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "RESOURCE_ALREADY_EXISTS", "message": req.Name})
		return
	}
	s.models[req.Name] = nil
	c.JSON(http.StatusOK, gin.H{"registered_model": gin.H{"name": req.Name}})
}

func (s *Server) createVersion(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Source string `json:"source"`
		RunID  string `json:"run_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.models[req.Name]
	if !ok {
		notFound(c, "model "+req.Name)
		return
	}
	s.versionSeq[req.Name]++
	v := &version{Name: req.Name, Version: strconv.Itoa(s.versionSeq[req.Name]), Source: req.Source,
		RunID: req.RunID, Stage: "None", Status: "READY"}
	s.models[req.Name] = append(versions, v)
	c.JSON(http.StatusOK, gin.H{"model_version": v})
}

func (s *Server) transition(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Stage   string `json:"stage"`
		Archive bool   `json:"archive_existing_versions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *version
	for _, v := range s.models[req.Name] {
		if v.Version == req.Version {
			target = v
		} else if req.Archive && v.Stage == req.Stage {
			v.Stage = "Archived"
		}
	}
	if target == nil {
		notFound(c, "model version "+req.Version)
		return
	}
	target.Stage = req.Stage
	c.JSON(http.StatusOK, gin.H{"model_version": target})
}

func (s *Server) deleteVersion(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.models[req.Name]
	for i, v := range versions {
		if v.Version == req.Version {
			s.models[req.Name] = append(versions[:i:i], versions[i+1:]...)
			c.JSON(http.StatusOK, gin.H{})
			return
		}
	}
	notFound(c, "model version "+req.Version)
}

func (s *Server) latestVersions(c *gin.Context) {
	var req struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.models[req.Name]
	if !ok {
		notFound(c, "model "+req.Name)
		return
	}
	out := []*version{}
	for _, st := range req.Stages {
		var latest *version
		for _, v := range versions {
			if strings.EqualFold(v.Stage, st) {
				latest = v
			}
		}
		if latest != nil {
			out = append(out, latest)
		}
	}
	c.JSON(http.StatusOK, gin.H{"model_versions": out})
}

func (s *Server) putArtifact(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.artifacts[strings.TrimLeft(c.Param("path"), "/")] = data
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) getArtifact(c *gin.Context) {
	s.mu.Lock()
	data, ok := s.artifacts[strings.TrimLeft(c.Param("path"), "/")]
	s.mu.Unlock()
	if !ok {
		notFound(c, "artifact")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
