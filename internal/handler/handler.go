package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/cache"
	"email-classifier/internal/jobs"
	"email-classifier/internal/metrics"
	"email-classifier/internal/middleware"
	"email-classifier/internal/models"
	"email-classifier/internal/pipeline"
	"email-classifier/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultJobLimit = 50

// Classifier serves predictions.
type Classifier interface {
	Classify(ctx context.Context, body string) (*cache.Prediction, error)
	Reload(ctx context.Context) (*pipeline.Inference, error)
}

// JobQueue schedules and reports training jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, configPath string) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
}

// Handler handles HTTP requests
type Handler struct {
	classifier Classifier
	jobs       JobQueue
	metrics    *metrics.Metrics
	jwtSecret  []byte
	version    string
	logger     *zap.Logger
}

// Options wires a Handler.
type Options struct {
	Classifier Classifier
	Jobs       JobQueue
	Metrics    *metrics.Metrics
	// JWTSecret protects training and reload routes when set.
	JWTSecret []byte
	Version   string
	Logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		classifier: opts.Classifier,
		jobs:       opts.Jobs,
		metrics:    opts.Metrics,
		jwtSecret:  opts.JWTSecret,
		version:    opts.Version,
		logger:     logger,
	}
}

// Router builds the gin engine with middleware and routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Observe(h.metrics, h.logger), middleware.CORS())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
	r.POST("/inference", h.Inference)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	admin := r.Group("/")
	admin.Use(middleware.Auth(h.jwtSecret, h.logger))
	{
		admin.GET("/train", h.Train)
		admin.GET("/train/jobs", h.ListJobs)
		admin.GET("/train/jobs/:id", h.GetJob)
		admin.POST("/model/reload", h.ReloadModel)
	}
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "email-classifier",
		"version": h.version,
	})
}

// Inference classifies one email body.
func (h *Handler) Inference(c *gin.Context) {
	var req models.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.classifier.Classify(c.Request.Context(), req.EmailBody)
	if err != nil {
		h.fail(c, "Inference error", err)
		return
	}
	c.JSON(http.StatusOK, models.InferenceResponse{
		Prediction: p.Prediction,
		Confidence: p.Confidence,
		Label:      p.Label,
	})
}

// Train queues a training job for the configuration at config_path.
func (h *Handler) Train(c *gin.Context) {
	var req models.TrainRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config_path query parameter is required"})
		return
	}

	job, err := h.jobs.Enqueue(c.Request.Context(), req.ConfigPath)
	switch {
	case errors.Is(err, jobs.ErrEmptyPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to queue training job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue training job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Training started in the background. Check /train/jobs/" + job.ID + " for status",
	})
}

// ListJobs returns the newest training jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := defaultJobLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	list, err := h.jobs.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list, "total": len(list)})
}

// GetJob returns one training job.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", zap.String("job_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ReloadModel reloads the serving model.
func (h *Handler) ReloadModel(c *gin.Context) {
	inf, err := h.classifier.Reload(c.Request.Context())
	if err != nil {
		h.fail(c, "Reload error", err)
		return
	}
	meta := inf.Metadata()
	c.JSON(http.StatusOK, gin.H{
		"status":   "reloaded",
		"model":    inf.Describe(),
		"name":     meta.Name,
		"version":  meta.Version,
		"run_id":   meta.RunID,
		"accuracy": meta.Accuracy,
	})
}

// fail maps err to a status: configuration and type errors are the
// caller's, a missing model is 503, everything else 500 with detail.
func (h *Handler) fail(c *gin.Context, prefix string, err error) {
	detail := prefix + ": " + err.Error()
	switch {
	case apperr.IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"detail": detail})
	case errors.Is(err, artifact.ErrNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": detail})
	default:
		h.logger.Error(prefix, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detail})
	}
}
