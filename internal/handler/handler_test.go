package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/cache"
	"email-classifier/internal/classifier"
	"email-classifier/internal/estimator"
	"email-classifier/internal/jobs"
	"email-classifier/internal/metrics"
	"email-classifier/internal/middleware"
	"email-classifier/internal/models"
	"email-classifier/internal/pipeline"
	"email-classifier/internal/repository"
	"email-classifier/internal/vectorizer"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeClassifier struct {
	err       error
	reloaded  int
	inference *pipeline.Inference
}

func (f *fakeClassifier) Classify(_ context.Context, body string) (*cache.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(body, "password") {
		return &cache.Prediction{Prediction: 1, Label: "Phishing", Confidence: 0.9}, nil
	}
	return &cache.Prediction{Prediction: 0, Label: "Safe", Confidence: 0.8}, nil
}

func (f *fakeClassifier) Reload(context.Context) (*pipeline.Inference, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reloaded++
	return f.inference, nil
}

type fakeJobs struct {
	jobs map[string]*models.Job
	err  error
}

func (f *fakeJobs) Enqueue(_ context.Context, path string) (*models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	job := &models.Job{ID: "job-1", ConfigPath: path, Status: models.JobPending, CreatedAt: time.Now()}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) List(_ context.Context, limit int) ([]*models.Job, error) {
	out := []*models.Job{}
	for _, j := range f.jobs {
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func fittedInference(t *testing.T) *pipeline.Inference {
	t.Helper()
	v, err := vectorizer.New(vectorizer.KindBOW, nil)
	require.NoError(t, err)
	spec, err := classifier.New(classifier.KindLogistic)
	require.NoError(t, err)
	m, err := spec.Estimator(nil)
	require.NoError(t, err)
	model := estimator.New(v, m)
	require.NoError(t, model.Fit([]string{"verify password", "lunch friday"}, []string{"Phishing", "Safe"}))
	inf, err := pipeline.InferenceFromArtifact(model, &artifact.Metadata{Name: "email-clf", Version: "3", RunID: "r1"}, nil)
	require.NoError(t, err)
	return inf
}

func newRouter(t *testing.T, secret []byte) (*gin.Engine, *fakeClassifier, *fakeJobs) {
	t.Helper()
	clf := &fakeClassifier{inference: fittedInference(t)}
	q := &fakeJobs{jobs: map[string]*models.Job{}}
	h := NewHandler(Options{Classifier: clf, Jobs: q, Metrics: metrics.New(), JWTSecret: secret, Version: "1.0.0"})
	return h.Router(), clf, q
}

func do(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r, _, _ := newRouter(t, nil)
	rec := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"email-classifier","version":"1.0.0"}`, rec.Body.String())
}

func TestInference(t *testing.T) {
	r, clf, _ := newRouter(t, nil)

	rec := do(r, http.MethodPost, "/inference", `{"email_body":"reset your password"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"prediction":1,"confidence":0.9,"label":"Phishing"}`, rec.Body.String())

	rec = do(r, http.MethodPost, "/inference", `{"body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/inference", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	clf.err = &apperr.InferenceError{Err: apperr.ErrProbabilityUnsupported}
	rec = do(r, http.MethodPost, "/inference", `{"email_body":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detail":"Inference error: `)

	clf.err = &apperr.UnsupportedTypeError{Category: "vectorizer", Type: "word2vec"}
	rec = do(r, http.MethodPost, "/inference", `{"email_body":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	clf.err = artifact.ErrNotFound
	rec = do(r, http.MethodPost, "/inference", `{"email_body":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrainAndJobs(t *testing.T) {
	r, _, q := newRouter(t, nil)

	rec := do(r, http.MethodGet, "/train", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodGet, "/train?config_path=configs/config.yml", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"job_id":"job-1","status":"pending","message":"Training started in the background. Check /train/jobs/job-1 for status"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/train/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"config_path":"configs/config.yml"`)

	rec = do(r, http.MethodGet, "/train/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/train/jobs?limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(r, http.MethodGet, "/train/jobs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.err = jobs.ErrQueueFull
	rec = do(r, http.MethodGet, "/train?config_path=c.yml", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	q.err = errors.New("disk full")
	rec = do(r, http.MethodGet, "/train?config_path=c.yml", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReloadModel(t *testing.T) {
	r, clf, _ := newRouter(t, nil)
	rec := do(r, http.MethodPost, "/model/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, clf.reloaded)
	assert.Contains(t, rec.Body.String(), `"version":"3"`)
	assert.Contains(t, rec.Body.String(), `"model":"CountVectorizer+LogisticRegression"`)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	secret := []byte("s3cret")
	r, _, _ := newRouter(t, secret)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/train?config_path=c.yml", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/model/reload", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/inference", `{"email_body":"hi"}`).Code)

	token, err := middleware.IssueToken(secret, "ops", time.Hour)
	require.NoError(t, err)
	rec := do(r, http.MethodGet, "/train?config_path=c.yml", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := newRouter(t, nil)
	do(r, http.MethodGet, "/health", "")
	rec := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `email_classifier_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
