package config

import (
	"os"
	"path/filepath"
	"testing"

	"email-classifier/internal/apperr"
	"email-classifier/internal/classifier"
	"email-classifier/internal/dataset"
	"email-classifier/internal/vectorizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
project:
  name: email-classifier
  version: 1.2.0
data:
  file_path: ${EMAILCLF_TEST_DATA}
  file_type: CSV
vectorization:
  type: tfidf
  params:
    max_features: 5000
    stop_words: english
classification:
  type: sgd
  params:
    alpha: 0.0001
    loss: log_loss
tracking:
  endpoint_uri: http://localhost:5000
  experiment_name: phishing
  log_best_accuracy: true
`

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("EMAILCLF_TEST_DATA", "data/emails.csv")
	cfg, err := Load(write(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "email-classifier", cfg.Project.Name)
	assert.Equal(t, "data/emails.csv", cfg.Data.FilePath)
	assert.Equal(t, dataset.FileCSV, cfg.FileType())
	assert.Equal(t, vectorizer.KindTFIDF, cfg.VectorizerKind())
	assert.Equal(t, classifier.KindSGD, cfg.ClassifierKind())
	assert.Equal(t, 5000, cfg.Vectorization.Params["max_features"])
	assert.True(t, cfg.Tracking.LogBestAccuracy)
	assert.Equal(t, "email-classifier", cfg.Tracking.Model.Name)
	assert.Equal(t, DefaultModelStage, cfg.Tracking.Model.Stage)
}

func TestLoadTwiceIsEqual(t *testing.T) {
	path := write(t, validYAML)
	a, err := Load(path)
	require.NoError(t, err)
	b, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotSame(t, a, b)
}

func TestParamAccessorsReturnCopies(t *testing.T) {
	cfg, err := Load(write(t, validYAML))
	require.NoError(t, err)
	p := cfg.ClassifierParams()
	p["alpha"] = 1.0
	assert.Equal(t, 0.0001, cfg.Classification.Params["alpha"])
}

func TestLoadCollectsEveryViolation(t *testing.T) {
	path := write(t, `
project:
  name: ""
  version: v1
data:
  file_path: ""
  file_type: parquet
vectorization:
  type: tfidf
classification:
  type: sgd
tracking:
  endpoint_uri: localhost:5000
  experiment_name: phishing
`)
	_, err := Load(path)
	var cfgErr *apperr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Fields, 7)
	assert.Contains(t, err.Error(), "project.version")
	assert.Contains(t, err.Error(), "vectorization.params.max_features")
	assert.Contains(t, err.Error(), "classification.params.alpha")
	assert.Contains(t, err.Error(), "tracking.endpoint_uri")
}

func TestLoadRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name  string
		vec   string
		clf   string
		field string
	}{
		{"non-numeric max_features", "{max_features: lots}", "{alpha: 0.001}", "vectorization.params"},
		{"unknown vectorizer key", "{max_features: 10, ngram: 2}", "{alpha: 0.001}", "vectorization.params"},
		{"unknown sgd key", "{max_features: 10}", "{alpha: 0.001, max_iters: 5}", "classification.params"},
		{"negative alpha", "{max_features: 10}", "{alpha: -1}", "classification.params"},
		{"unsupported loss", "{max_features: 10}", "{alpha: 0.001, loss: squared}", "classification.params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, `
project: {name: x, version: 0.1.0}
data: {file_path: a.csv}
vectorization: {type: tfidf, params: `+tt.vec+`}
classification: {type: sgd, params: `+tt.clf+`}
tracking: {endpoint_uri: "https://mlflow", experiment_name: e}
`)
			_, err := Load(path)
			var cfgErr *apperr.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Len(t, cfgErr.Fields, 1)
			assert.Contains(t, cfgErr.Fields[0], tt.field+":")
		})
	}
}

func TestLoadCollectsParamViolations(t *testing.T) {
	path := write(t, `
project: {name: x, version: 0.1.0}
data: {file_path: a.csv}
vectorization: {type: bow, params: {stop_words: klingon}}
classification: {type: logistic, params: {C: 0}}
tracking: {endpoint_uri: "https://mlflow", experiment_name: e}
`)
	_, err := Load(path)
	var cfgErr *apperr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Fields, 2)
	assert.Contains(t, err.Error(), "unsupported stop_words")
	assert.Contains(t, err.Error(), "C must be positive")
}

func TestLoadUnsupportedKinds(t *testing.T) {
	path := write(t, `
project: {name: x, version: 0.1.0}
data: {file_path: a.csv}
vectorization: {type: word2vec}
classification: {type: unsupported}
tracking: {endpoint_uri: "https://mlflow", experiment_name: e}
`)
	_, err := Load(path)
	var cfgErr *apperr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Fields, 2)
	assert.Contains(t, err.Error(), "unsupported classifier type: unsupported")
}

func TestLoadFailures(t *testing.T) {
	var cfgErr *apperr.ConfigurationError

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Load(write(t, "project: [unterminated"))
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Load(write(t, ""))
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Load(write(t, validYAML+"extra: true\n"))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCache(t *testing.T) {
	path := write(t, validYAML)
	c, err := NewCache(2)
	require.NoError(t, err)

	a, err := c.Load(path)
	require.NoError(t, err)
	b, err := c.Load(path)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c.Invalidate(path)
	d, err := c.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
	assert.Equal(t, a, d)

	c.Purge()
	_, err = c.Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: sqlite
  dsn: /tmp/jobs.db
auth:
  jwt_secret: s3cret
`), 0o644))
	t.Setenv("EMAILCLF_JOBS_WORKERS", "3")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", s.Server.Addr())
	assert.Equal(t, "/tmp/jobs.db", s.Database.DSN)
	assert.Equal(t, "s3cret", s.Auth.JWTSecret)
	assert.Equal(t, 3, s.Jobs.Workers)
	assert.Equal(t, "info", s.Logging.Level)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestShippedConfigs(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://mlflow:5000")
	cfg, err := Load("../../configs/config.yml")
	require.NoError(t, err)
	assert.Equal(t, "http://mlflow:5000", cfg.Tracking.EndpointURI)
	assert.Equal(t, vectorizer.KindTFIDF, cfg.VectorizerKind())
	assert.Equal(t, classifier.KindLogistic, cfg.ClassifierKind())
	assert.Equal(t, "Email Text", cfg.Columns().Body)

	s, err := LoadSettings("../../configs/server.yml")
	require.NoError(t, err)
	assert.Equal(t, 8000, s.Server.Port)
	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, 1024, s.Serving.PredictionSize)
}
