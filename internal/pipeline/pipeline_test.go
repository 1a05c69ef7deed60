package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/classifier"
	"email-classifier/internal/config"
	"email-classifier/internal/hparams"
	"email-classifier/internal/retry"
	"email-classifier/internal/tracking"
	"email-classifier/internal/tracking/trackingtest"
	"email-classifier/internal/trainer"
	"email-classifier/internal/vectorizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpus() (docs, labels []string) {
	phish := []string{"verify your password", "account suspended verify now", "urgent password reset link",
		"confirm account password", "click link to verify account"}
	safe := []string{"lunch on friday", "meeting notes for friday", "team lunch menu",
		"notes from the weekly meeting", "friday team meeting"}
	for i := 0; i < 3; i++ {
		for _, d := range phish {
			docs, labels = append(docs, fmt.Sprintf("%s %d", d, i)), append(labels, "Phishing")
		}
		for _, d := range safe {
			docs, labels = append(docs, fmt.Sprintf("%s %d", d, i)), append(labels, "Safe")
		}
	}
	return docs, labels
}

func writeConfig(t *testing.T, endpoint, experiment string, logBest bool) *config.Config {
	t.Helper()
	yml := fmt.Sprintf(`
project: {name: email-clf, version: 1.0.0}
data: {file_path: emails.csv}
vectorization:
  type: tfidf
  params: {max_features: 100}
classification:
  type: logistic
  params: {max_iter: 200}
tracking:
  endpoint_uri: %s
  experiment_name: %q
  log_best_accuracy: %t
`, endpoint, experiment, logBest)
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func fastClient(endpoint string) Tracker {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	return tracking.NewClient(endpoint, tracking.WithRetry(cfg))
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Training")
	require.NoError(t, err)
	assert.Equal(t, KindTraining, k)

	_, err = ParseKind("streaming")
	var ute *apperr.UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "unsupported pipeline type: streaming", err.Error())

	f := &Factory{}
	p, err := f.Get(context.Background(), Kind("streaming"), nil)
	assert.ErrorAs(t, err, &ute)
	assert.Nil(t, p)
}

func TestFactoryGetMatchesKindCaseInsensitively(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, srv.URL, "phishing", false)
	f := &Factory{NewTracker: fastClient}

	p, err := f.Get(context.Background(), Kind("Training"), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, KindTraining, p.Kind())

	_, err = f.Get(context.Background(), Kind(" INFERENCE "), cfg)
	var ute *apperr.UnsupportedTypeError
	assert.False(t, errors.As(err, &ute), "inference kind must be recognised, got %v", err)
}

func TestTrainingEndToEnd(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, srv.URL, "phishing", false)
	f := &Factory{NewTracker: fastClient, SearchWorkers: 2}
	ctx := context.Background()

	p, err := f.Get(ctx, KindTraining, cfg)
	require.NoError(t, err)
	training := p.(*Training)
	assert.Equal(t, "TfidfVectorizer+LogisticRegression", training.Describe())

	rec := &recorder{}
	training.Observe(rec.observe)
	docs, labels := corpus()
	res, err := training.Run(ctx, docs, labels)
	require.NoError(t, err)

	assert.Equal(t, []State{StateSplitting, StateTraining, StateEvaluating, StateTracking, StatePromoting, StateDone}, rec.states)
	assert.Equal(t, StateDone, training.State())
	assert.True(t, res.Promoted)
	assert.GreaterOrEqual(t, res.Evaluation.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Evaluation.Accuracy, 1.0)
	// max_iter is fixed by the configuration, so only C is searched.
	assert.Len(t, res.Search.Candidates, 3)

	run, ok := srv.Run(res.RunID)
	require.True(t, ok)
	assert.Equal(t, "FINISHED", run.Status)
	assert.Equal(t, "email-clf-1.0.0", run.Name)
	assert.Equal(t, "TfidfVectorizer", run.Params["vectorizer"])
	assert.Equal(t, "LogisticRegression", run.Params["classifier"])
	assert.Equal(t, "200", run.Params["max_iter"])
	for _, m := range []string{"accuracy", "precision", "recall", "f1_score", "cv_best_score"} {
		assert.Contains(t, run.Metrics, m)
	}

	cm, ok := srv.Artifact(run.ExperimentID + "/" + run.ID + "/artifacts/" + ConfusionMatrixFile)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(cm), "actual,predicted,count\n"))
	report, ok := srv.Artifact(run.ExperimentID + "/" + run.ID + "/artifacts/" + ReportFile)
	require.True(t, ok)
	assert.Contains(t, string(report), `"weighted avg"`)
	assert.Equal(t, 1, srv.Versions("email-clf"))

	inf, err := f.Get(ctx, KindInference, cfg)
	require.NoError(t, err)
	out, err := inf.(*Inference).Run(ctx, []string{"verify your account password", "friday lunch meeting"}, true)
	require.NoError(t, err)
	assert.Len(t, out.Predictions, 2)
	require.Len(t, out.Confidences, 2)
	for _, c := range out.Confidences {
		assert.GreaterOrEqual(t, c, 0.5)
		assert.LessOrEqual(t, c, 1.0)
	}
	assert.Equal(t, res.RunID, inf.(*Inference).Metadata().RunID)
}

func TestTrainingKeepsBetterPriorModel(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	expID := srv.CreateExperiment("phishing")
	srv.AddRun(expID, "accuracy", 1.0)

	cfg := writeConfig(t, srv.URL, "phishing", true)
	f := &Factory{NewTracker: fastClient}
	training, err := f.Training(context.Background(), cfg)
	require.NoError(t, err)

	docs, labels := corpus()
	res, err := training.Run(context.Background(), docs, labels)
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, 1.0, res.PreviousBest)
	assert.Equal(t, 0, srv.Versions("email-clf"))

	_, err = f.Inference(context.Background(), cfg)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestTrainingEmptyExperimentFailsInSplitting(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, srv.URL, "", false)
	training, err := (&Factory{NewTracker: fastClient}).Training(context.Background(), cfg)
	require.NoError(t, err)

	rec := &recorder{}
	training.Observe(rec.observe)
	docs, labels := corpus()
	_, err = training.Run(context.Background(), docs, labels)

	var te *apperr.TrainingError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, string(StateSplitting), te.State)
	assert.Equal(t, []State{StateSplitting, StateFailed}, rec.states)
	assert.Empty(t, srv.Runs())
}

// fakeTracker records run status and can fail artifact uploads.
type fakeTracker struct {
	mu          sync.Mutex
	status      map[string]tracking.RunStatus
	best        float64
	hasBest     bool
	artifactErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{status: make(map[string]tracking.RunStatus)}
}

func (f *fakeTracker) StartRun(_ context.Context, expID, name string) (*tracking.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("run-%d", len(f.status)+1)
	f.status[id] = "RUNNING"
	return &tracking.Run{ID: id, ExperimentID: expID, Name: name}, nil
}

func (f *fakeTracker) EndRun(_ context.Context, runID string, status tracking.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[runID] = status
	return nil
}

func (f *fakeTracker) EnsureExperiment(context.Context, string) (string, error) { return "7", nil }

func (f *fakeTracker) LogParams(context.Context, string, map[string]string) error { return nil }

func (f *fakeTracker) LogMetrics(context.Context, string, map[string]float64) error { return nil }

func (f *fakeTracker) LogArtifact(context.Context, *tracking.Run, string, []byte) error {
	return f.artifactErr
}

func (f *fakeTracker) BestMetric(context.Context, string, string, string) (float64, bool, error) {
	return f.best, f.hasBest, nil
}

func newTraining(t *testing.T, tr Tracker, store artifact.Store, logBest bool) *Training {
	t.Helper()
	v, err := vectorizer.New(vectorizer.KindBOW, nil)
	require.NoError(t, err)
	spec, err := classifier.New(classifier.KindSGD)
	require.NoError(t, err)
	return NewTraining(v, spec, tr, store, TrainingConfig{
		ExperimentName:  "phishing",
		LogBestAccuracy: logBest,
		Model:           artifact.Ref{Name: "email-clf", Stage: "Production"},
	}, WithTrainerOptions(trainer.WithParams(hparams.Params{"loss": "hinge", "tol": 0.001}), trainer.WithWorkers(2)))
}

func TestTrackingFailureEndsRunAsFailed(t *testing.T) {
	tr := newFakeTracker()
	tr.artifactErr = errors.New("disk full")
	store := artifact.NewFileStore(t.TempDir())
	training := newTraining(t, tr, store, false)

	docs, labels := corpus()
	_, err := training.Run(context.Background(), docs, labels)
	var te *apperr.TrainingError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, string(StateTracking), te.State)
	assert.ErrorIs(t, err, tr.artifactErr)
	assert.Equal(t, tracking.RunFailed, tr.status["run-1"])
	assert.Equal(t, StateFailed, training.State())

	_, _, err = store.Load(context.Background(), artifact.Ref{Name: "email-clf", Stage: "Production"})
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestPromotionPolicy(t *testing.T) {
	docs, labels := corpus()
	ref := artifact.Ref{Name: "email-clf", Stage: "Production"}

	t.Run("no prior runs", func(t *testing.T) {
		store := artifact.NewFileStore(t.TempDir())
		res, err := newTraining(t, newFakeTracker(), store, true).Run(context.Background(), docs, labels)
		require.NoError(t, err)
		require.Greater(t, res.Evaluation.Accuracy, 0.0)
		assert.True(t, res.Promoted)
		_, meta, err := store.Load(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, res.Evaluation.Accuracy, meta.Accuracy)
	})

	t.Run("equal prior accuracy", func(t *testing.T) {
		tr := newFakeTracker()
		tr.best, tr.hasBest = 1.0, true
		store := artifact.NewFileStore(t.TempDir())
		res, err := newTraining(t, tr, store, true).Run(context.Background(), docs, labels)
		require.NoError(t, err)
		assert.False(t, res.Promoted)
		assert.Equal(t, tracking.RunFinished, tr.status[res.RunID])
	})

	t.Run("flag unset always promotes", func(t *testing.T) {
		tr := newFakeTracker()
		tr.best, tr.hasBest = 1.0, true
		store := artifact.NewFileStore(t.TempDir())
		res, err := newTraining(t, tr, store, false).Run(context.Background(), docs, labels)
		require.NoError(t, err)
		assert.True(t, res.Promoted)
	})
}

func TestInference(t *testing.T) {
	docs, labels := corpus()
	store := artifact.NewFileStore(t.TempDir())
	res, err := newTraining(t, newFakeTracker(), store, false).Run(context.Background(), docs, labels)
	require.NoError(t, err)

	inf, err := NewInference(res.Model, nil)
	require.NoError(t, err)
	assert.Equal(t, KindInference, inf.Kind())

	out, err := inf.Run(context.Background(), []string{"verify password", "team lunch"}, false)
	require.NoError(t, err)
	assert.Len(t, out.Predictions, 2)
	assert.Nil(t, out.Confidences)

	out, err = inf.Run(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Empty(t, out.Predictions)

	// The default SGD loss is hinge, which has no probabilities.
	_, err = inf.Run(context.Background(), []string{"verify password"}, true)
	var ie *apperr.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, apperr.ErrProbabilityUnsupported)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inf.Run(ctx, []string{"x"}, false)
	assert.ErrorAs(t, err, &ie)

	_, err = NewInference(nil, nil)
	assert.ErrorAs(t, err, &ie)
}

func TestConfusionMatrixCSV(t *testing.T) {
	cm := trainer.Score([]string{"Phishing", "Safe", "Safe"}, []string{"Phishing", "Phishing", "Safe"}).ConfusionMatrix
	out, err := ConfusionMatrixCSV(cm)
	require.NoError(t, err)
	assert.Equal(t, "actual,predicted,count\n"+
		"Phishing,Phishing,1\n"+
		"Phishing,Safe,0\n"+
		"Safe,Phishing,1\n"+
		"Safe,Safe,1\n", string(out))
}
