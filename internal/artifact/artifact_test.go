package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"email-classifier/internal/artifact"
	"email-classifier/internal/classifier"
	"email-classifier/internal/estimator"
	"email-classifier/internal/hparams"
	"email-classifier/internal/retry"
	"email-classifier/internal/tracking"
	"email-classifier/internal/tracking/trackingtest"
	"email-classifier/internal/vectorizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	docs = []string{
		"verify your password now",
		"lunch on friday",
		"your password expires verify",
		"friday lunch menu",
		"urgent account suspended click link",
		"meeting notes attached",
	}
	labels  = []string{"1", "0", "1", "0", "1", "0"}
	queries = []string{"verify password link", "friday meeting menu", "account urgent"}
)

func fitted(t *testing.T, kind classifier.Kind, params hparams.Params) *estimator.Pipeline {
	t.Helper()
	spec, err := classifier.New(kind)
	require.NoError(t, err)
	m, err := spec.Estimator(params)
	require.NoError(t, err)
	p := estimator.New(vectorizer.NewTFIDF(vectorizer.Options{Lowercase: true, MaxFeatures: 50}), m)
	require.NoError(t, p.Fit(docs, labels))
	return p
}

func TestRoundTripKeepsPredictions(t *testing.T) {
	for _, tc := range []struct {
		kind   classifier.Kind
		params hparams.Params
	}{
		{classifier.KindLogistic, hparams.Params{"C": 1.0, "max_iter": 100}},
		{classifier.KindSGD, hparams.Params{"loss": "log_loss", "alpha": 1e-4}},
		{classifier.KindSGD, hparams.Params{"loss": "hinge"}},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			p := fitted(t, tc.kind, tc.params)
			want, err := p.Predict(queries)
			require.NoError(t, err)

			data, err := artifact.Encode(p, artifact.Metadata{Name: "email-clf", Accuracy: 0.9})
			require.NoError(t, err)
			restored, meta, err := artifact.Decode(data)
			require.NoError(t, err)

			got, err := restored.Predict(queries)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, p.String(), restored.String())
			assert.Equal(t, "email-clf", meta.Name)
			assert.Equal(t, 0.9, meta.Accuracy)
			assert.False(t, meta.CreatedAt.IsZero())
		})
	}
}

func TestEncodeRejectsUnfitted(t *testing.T) {
	m, _ := classifier.Get("logistic")
	est, _ := m.Estimator(nil)
	_, err := artifact.Encode(estimator.New(vectorizer.NewBagOfWords(vectorizer.Options{}), est), artifact.Metadata{})
	assert.Error(t, err)
}

func TestDecodeDetectsMismatchedHalves(t *testing.T) {
	a, err := artifact.Encode(fitted(t, classifier.KindLogistic, nil), artifact.Metadata{})
	require.NoError(t, err)

	// A document whose classifier was swapped no longer matches its checksum.
	tampered := bytes.Replace(a, []byte(`"logistic"`), []byte(`"sgd"`), 1)
	require.NotEqual(t, a, tampered)
	_, _, err = artifact.Decode(tampered)
	assert.ErrorIs(t, err, artifact.ErrChecksumMismatch)

	_, _, err = artifact.Decode([]byte("{"))
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	store := artifact.NewFileStore(t.TempDir())
	ctx := context.Background()
	ref := artifact.Ref{Name: "email-clf", Stage: "Production"}

	_, _, err := store.Load(ctx, ref)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	p := fitted(t, classifier.KindLogistic, nil)
	run := &tracking.Run{ID: "run-7", ExperimentID: "1"}
	require.NoError(t, store.Save(ctx, ref, run, p, artifact.Metadata{Name: ref.Name, Accuracy: 0.75}))

	loaded, meta, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "run-7", meta.RunID)

	want, _ := p.Predict(queries)
	got, err := loaded.Predict(queries)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegistryStore(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	client := tracking.NewClient(srv.URL, tracking.WithRetry(cfg))
	store := artifact.NewRegistryStore(client, zap.NewNop())
	ctx := context.Background()
	ref := artifact.Ref{Name: "email-clf", Stage: "Production"}

	_, _, err := store.Load(ctx, ref)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	expID, err := client.EnsureExperiment(ctx, "phishing")
	require.NoError(t, err)
	run, err := client.StartRun(ctx, expID, "train")
	require.NoError(t, err)

	p := fitted(t, classifier.KindSGD, hparams.Params{"loss": "log_loss"})
	require.NoError(t, store.Save(ctx, ref, run, p, artifact.Metadata{Name: ref.Name}))
	_, ok := srv.Artifact(run.ArtifactPath("model/" + artifact.FileName))
	assert.True(t, ok)

	loaded, meta, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "1", meta.Version)
	assert.Equal(t, run.ID, meta.RunID)
	want, _ := p.Predict(queries)
	got, _ := loaded.Predict(queries)
	assert.Equal(t, want, got)

	assert.Error(t, store.Save(ctx, ref, nil, p, artifact.Metadata{}))
}

// stuckRegistry fails every stage transition.
type stuckRegistry struct {
	*tracking.Client
}

func (stuckRegistry) TransitionStage(context.Context, string, string, string) error {
	return errors.New("transition rejected")
}

func TestRegistryStoreRemovesVersionWhenTransitionFails(t *testing.T) {
	srv := trackingtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	client := tracking.NewClient(srv.URL, tracking.WithRetry(cfg))
	ctx := context.Background()
	ref := artifact.Ref{Name: "email-clf", Stage: "Production"}

	expID, err := client.EnsureExperiment(ctx, "phishing")
	require.NoError(t, err)
	run, err := client.StartRun(ctx, expID, "train")
	require.NoError(t, err)
	p := fitted(t, classifier.KindLogistic, nil)

	good := artifact.NewRegistryStore(client, zap.NewNop())
	require.NoError(t, good.Save(ctx, ref, run, p, artifact.Metadata{Name: ref.Name}))

	stuck := artifact.NewRegistryStore(stuckRegistry{client}, zap.NewNop())
	err = stuck.Save(ctx, ref, run, p, artifact.Metadata{Name: ref.Name})
	assert.EqualError(t, err, "transition rejected")
	assert.Equal(t, 1, srv.Versions("email-clf"))

	_, meta, err := good.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "1", meta.Version)
}

type countingStore struct {
	artifact.Store
	loads int
}

func (c *countingStore) Load(ctx context.Context, ref artifact.Ref) (*estimator.Pipeline, *artifact.Metadata, error) {
	c.loads++
	return c.Store.Load(ctx, ref)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	ref := artifact.Ref{Name: "email-clf", Stage: "Production"}
	fs := artifact.NewFileStore(t.TempDir())
	require.NoError(t, fs.Save(ctx, ref, nil, fitted(t, classifier.KindLogistic, nil), artifact.Metadata{Name: ref.Name}))

	counting := &countingStore{Store: fs}
	cache, err := artifact.NewCache(4)
	require.NoError(t, err)

	first, _, err := cache.Load(ctx, counting, ref)
	require.NoError(t, err)
	second, _, err := cache.Load(ctx, counting, ref)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, counting.loads)

	// Another location holding the same ref is cached separately.
	_, _, err = cache.Load(ctx, artifact.NewFileStore(t.TempDir()), ref)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate(ref)
	assert.Equal(t, 0, cache.Len())
	_, _, err = cache.Load(ctx, counting, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.loads)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
