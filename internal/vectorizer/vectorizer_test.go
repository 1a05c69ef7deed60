package vectorizer

import (
	"errors"
	"testing"

	"email-classifier/internal/apperr"
	"email-classifier/internal/hparams"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var docs = []string{
	"verify your bank account password today",
	"team lunch moved to friday afternoon",
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("TFIDF")
	require.NoError(t, err)
	assert.Equal(t, KindTFIDF, k)

	k, err = ParseKind(" bow ")
	require.NoError(t, err)
	assert.Equal(t, KindBOW, k)

	_, err = ParseKind("word2vec")
	var unsupported *apperr.UnsupportedTypeError
	require.True(t, errors.As(err, &unsupported))
	assert.Contains(t, err.Error(), "word2vec")
}

func TestTFIDFMaxFeatures(t *testing.T) {
	v, err := New(KindTFIDF, hparams.Params{"max_features": 3, "stop_words": nil})
	require.NoError(t, err)

	X, err := v.FitTransform(docs)
	require.NoError(t, err)
	rows, cols := X.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)

	names, err := v.FeatureNames()
	require.NoError(t, err)
	require.Len(t, names, 3)
	vocab := "verify your bank account password today team lunch moved to friday afternoon"
	for _, n := range names {
		assert.Contains(t, vocab, n)
	}
}

func TestTFIDFRowsAreUnitNorm(t *testing.T) {
	v := NewTFIDF(Options{Lowercase: true})
	X, err := v.Vectorize(docs)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 1.0, X.Row(i).Norm(), 1e-9)
	}
}

func TestBagOfWordsCounts(t *testing.T) {
	v := NewBagOfWords(Options{Lowercase: true})
	X, err := v.FitTransform([]string{"Click click here", "here now"})
	require.NoError(t, err)

	names, err := v.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"click", "here", "now"}, names)
	assert.Equal(t, [][]float64{{2, 1, 0}, {0, 1, 1}}, X.Dense())

	// unseen terms are ignored at transform time
	Y, err := v.Transform([]string{"unknown click"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0, 0}}, Y.Dense())
}

func TestStopWordsRemoved(t *testing.T) {
	v, err := New(KindBOW, hparams.Params{"stop_words": "english"})
	require.NoError(t, err)
	require.NoError(t, v.Fit([]string{"the account is locked"}))
	names, err := v.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"account", "locked"}, names)
}

func TestFeatureNamesBeforeFit(t *testing.T) {
	v := NewTFIDF(Options{})
	_, err := v.FeatureNames()
	assert.ErrorIs(t, err, apperr.ErrNotSupported)

	_, err = v.Transform(docs)
	assert.ErrorIs(t, err, apperr.ErrNotFitted)
}

func TestFitOnlyOnce(t *testing.T) {
	v := NewBagOfWords(Options{Lowercase: true})
	require.NoError(t, v.Fit(docs))
	assert.Error(t, v.Fit(docs))
	assert.False(t, v.Clone().Fitted())
}

func TestEmptyVocabulary(t *testing.T) {
	v := NewTFIDF(Options{Lowercase: true, StopWords: "english"})
	assert.Error(t, v.Fit([]string{"the and of"}))
}

func TestUnknownParameter(t *testing.T) {
	_, err := New(KindTFIDF, hparams.Params{"max_feature": 10})
	assert.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	v := NewTFIDF(Options{Lowercase: true, MaxFeatures: 5})
	want, err := v.FitTransform(docs)
	require.NoError(t, err)

	restored, err := FromState(v.State())
	require.NoError(t, err)
	assert.True(t, restored.Fitted())

	got, err := restored.Transform(docs)
	require.NoError(t, err)
	assert.Equal(t, want.Dense(), got.Dense())
}
