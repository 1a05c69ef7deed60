package estimator

import (
	"testing"

	"email-classifier/internal/classifier"
	"email-classifier/internal/hparams"
	"email-classifier/internal/vectorizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineFitPredict(t *testing.T) {
	spec, err := classifier.New(classifier.KindLogistic)
	require.NoError(t, err)
	model, err := spec.Estimator(hparams.Params{"C": 10.0})
	require.NoError(t, err)

	p := New(vectorizer.NewTFIDF(vectorizer.Options{Lowercase: true}), model)
	assert.False(t, p.Fitted())
	assert.Equal(t, "TfidfVectorizer+LogisticRegression", p.String())

	docs := []string{
		"verify your password now",
		"lunch on friday",
		"your password expires verify",
		"friday lunch menu",
	}
	labels := []string{"Phishing", "Safe", "Phishing", "Safe"}
	require.NoError(t, p.Fit(docs, labels))
	assert.True(t, p.Fitted())

	pred, err := p.Predict([]string{"verify password", "friday menu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Phishing", "Safe"}, pred)

	proba, err := p.PredictProba([]string{"verify password"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Phishing", "Safe"}, p.Classes())
	assert.Greater(t, proba[0][0], proba[0][1])
}

func TestPipelinePredictUnfitted(t *testing.T) {
	model, _ := classifier.Get("sgd")
	m, _ := model.Estimator(nil)
	p := New(vectorizer.NewBagOfWords(vectorizer.Options{}), m)
	_, err := p.Predict([]string{"hello"})
	assert.Error(t, err)
}
