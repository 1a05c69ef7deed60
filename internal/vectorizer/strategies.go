package vectorizer

import (
	"errors"
	"math"

	"email-classifier/internal/sparse"
)

var errAlreadyFitted = errors.New("vectorizer is already fitted")

// BagOfWords produces raw term counts.
type BagOfWords struct {
	vocabulary
}

// NewBagOfWords returns an unfitted count vectorizer.
func NewBagOfWords(opts Options) *BagOfWords {
	return &BagOfWords{vocabulary: newVocabulary(opts)}
}

func (b *BagOfWords) Kind() Kind   { return KindBOW }
func (b *BagOfWords) Name() string { return "CountVectorizer" }
func (b *BagOfWords) Fitted() bool { return b.fitted() }

func (b *BagOfWords) Fit(docs []string) error {
	if b.fitted() {
		return errAlreadyFitted
	}
	_, err := b.fit(docs)
	return err
}

func (b *BagOfWords) Transform(docs []string) (*sparse.Matrix, error) {
	return b.transform(docs, sparse.FromMap)
}

func (b *BagOfWords) FitTransform(docs []string) (*sparse.Matrix, error) {
	if err := b.Fit(docs); err != nil {
		return nil, err
	}
	return b.Transform(docs)
}

func (b *BagOfWords) Vectorize(docs []string) (*sparse.Matrix, error) {
	return b.FitTransform(docs)
}

func (b *BagOfWords) FeatureNames() ([]string, error) { return b.featureNames() }

func (b *BagOfWords) Clone() Vectorizer { return NewBagOfWords(b.opts) }

func (b *BagOfWords) State() State {
	return State{Kind: KindBOW, Options: b.opts, Vocabulary: append([]string(nil), b.terms...)}
}

// TFIDF weights counts by smoothed inverse document frequency,
// idf(t) = ln((1+n)/(1+df(t))) + 1, and L2-normalises every row.
type TFIDF struct {
	vocabulary
	idf []float64
}

// NewTFIDF returns an unfitted TF-IDF vectorizer.
func NewTFIDF(opts Options) *TFIDF {
	return &TFIDF{vocabulary: newVocabulary(opts)}
}

func (t *TFIDF) Kind() Kind   { return KindTFIDF }
func (t *TFIDF) Name() string { return "TfidfVectorizer" }
func (t *TFIDF) Fitted() bool { return t.fitted() }

func (t *TFIDF) Fit(docs []string) error {
	if t.fitted() {
		return errAlreadyFitted
	}
	df, err := t.fit(docs)
	if err != nil {
		return err
	}
	n := float64(len(docs))
	t.idf = make([]float64, len(df))
	for i, d := range df {
		t.idf[i] = math.Log((1+n)/(1+float64(d))) + 1
	}
	return nil
}

func (t *TFIDF) Transform(docs []string) (*sparse.Matrix, error) {
	return t.transform(docs, func(counts map[int]float64) sparse.Vector {
		for i, c := range counts {
			counts[i] = c * t.idf[i]
		}
		v := sparse.FromMap(counts)
		if norm := v.Norm(); norm > 0 {
			v.Scale(1 / norm)
		}
		return v
	})
}

func (t *TFIDF) FitTransform(docs []string) (*sparse.Matrix, error) {
	if err := t.Fit(docs); err != nil {
		return nil, err
	}
	return t.Transform(docs)
}

func (t *TFIDF) Vectorize(docs []string) (*sparse.Matrix, error) {
	return t.FitTransform(docs)
}

func (t *TFIDF) FeatureNames() ([]string, error) { return t.featureNames() }

func (t *TFIDF) Clone() Vectorizer { return NewTFIDF(t.opts) }

func (t *TFIDF) State() State {
	return State{
		Kind:       KindTFIDF,
		Options:    t.opts,
		Vocabulary: append([]string(nil), t.terms...),
		IDF:        append([]float64(nil), t.idf...),
	}
}
