// Package vectorizer turns email bodies into sparse numeric feature vectors.
package vectorizer

import (
	"fmt"
	"strings"

	"email-classifier/internal/apperr"
	"email-classifier/internal/hparams"
	"email-classifier/internal/sparse"
	"email-classifier/internal/text"
)

// Kind selects a vectorization strategy.
type Kind string

const (
	KindTFIDF Kind = "tfidf"
	KindBOW   Kind = "bow"
)

// ParseKind matches s case-insensitively against the supported kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTFIDF:
		return KindTFIDF, nil
	case KindBOW:
		return KindBOW, nil
	}
	return "", &apperr.UnsupportedTypeError{Category: "vectorizer", Type: s}
}

// Vectorizer is a stateful text transform. It is fitted exactly once; a
// fitted vectorizer is read-only and safe for concurrent Transform calls.
type Vectorizer interface {
	Kind() Kind
	// Name is the class name logged to the experiment tracker.
	Name() string
	// Vectorize fits on docs and returns their features.
	Vectorize(docs []string) (*sparse.Matrix, error)
	Fit(docs []string) error
	Transform(docs []string) (*sparse.Matrix, error)
	FitTransform(docs []string) (*sparse.Matrix, error)
	FeatureNames() ([]string, error)
	Fitted() bool
	// Clone returns an unfitted vectorizer with the same options.
	Clone() Vectorizer
	// State captures the fitted vocabulary for persistence.
	State() State
}

// Options are the parameters shared by both strategies.
type Options struct {
	MaxFeatures int    `json:"max_features,omitempty"`
	StopWords   string `json:"stop_words,omitempty"`
	Lowercase   bool   `json:"lowercase"`
	Stem        bool   `json:"stem,omitempty"`
	MinDF       int    `json:"min_df,omitempty"`
}

// ParseOptions reads Options from configuration params. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func ParseOptions(p hparams.Params) (Options, error) {
	opts := Options{Lowercase: true, MinDF: 1}
	for k := range p {
		switch k {
		case "max_features", "stop_words", "lowercase", "stem", "min_df":
		default:
			return opts, fmt.Errorf("unknown vectorizer parameter %q", k)
		}
	}

	var err error
	if opts.MaxFeatures, err = p.Int("max_features", 0); err != nil {
		return opts, err
	}
	if opts.MaxFeatures < 0 {
		return opts, fmt.Errorf("max_features must be positive, got %d", opts.MaxFeatures)
	}
	if opts.StopWords, err = p.String("stop_words", ""); err != nil {
		return opts, err
	}
	switch strings.ToLower(opts.StopWords) {
	case "", "none":
		opts.StopWords = ""
	case "english":
		opts.StopWords = "english"
	default:
		return opts, fmt.Errorf("unsupported stop_words %q", opts.StopWords)
	}
	if opts.Lowercase, err = p.Bool("lowercase", true); err != nil {
		return opts, err
	}
	if opts.Stem, err = p.Bool("stem", false); err != nil {
		return opts, err
	}
	if opts.MinDF, err = p.Int("min_df", 1); err != nil {
		return opts, err
	}
	if opts.MinDF < 1 {
		opts.MinDF = 1
	}
	return opts, nil
}

func (o Options) analyzer() func(string) text.Tokens {
	return text.Analyzer(text.Options{
		Lowercase: o.Lowercase,
		StopWords: o.StopWords == "english",
		Stem:      o.Stem,
	})
}

// New builds an unfitted vectorizer of the given kind.
func New(kind Kind, p hparams.Params) (Vectorizer, error) {
	opts, err := ParseOptions(p)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindTFIDF:
		return NewTFIDF(opts), nil
	case KindBOW:
		return NewBagOfWords(opts), nil
	}
	return nil, &apperr.UnsupportedTypeError{Category: "vectorizer", Type: string(kind)}
}

// State is the persisted form of a fitted vectorizer.
type State struct {
	Kind       Kind      `json:"kind"`
	Options    Options   `json:"options"`
	Vocabulary []string  `json:"vocabulary"`
	IDF        []float64 `json:"idf,omitempty"`
}

// FromState restores a fitted vectorizer.
func FromState(s State) (Vectorizer, error) {
	if len(s.Vocabulary) == 0 {
		return nil, fmt.Errorf("vectorizer state has an empty vocabulary")
	}
	voc := vocabulary{opts: s.Options, analyze: s.Options.analyzer()}
	voc.setTerms(s.Vocabulary)

	switch s.Kind {
	case KindTFIDF:
		if len(s.IDF) != len(s.Vocabulary) {
			return nil, fmt.Errorf("tfidf state has %d idf weights for %d terms", len(s.IDF), len(s.Vocabulary))
		}
		return &TFIDF{vocabulary: voc, idf: append([]float64(nil), s.IDF...)}, nil
	case KindBOW:
		return &BagOfWords{vocabulary: voc}, nil
	}
	return nil, &apperr.UnsupportedTypeError{Category: "vectorizer", Type: string(s.Kind)}
}
