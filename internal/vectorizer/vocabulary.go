package vectorizer

import (
	"errors"
	"fmt"
	"sort"

	"email-classifier/internal/apperr"
	"email-classifier/internal/sparse"
	"email-classifier/internal/text"
)

var errEmptyVocabulary = errors.New("empty vocabulary; documents may only contain stop words")

// vocabulary is the term table shared by the count-based strategies.
type vocabulary struct {
	opts    Options
	analyze func(string) text.Tokens
	terms   []string
	index   map[string]int
}

func newVocabulary(opts Options) vocabulary {
	return vocabulary{opts: opts, analyze: opts.analyzer()}
}

func (v *vocabulary) setTerms(terms []string) {
	v.terms = append([]string(nil), terms...)
	v.index = make(map[string]int, len(terms))
	for i, t := range v.terms {
		v.index[t] = i
	}
}

func (v *vocabulary) fitted() bool { return v.index != nil }

// fit selects the vocabulary and returns the document frequency of each kept
// term, indexed like the vocabulary.
func (v *vocabulary) fit(docs []string) ([]int, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("cannot fit on zero documents")
	}
	tf := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, t := range v.analyze(doc) {
			tf[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	candidates := make([]string, 0, len(tf))
	for t := range tf {
		if df[t] >= v.opts.MinDF {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, errEmptyVocabulary
	}

	if v.opts.MaxFeatures > 0 && len(candidates) > v.opts.MaxFeatures {
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if tf[a] != tf[b] {
				return tf[a] > tf[b]
			}
			return a < b
		})
		candidates = candidates[:v.opts.MaxFeatures]
	}
	sort.Strings(candidates)
	v.setTerms(candidates)

	counts := make([]int, len(candidates))
	for i, t := range candidates {
		counts[i] = df[t]
	}
	return counts, nil
}

// counts returns raw term counts of doc over the fitted vocabulary.
func (v *vocabulary) counts(doc string) map[int]float64 {
	row := make(map[int]float64)
	for _, t := range v.analyze(doc) {
		if i, ok := v.index[t]; ok {
			row[i]++
		}
	}
	return row
}

func (v *vocabulary) featureNames() ([]string, error) {
	if !v.fitted() {
		return nil, fmt.Errorf("feature names: %w", apperr.ErrNotSupported)
	}
	return append([]string(nil), v.terms...), nil
}

func (v *vocabulary) transform(docs []string, weigh func(map[int]float64) sparse.Vector) (*sparse.Matrix, error) {
	if !v.fitted() {
		return nil, apperr.ErrNotFitted
	}
	rows := make([]sparse.Vector, len(docs))
	for i, doc := range docs {
		rows[i] = weigh(v.counts(doc))
	}
	return sparse.NewMatrix(len(v.terms), rows)
}
