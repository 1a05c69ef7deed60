// Package text turns raw email bodies into token streams for the vectorizers.
package text

import (
	"strings"
	"unicode"

	porterstemmer "github.com/kiteco/go-porterstemmer"
	"golang.org/x/text/unicode/norm"
)

// TokenFunc takes in a slice of tokens and returns a slice of tokens.
type TokenFunc func(Tokens) Tokens

// Tokens represents a slice of strings
type Tokens []string

// Processor consists of a list of token processing rules.
type Processor struct {
	filters []TokenFunc
}

// NewProcessor takes a list of TokenFuncs to instantiate a Processor.
func NewProcessor(funcs ...TokenFunc) *Processor {
	return &Processor{filters: append([]TokenFunc(nil), funcs...)}
}

// Apply applies each TokenFunc in order.
func (p *Processor) Apply(ts Tokens) Tokens {
	for _, fn := range p.filters {
		ts = fn(ts)
	}
	return ts
}

// Options selects the processing steps used by Analyzer.
type Options struct {
	Lowercase bool
	StopWords bool
	Stem      bool
}

// Analyzer builds a function mapping a document to its tokens.
func Analyzer(opts Options) func(string) Tokens {
	var funcs []TokenFunc
	if opts.Lowercase {
		funcs = append(funcs, Lower)
	}
	if opts.StopWords {
		funcs = append(funcs, RemoveStopWords)
	}
	if opts.Stem {
		funcs = append(funcs, Stem)
	}
	p := NewProcessor(funcs...)
	return func(doc string) Tokens {
		return p.Apply(Tokenize(doc))
	}
}

// Tokenize NFKC-normalizes s and splits it into runs of at least two word
// characters (letters, digits or underscore).
func Tokenize(s string) Tokens {
	s = norm.NFKC.String(s)

	var ts Tokens
	var b strings.Builder
	n := 0
	flush := func() {
		if n >= 2 {
			ts = append(ts, b.String())
		}
		b.Reset()
		n = 0
	}
	for _, r := range s {
		if isWordRune(r) {
			b.WriteRune(r)
			n++
			continue
		}
		flush()
	}
	flush()
	return ts
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Lower converts all tokens to lower case
func Lower(ts Tokens) Tokens {
	for i, t := range ts {
		ts[i] = strings.ToLower(t)
	}
	return ts
}

// Stem replaces each token by its Porter stem.
func Stem(ts Tokens) Tokens {
	for i, t := range ts {
		ts[i] = porterstemmer.StemString(t)
	}
	return ts
}

// RemoveStopWords drops English stop words.
func RemoveStopWords(ts Tokens) Tokens {
	var filtered Tokens
	for _, t := range ts {
		if !IsStopWord(t) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
