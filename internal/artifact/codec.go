// Package artifact persists a fitted vectorizer and classifier as one
// combined document so they can only ever be loaded together.
package artifact

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"email-classifier/internal/classifier"
	"email-classifier/internal/estimator"
	"email-classifier/internal/vectorizer"

	"golang.org/x/crypto/blake2b"
)

// FileName is the name of the combined document inside an artifact directory.
const FileName = "model.json"

const formatVersion = 1

// ErrChecksumMismatch means the vectorizer and classifier halves of a
// document were not written together.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

// Metadata describes where an artifact came from.
type Metadata struct {
	Name      string             `json:"name"`
	Version   string             `json:"version,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	Accuracy  float64            `json:"accuracy"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type document struct {
	Format     int             `json:"format"`
	Metadata   Metadata        `json:"metadata"`
	Vectorizer json.RawMessage `json:"vectorizer"`
	Classifier json.RawMessage `json:"classifier"`
	Checksum   string          `json:"checksum"`
}

// checksum hashes the compact form of both halves, so re-indenting the
// document does not invalidate it.
func checksum(v, c []byte) (string, error) {
	h, _ := blake2b.New256(nil)
	for i, part := range [][]byte{v, c} {
		var buf bytes.Buffer
		if err := json.Compact(&buf, part); err != nil {
			return "", err
		}
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(buf.Bytes())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Encode serialises a fitted pipeline.
func Encode(p *estimator.Pipeline, meta Metadata) ([]byte, error) {
	if p == nil || !p.Fitted() {
		return nil, fmt.Errorf("encode artifact: pipeline is not fitted")
	}
	v, err := json.Marshal(p.Vectorizer.State())
	if err != nil {
		return nil, fmt.Errorf("encode vectorizer: %w", err)
	}
	c, err := json.Marshal(p.Model.State())
	if err != nil {
		return nil, fmt.Errorf("encode classifier: %w", err)
	}
	sum, err := checksum(v, c)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return json.MarshalIndent(document{
		Format:     formatVersion,
		Metadata:   meta,
		Vectorizer: v,
		Classifier: c,
		Checksum:   sum,
	}, "", "  ")
}

// Decode restores the pipeline and verifies both halves belong together.
func Decode(data []byte) (*estimator.Pipeline, *Metadata, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if doc.Format != formatVersion {
		return nil, nil, fmt.Errorf("decode artifact: unsupported format %d", doc.Format)
	}
	sum, err := checksum(doc.Vectorizer, doc.Classifier)
	if err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if sum != doc.Checksum {
		return nil, nil, ErrChecksumMismatch
	}

	var vs vectorizer.State
	if err := json.Unmarshal(doc.Vectorizer, &vs); err != nil {
		return nil, nil, fmt.Errorf("decode vectorizer: %w", err)
	}
	var cs classifier.State
	if err := json.Unmarshal(doc.Classifier, &cs); err != nil {
		return nil, nil, fmt.Errorf("decode classifier: %w", err)
	}
	v, err := vectorizer.FromState(vs)
	if err != nil {
		return nil, nil, fmt.Errorf("restore vectorizer: %w", err)
	}
	m, err := classifier.FromState(cs)
	if err != nil {
		return nil, nil, fmt.Errorf("restore classifier: %w", err)
	}
	if vocab := len(vs.Vocabulary); len(cs.Coef) > 0 && len(cs.Coef[0]) != vocab {
		return nil, nil, fmt.Errorf("classifier expects %d features but vocabulary has %d", len(cs.Coef[0]), vocab)
	}
	return estimator.New(v, m), &doc.Metadata, nil
}
