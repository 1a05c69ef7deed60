// Package dataset loads labelled email tables and prepares them for training.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"email-classifier/internal/apperr"
)

// Row is one email. An empty Body or Label is a missing value.
type Row struct {
	Body  string `json:"body" csv:"body"`
	Label string `json:"label" csv:"label"`
}

// Dataset is an ordered table of rows.
type Dataset []Row

// Bodies returns the body column.
func (d Dataset) Bodies() []string {
	out := make([]string, len(d))
	for i, r := range d {
		out[i] = r.Body
	}
	return out
}

// Labels returns the label column.
func (d Dataset) Labels() []string {
	out := make([]string, len(d))
	for i, r := range d {
		out[i] = r.Label
	}
	return out
}

// Counts returns the number of rows per label, ignoring missing labels.
func (d Dataset) Counts() map[string]int {
	out := make(map[string]int)
	for _, r := range d {
		if r.Label != "" {
			out[r.Label]++
		}
	}
	return out
}

// Classes returns the distinct labels in sorted order.
func (d Dataset) Classes() []string {
	counts := d.Counts()
	out := make([]string, 0, len(counts))
	for l := range counts {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// FileType selects the loader backend.
type FileType string

const (
	FileCSV  FileType = "csv"
	FileJSON FileType = "json"
)

// ParseFileType resolves a file type name case-insensitively.
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToLower(strings.TrimSpace(s))) {
	case FileCSV:
		return FileCSV, nil
	case FileJSON:
		return FileJSON, nil
	}
	return "", &apperr.UnsupportedTypeError{Category: "file", Type: s}
}

// EncodeLabel maps a label to the integer the API reports: numeric labels
// are returned as-is, "Phishing" is 1 and "Safe" is 0.
func EncodeLabel(label string) (int, error) {
	l := strings.TrimSpace(label)
	if n, err := strconv.Atoi(l); err == nil {
		return n, nil
	}
	switch strings.ToLower(l) {
	case "phishing", "phishing email", "spam":
		return 1, nil
	case "safe", "safe email", "ham":
		return 0, nil
	}
	return 0, fmt.Errorf("cannot encode label %q", label)
}
