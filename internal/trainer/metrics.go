package trainer

import (
	"encoding/json"
	"fmt"
	"sort"

	"email-classifier/internal/estimator"
)

// ClassMetrics are the per-label scores of a classification report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report mirrors a classification report: one entry per label plus the
// overall accuracy and the macro and support-weighted averages.
type Report struct {
	Labels      []string
	PerClass    map[string]ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
}

// Map flattens the report under the keys "<label>", "accuracy",
// "macro avg" and "weighted avg".
func (r Report) Map() map[string]any {
	out := make(map[string]any, len(r.PerClass)+3)
	for label, m := range r.PerClass {
		out[label] = m
	}
	out["accuracy"] = r.Accuracy
	out["macro avg"] = r.MacroAvg
	out["weighted avg"] = r.WeightedAvg
	return out
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// ConfusionMatrix counts predictions; rows are true labels and columns are
// predicted labels, both in Labels order.
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Counts [][]int  `json:"counts"`
}

// Evaluation is the outcome of scoring a fitted pipeline on held-out data.
type Evaluation struct {
	Accuracy        float64         `json:"accuracy"`
	Report          Report          `json:"classification_report"`
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix"`
}

// Evaluate predicts docs with model and scores the predictions against
// labels. It has no side effects.
func Evaluate(model *estimator.Pipeline, docs, labels []string) (*Evaluation, error) {
	if len(docs) != len(labels) {
		return nil, fmt.Errorf("evaluate: %d documents but %d labels", len(docs), len(labels))
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("evaluate: empty test set")
	}
	pred, err := model.Predict(docs)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return Score(labels, pred), nil
}

// Score computes accuracy, the classification report and the confusion matrix.
func Score(truth, pred []string) *Evaluation {
	labels := unionLabels(truth, pred)
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range truth {
		counts[pos[truth[i]]][pos[pred[i]]]++
	}
	accuracy := Accuracy(truth, pred)

	report := Report{Labels: labels, PerClass: make(map[string]ClassMetrics, len(labels)), Accuracy: accuracy}
	total := 0
	for i, l := range labels {
		tp := counts[i][i]
		var predicted, support int
		for j := range labels {
			predicted += counts[j][i]
			support += counts[i][j]
		}
		m := ClassMetrics{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.PerClass[l] = m

		n := float64(len(labels))
		report.MacroAvg.Precision += m.Precision / n
		report.MacroAvg.Recall += m.Recall / n
		report.MacroAvg.F1 += m.F1 / n
		w := float64(support)
		report.WeightedAvg.Precision += m.Precision * w
		report.WeightedAvg.Recall += m.Recall * w
		report.WeightedAvg.F1 += m.F1 * w
		total += support
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total
	if total > 0 {
		report.WeightedAvg.Precision /= float64(total)
		report.WeightedAvg.Recall /= float64(total)
		report.WeightedAvg.F1 /= float64(total)
	}

	return &Evaluation{
		Accuracy:        accuracy,
		Report:          report,
		ConfusionMatrix: ConfusionMatrix{Labels: labels, Counts: counts},
	}
}

// Accuracy is the fraction of equal pairs. Empty input scores 0.
func Accuracy(truth, pred []string) float64 {
	if len(truth) == 0 {
		return 0
	}
	correct := 0
	for i := range truth {
		if truth[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth))
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func unionLabels(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range [][]string{a, b} {
		for _, l := range s {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	sort.Strings(out)
	return out
}
