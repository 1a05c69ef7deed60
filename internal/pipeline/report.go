package pipeline

import (
	"encoding/json"
	"fmt"

	"email-classifier/internal/trainer"

	"github.com/gocarina/gocsv"
)

// Names of the files logged with every tracked run.
const (
	ConfusionMatrixFile = "confusion_matrix.csv"
	ReportFile          = "classification_report.json"
	SearchFile          = "grid_search.json"
)

type confusionCell struct {
	Actual    string `csv:"actual"`
	Predicted string `csv:"predicted"`
	Count     int    `csv:"count"`
}

type runFile struct {
	name string
	data []byte
}

// ConfusionMatrixCSV renders cm in long form, one row per (actual, predicted)
// pair in label order.
func ConfusionMatrixCSV(cm trainer.ConfusionMatrix) ([]byte, error) {
	cells := make([]*confusionCell, 0, len(cm.Labels)*len(cm.Labels))
	for i, actual := range cm.Labels {
		for j, predicted := range cm.Labels {
			cells = append(cells, &confusionCell{Actual: actual, Predicted: predicted, Count: cm.Counts[i][j]})
		}
	}
	out, err := gocsv.MarshalBytes(&cells)
	if err != nil {
		return nil, fmt.Errorf("render confusion matrix: %w", err)
	}
	return out, nil
}

func reportFiles(eval *trainer.Evaluation, search *trainer.SearchResult) ([]runFile, error) {
	cm, err := ConfusionMatrixCSV(eval.ConfusionMatrix)
	if err != nil {
		return nil, err
	}
	report, err := json.MarshalIndent(eval.Report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render classification report: %w", err)
	}
	grid, err := json.MarshalIndent(search, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render grid search: %w", err)
	}
	return []runFile{
		{ConfusionMatrixFile, cm},
		{ReportFile, report},
		{SearchFile, grid},
	}, nil
}
