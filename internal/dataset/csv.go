package dataset

import (
	"bytes"
	"errors"
	"io"

	"email-classifier/internal/apperr"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvLoader struct {
	cols   Columns
	logger *zap.Logger
}

func (l *csvLoader) Load(path string) (Dataset, error) {
	l.logger.Info("Loading CSV data", zap.String("path", path))
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	header, err := gocsv.LazyCSVReader(bytes.NewReader(data)).Read()
	if errors.Is(err, io.EOF) {
		return nil, &apperr.DataLoadError{Path: path, Err: errNoColumns}
	}
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}
	bodyCol, err := resolve(header, l.cols.Body)
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}
	labelCol, err := resolve(header, l.cols.Label)
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}

	records, err := gocsv.CSVToMaps(bytes.NewReader(data))
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}
	ds := make(Dataset, 0, len(records))
	for _, rec := range records {
		ds = append(ds, Row{Body: cell(rec[bodyCol]), Label: cell(rec[labelCol])})
	}
	l.logger.Info("CSV data loaded", zap.String("path", path), zap.Int("rows", len(ds)))
	return ds, nil
}
