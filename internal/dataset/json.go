package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"email-classifier/internal/apperr"

	"go.uber.org/zap"
)

// missing holds the cell spellings treated as a missing value.
var missing = map[string]struct{}{
	"": {}, "nan": {}, "na": {}, "n/a": {}, "null": {}, "none": {},
}

func cell(v string) string {
	v = strings.TrimSpace(v)
	if _, ok := missing[strings.ToLower(v)]; ok {
		return ""
	}
	return v
}

// jsonLoader accepts either an array of records or a column-oriented
// object mapping column name to {index: value} or to an array of values.
type jsonLoader struct {
	cols   Columns
	logger *zap.Logger
}

func (l *jsonLoader) Load(path string) (Dataset, error) {
	l.logger.Info("Loading JSON data", zap.String("path", path))
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}

	var ds Dataset
	switch v := raw.(type) {
	case []any:
		ds, err = l.records(v)
	case map[string]any:
		ds, err = l.columns(v)
	default:
		err = fmt.Errorf("expected an array of records or an object of columns, got %T", raw)
	}
	if err != nil {
		return nil, &apperr.DataLoadError{Path: path, Err: err}
	}
	l.logger.Info("JSON data loaded", zap.String("path", path), zap.Int("rows", len(ds)))
	return ds, nil
}

func (l *jsonLoader) records(items []any) (Dataset, error) {
	if len(items) == 0 {
		return nil, errNoColumns
	}
	ds := make(Dataset, 0, len(items))
	var bodyCol, labelCol string
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, not an object", i, item)
		}
		if i == 0 {
			keys := mapKeys(rec)
			var err error
			if bodyCol, err = resolve(keys, l.cols.Body); err != nil {
				return nil, err
			}
			if labelCol, err = resolve(keys, l.cols.Label); err != nil {
				return nil, err
			}
		}
		ds = append(ds, Row{Body: scalar(rec[bodyCol]), Label: scalar(rec[labelCol])})
	}
	return ds, nil
}

func (l *jsonLoader) columns(obj map[string]any) (Dataset, error) {
	if len(obj) == 0 {
		return nil, errNoColumns
	}
	keys := mapKeys(obj)
	bodyCol, err := resolve(keys, l.cols.Body)
	if err != nil {
		return nil, err
	}
	labelCol, err := resolve(keys, l.cols.Label)
	if err != nil {
		return nil, err
	}
	bodies, err := column(obj[bodyCol])
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", bodyCol, err)
	}
	labels, err := column(obj[labelCol])
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", labelCol, err)
	}

	index := make(map[string]struct{}, len(bodies))
	for k := range bodies {
		index[k] = struct{}{}
	}
	for k := range labels {
		index[k] = struct{}{}
	}
	order := make([]string, 0, len(index))
	for k := range index {
		order = append(order, k)
	}
	sortIndex(order)

	ds := make(Dataset, 0, len(order))
	for _, k := range order {
		ds = append(ds, Row{Body: bodies[k], Label: labels[k]})
	}
	return ds, nil
}

// column flattens {index: value} or [value, ...] into index -> cell.
func column(v any) (map[string]string, error) {
	out := make(map[string]string)
	switch c := v.(type) {
	case map[string]any:
		for k, x := range c {
			out[k] = scalar(x)
		}
	case []any:
		for i, x := range c {
			out[strconv.Itoa(i)] = scalar(x)
		}
	default:
		return nil, fmt.Errorf("expected object or array, got %T", v)
	}
	return out, nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return cell(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return cell(fmt.Sprint(x))
	}
}

// sortIndex orders numeric indices numerically and the rest lexically after them.
func sortIndex(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
