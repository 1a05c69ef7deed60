// Package config loads the pipeline configuration and the service settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"email-classifier/internal/apperr"
	"email-classifier/internal/classifier"
	"email-classifier/internal/dataset"
	"email-classifier/internal/hparams"
	"email-classifier/internal/vectorizer"

	"gopkg.in/yaml.v3"
)

// DefaultModelStage is the registry stage models are promoted to.
const DefaultModelStage = "Production"

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Config is one pipeline configuration. It is never mutated after Load;
// use the accessors to obtain parameter maps.
type Config struct {
	Project struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"project"`
	Data struct {
		FilePath    string `yaml:"file_path"`
		FileType    string `yaml:"file_type"`
		BodyColumn  string `yaml:"body_column"`
		LabelColumn string `yaml:"label_column"`
	} `yaml:"data"`
	Vectorization struct {
		Type   string         `yaml:"type"`
		Params hparams.Params `yaml:"params"`
	} `yaml:"vectorization"`
	Classification struct {
		Type   string         `yaml:"type"`
		Params hparams.Params `yaml:"params"`
	} `yaml:"classification"`
	Tracking struct {
		EndpointURI     string `yaml:"endpoint_uri"`
		ExperimentName  string `yaml:"experiment_name"`
		LogBestAccuracy bool   `yaml:"log_best_accuracy"`
		Model           struct {
			Name  string `yaml:"name"`
			Stage string `yaml:"stage"`
		} `yaml:"model"`
	} `yaml:"tracking"`
}

// Load reads and validates the YAML file at path. Environment variables in
// the file are expanded before decoding.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &apperr.ConfigurationError{Path: path, Err: fmt.Errorf("failed to open config file: %w", err)}
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, &apperr.ConfigurationError{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := &Config{}
	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("config file is empty")
		}
		return nil, &apperr.ConfigurationError{Path: path, Err: fmt.Errorf("failed to decode config file: %w", err)}
	}
	cfg.setDefaults()

	if fields := cfg.validate(); len(fields) > 0 {
		return nil, &apperr.ConfigurationError{Path: path, Fields: fields}
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Data.FileType == "" {
		c.Data.FileType = string(dataset.FileCSV)
	}
	if c.Tracking.Model.Name == "" {
		c.Tracking.Model.Name = c.Project.Name
	}
	if c.Tracking.Model.Stage == "" {
		c.Tracking.Model.Stage = DefaultModelStage
	}
}

// validate returns one message per violated field.
func (c *Config) validate() []string {
	var fields []string
	add := func(format string, args ...any) {
		fields = append(fields, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Project.Name) == "" {
		add("project.name: must not be empty")
	}
	if !semver.MatchString(c.Project.Version) {
		add("project.version: %q is not MAJOR.MINOR.PATCH", c.Project.Version)
	}
	if strings.TrimSpace(c.Data.FilePath) == "" {
		add("data.file_path: must not be empty")
	}
	if _, err := dataset.ParseFileType(c.Data.FileType); err != nil {
		add("data.file_type: %v", err)
	}

	if kind, err := vectorizer.ParseKind(c.Vectorization.Type); err != nil {
		add("vectorization.type: %v", err)
	} else if kind == vectorizer.KindTFIDF && !c.Vectorization.Params.Has("max_features") {
		add("vectorization.params.max_features: required for tfidf")
	} else if _, err := vectorizer.ParseOptions(c.Vectorization.Params); err != nil {
		add("vectorization.params: %v", err)
	}

	if spec, err := classifier.Get(c.Classification.Type); err != nil {
		add("classification.type: %v", err)
	} else if spec.Kind() == classifier.KindSGD && !c.Classification.Params.Has("alpha") {
		add("classification.params.alpha: required for sgd")
	} else if _, err := spec.Estimator(c.Classification.Params); err != nil {
		add("classification.params: %v", err)
	}

	uri := c.Tracking.EndpointURI
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		add("tracking.endpoint_uri: %q must start with http:// or https://", uri)
	}
	return fields
}

// FileType returns the parsed dataset file type.
func (c *Config) FileType() dataset.FileType {
	ft, _ := dataset.ParseFileType(c.Data.FileType)
	return ft
}

// Columns returns the configured dataset column names.
func (c *Config) Columns() dataset.Columns {
	return dataset.Columns{Body: c.Data.BodyColumn, Label: c.Data.LabelColumn}
}

// VectorizerKind returns the parsed vectorizer kind.
func (c *Config) VectorizerKind() vectorizer.Kind {
	k, _ := vectorizer.ParseKind(c.Vectorization.Type)
	return k
}

// ClassifierKind returns the parsed classifier kind.
func (c *Config) ClassifierKind() classifier.Kind {
	k, _ := classifier.ParseKind(c.Classification.Type)
	return k
}

// VectorizerParams returns a copy of the vectorization params.
func (c *Config) VectorizerParams() hparams.Params {
	return c.Vectorization.Params.Clone()
}

// ClassifierParams returns a copy of the classification params.
func (c *Config) ClassifierParams() hparams.Params {
	return c.Classification.Params.Clone()
}
