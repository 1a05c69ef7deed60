package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"email-classifier/internal/estimator"
	"email-classifier/internal/tracking"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no artifact exists for a Ref.
var ErrNotFound = errors.New("artifact not found")

// Ref names a promoted artifact: a registered model name and its stage.
type Ref struct {
	Name  string
	Stage string
}

func (r Ref) String() string { return "models:/" + r.Name + "/" + r.Stage }

// Store persists and loads combined artifacts.
type Store interface {
	// Save persists p as the artifact for ref. run is the training run that
	// produced it and may be nil for stores that do not track runs.
	Save(ctx context.Context, ref Ref, run *tracking.Run, p *estimator.Pipeline, meta Metadata) error
	Load(ctx context.Context, ref Ref) (*estimator.Pipeline, *Metadata, error)
	// Location identifies where the store keeps artifacts.
	Location() string
}

// FileStore keeps artifacts under <dir>/<name>/<stage>/model.json.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Location() string { return "file://" + s.dir }

func (s *FileStore) path(ref Ref) string {
	return filepath.Join(s.dir, ref.Name, ref.Stage, FileName)
}

// Save writes atomically through a temporary file in the same directory.
func (s *FileStore) Save(_ context.Context, ref Ref, run *tracking.Run, p *estimator.Pipeline, meta Metadata) error {
	if run != nil && meta.RunID == "" {
		meta.RunID = run.ID
	}
	data, err := Encode(p, meta)
	if err != nil {
		return err
	}
	target := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, ref Ref) (*estimator.Pipeline, *Metadata, error) {
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return Decode(data)
}

// Registry is the part of the tracking client the registry store needs.
type Registry interface {
	LogArtifact(ctx context.Context, run *tracking.Run, path string, data []byte) error
	DownloadArtifact(ctx context.Context, path string) ([]byte, error)
	CreateRegisteredModel(ctx context.Context, name string) error
	CreateModelVersion(ctx context.Context, name, source, runID string) (*tracking.ModelVersion, error)
	TransitionStage(ctx context.Context, name, version, stage string) error
	DeleteModelVersion(ctx context.Context, name, version string) error
	LatestVersion(ctx context.Context, name, stage string) (*tracking.ModelVersion, error)
	Endpoint() string
}

// RegistryStore logs artifacts under the training run and promotes them
// through the tracking server's model registry.
type RegistryStore struct {
	registry Registry
	logger   *zap.Logger
}

// NewRegistryStore wraps a tracking registry.
func NewRegistryStore(r Registry, logger *zap.Logger) *RegistryStore {
	return &RegistryStore{registry: r, logger: logger}
}

const modelDir = "model"

func (s *RegistryStore) Location() string { return s.registry.Endpoint() }

// Save uploads the document, registers a new version and moves it to the
// ref's stage. The version only becomes visible under the stage once the
// final transition succeeds; a version whose transition fails is removed
// again.
func (s *RegistryStore) Save(ctx context.Context, ref Ref, run *tracking.Run, p *estimator.Pipeline, meta Metadata) error {
	if run == nil {
		return fmt.Errorf("registry store needs a tracking run")
	}
	meta.RunID = run.ID
	data, err := Encode(p, meta)
	if err != nil {
		return err
	}
	if err := s.registry.LogArtifact(ctx, run, path.Join(modelDir, FileName), data); err != nil {
		return err
	}
	if err := s.registry.CreateRegisteredModel(ctx, ref.Name); err != nil {
		return err
	}
	mv, err := s.registry.CreateModelVersion(ctx, ref.Name, run.ArtifactURI(modelDir), run.ID)
	if err != nil {
		return err
	}
	if err := s.registry.TransitionStage(ctx, ref.Name, mv.Version, ref.Stage); err != nil {
		if derr := s.registry.DeleteModelVersion(context.WithoutCancel(ctx), ref.Name, mv.Version); derr != nil {
			s.logger.Warn("Orphaned model version left in registry",
				zap.String("model", ref.Name),
				zap.String("version", mv.Version),
				zap.String("run_id", run.ID),
				zap.Error(derr))
		}
		return err
	}
	s.logger.Info("Model promoted",
		zap.String("model", ref.Name),
		zap.String("version", mv.Version),
		zap.String("stage", ref.Stage),
		zap.String("run_id", run.ID))
	return nil
}

func (s *RegistryStore) Load(ctx context.Context, ref Ref) (*estimator.Pipeline, *Metadata, error) {
	mv, err := s.registry.LatestVersion(ctx, ref.Name, ref.Stage)
	if errors.Is(err, tracking.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := s.registry.DownloadArtifact(ctx, path.Join(tracking.ArtifactPathFromURI(mv.Source), FileName))
	if err != nil {
		return nil, nil, err
	}
	p, meta, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	meta.Version = mv.Version
	return p, meta, nil
}
