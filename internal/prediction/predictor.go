package prediction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/core/utils"
	"fraud-pipeline/internal/storage"
)

const (
	LabelFraudulent = "Fraudulent transaction"
	LabelLegitimate = "Legitimate transaction"
)

type Result struct {
	Label       string
	Fraudulent  bool
	Probability float64
}

// Predictor serves the model published by the evaluation stage. Artifacts
// are downloaded into download_location on first use and reused afterwards.
type Predictor struct {
	cfg   config.PredictionConfig
	store storage.Provider
	locks *utils.MutexMap

	mu           sync.Mutex
	model        *core.Classifier
	preprocessor *core.Preprocessor
}

func NewPredictor(cfg config.PredictionConfig, store storage.Provider) *Predictor {
	return &Predictor{cfg: cfg, store: store, locks: utils.NewMutexMap(16)}
}

func (p *Predictor) ModelPath() string {
	return filepath.Join(p.cfg.DownloadLocation, p.cfg.S3ModelName)
}

func (p *Predictor) PreprocessorPath() string {
	return filepath.Join(p.cfg.DownloadLocation, p.cfg.S3PreprocessorName)
}

// Published lists the objects under the serving artifact folder.
func (p *Predictor) Published(ctx context.Context) ([]storage.Object, error) {
	prefix := p.cfg.S3ArtifactDir
	if prefix != "" {
		prefix += "/"
	}
	objects, err := p.store.ListObjects(ctx, p.cfg.S3BucketName, prefix)
	if err != nil {
		return nil, fmt.Errorf("error listing published artifacts: %w", err)
	}
	return objects, nil
}

// Reload drops the cached model so the next prediction fetches the latest
// published artifacts.
func (p *Predictor) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.model, p.preprocessor = nil, nil
	for _, path := range []string{p.ModelPath(), p.PreprocessorPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error removing cached artifact %s: %w", path, err)
		}
	}
	return nil
}

func (p *Predictor) Predict(ctx context.Context, record core.RawRecord) (Result, error) {
	model, preprocessor, err := p.load(ctx)
	if err != nil {
		return Result{}, err
	}

	row, err := preprocessor.TransformRecord(record)
	if err != nil {
		return Result{}, err
	}
	label, err := model.Predict(row)
	if err != nil {
		return Result{}, err
	}

	result := Result{Fraudulent: label == 1, Probability: model.Probability(row), Label: LabelLegitimate}
	if result.Fraudulent {
		result.Label = LabelFraudulent
	}
	return result, nil
}

func (p *Predictor) load(ctx context.Context) (*core.Classifier, *core.Preprocessor, error) {
	p.mu.Lock()
	model, preprocessor := p.model, p.preprocessor
	p.mu.Unlock()
	if model != nil && preprocessor != nil {
		return model, preprocessor, nil
	}

	modelKey := storage.ArtifactKey(p.cfg.S3ArtifactDir, p.cfg.S3ModelName)
	if err := p.ensureLocal(ctx, modelKey, p.ModelPath()); err != nil {
		return nil, nil, err
	}
	preprocessorKey := storage.ArtifactKey(p.cfg.S3ArtifactDir, p.cfg.S3PreprocessorName)
	if err := p.ensureLocal(ctx, preprocessorKey, p.PreprocessorPath()); err != nil {
		return nil, nil, err
	}

	model, err := core.LoadClassifier(p.ModelPath())
	if err != nil {
		return nil, nil, err
	}
	preprocessor, err = core.LoadPreprocessor(p.PreprocessorPath())
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	p.model, p.preprocessor = model, preprocessor
	p.mu.Unlock()
	return model, preprocessor, nil
}

// ensureLocal downloads key unless the file is already present. Concurrent
// first requests wait on the per-path lock instead of downloading twice.
func (p *Predictor) ensureLocal(ctx context.Context, key, path string) error {
	return p.locks.WithLock(path, func() error {
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		exists, err := p.store.ObjectExists(ctx, p.cfg.S3BucketName, key)
		if err != nil {
			return fmt.Errorf("error checking %s/%s: %w", p.cfg.S3BucketName, key, err)
		}
		if !exists {
			return fmt.Errorf("no published model artifact at %s/%s: %w", p.cfg.S3BucketName, key, storage.ErrNotFound)
		}

		slog.Info("downloading serving artifact", "bucket", p.cfg.S3BucketName, "key", key, "path", path)
		tmp := path + ".download"
		if err := p.store.DownloadObject(ctx, p.cfg.S3BucketName, key, tmp); err != nil {
			return fmt.Errorf("error downloading %s/%s: %w", p.cfg.S3BucketName, key, err)
		}
		return os.Rename(tmp, path)
	})
}
