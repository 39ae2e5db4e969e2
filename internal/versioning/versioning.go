package versioning

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"fraud-pipeline/internal/config"
)

// Versioner records pipeline data in the external version-control system.
// It is a side channel: callers pass their artifacts through unchanged.
type Versioner interface {
	TrackRawData(ctx context.Context, path string) error
	TrackTransformed(ctx context.Context, objectPath, dataPath string) error
	TrackModel(ctx context.Context, modelPath string) error
}

func RawDataMessage(path string) string {
	return "DVC: Versioned raw data from " + filepath.Base(path)
}

const (
	TransformedMessage = "DVC: Versioned transformed data and preprocessor object"
	ModelMessage       = "DVC: Versioned trained model"
)

func New(cfg config.VersioningConfig) Versioner {
	if !cfg.Enabled {
		return NopVersioner{}
	}
	return &ScriptVersioner{cfg: cfg}
}

type NopVersioner struct{}

func (NopVersioner) TrackRawData(ctx context.Context, path string) error {
	slog.Debug("versioning disabled, skipping raw data", "path", path)
	return nil
}

func (NopVersioner) TrackTransformed(ctx context.Context, objectPath, dataPath string) error {
	return nil
}

func (NopVersioner) TrackModel(ctx context.Context, modelPath string) error {
	return nil
}

// ScriptVersioner shells out to the repository's dvc scripts. Each script
// is invoked as `<script> <commit message> <path>...` from the work dir.
type ScriptVersioner struct {
	cfg config.VersioningConfig
}

func NewScriptVersioner(cfg config.VersioningConfig) *ScriptVersioner {
	return &ScriptVersioner{cfg: cfg}
}

func (s *ScriptVersioner) TrackRawData(ctx context.Context, path string) error {
	return s.run(ctx, s.cfg.TrackScript, RawDataMessage(path), path)
}

func (s *ScriptVersioner) TrackTransformed(ctx context.Context, objectPath, dataPath string) error {
	return s.run(ctx, s.cfg.LoadScript, TransformedMessage, objectPath, dataPath)
}

func (s *ScriptVersioner) TrackModel(ctx context.Context, modelPath string) error {
	return s.run(ctx, s.cfg.LoadScript, ModelMessage, modelPath)
}

func (s *ScriptVersioner) run(ctx context.Context, script, message string, paths ...string) error {
	if script == "" {
		return fmt.Errorf("no versioning script configured for %q", message)
	}

	args := append([]string{script, message}, paths...)
	cmd := exec.CommandContext(ctx, "sh", args...)
	cmd.Dir = s.cfg.WorkDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("versioning script %s failed: %w: %s", script, err, strings.TrimSpace(string(output)))
	}
	slog.Info("versioned artifacts", "script", script, "message", message, "paths", paths)
	return nil
}
