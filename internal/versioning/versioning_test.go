package versioning_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/versioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recordScript = `#!/bin/sh
printf '%s\n' "$@" >> calls.log
`

func scriptConfig(t *testing.T) config.VersioningConfig {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.sh"), []byte(recordScript), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "load.sh"), []byte(recordScript), 0755))
	return config.VersioningConfig{Enabled: true, WorkDir: dir, TrackScript: "track.sh", LoadScript: "load.sh"}
}

func calls(t *testing.T, cfg config.VersioningConfig) []string {
	data, err := os.ReadFile(filepath.Join(cfg.WorkDir, "calls.log"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestScriptVersioner(t *testing.T) {
	cfg := scriptConfig(t)
	v := versioning.New(cfg)
	ctx := context.Background()

	require.NoError(t, v.TrackRawData(ctx, "artifacts/unzipped/fraud_data.csv"))
	require.NoError(t, v.TrackTransformed(ctx, "pre.json", "data.csv"))
	require.NoError(t, v.TrackModel(ctx, "model.json"))

	assert.Equal(t, []string{
		"DVC: Versioned raw data from fraud_data.csv", "artifacts/unzipped/fraud_data.csv",
		"DVC: Versioned transformed data and preprocessor object", "pre.json", "data.csv",
		"DVC: Versioned trained model", "model.json",
	}, calls(t, cfg))
}

func TestScriptFailureIncludesOutput(t *testing.T) {
	cfg := scriptConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "track.sh"), []byte("#!/bin/sh\necho 'not a dvc repo' >&2\nexit 1\n"), 0755))

	err := versioning.New(cfg).TrackRawData(context.Background(), "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a dvc repo")
}

func TestDisabledIsNop(t *testing.T) {
	v := versioning.New(config.VersioningConfig{})
	assert.IsType(t, versioning.NopVersioner{}, v)
	assert.NoError(t, v.TrackModel(context.Background(), "model.json"))
}
