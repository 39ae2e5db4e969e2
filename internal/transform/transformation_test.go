package transform_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawData = `trans_date_trans_time,dob,amt,city_pop,merch_long,is_fraud
2019-01-01 00:00:18,1988-03-09,4.97,3495,-82.048315,0
2019-01-01 00:00:44,1978-06-21,107.23,149,-118.186462,0
2019-01-01 00:00:51,1962-01-19,220.11,4154,-112.154481,0
2019-01-01 00:01:16,1967-01-12,45.00,1939,-112.561071,0
2019-01-02 01:06:37,1961-06-19,281.06,885,-80.883061,"1""2019-01-02 01:06:37"""
`

func transformConfig(dir string) config.DataTransformationConfig {
	return config.DataTransformationConfig{
		DirName:                          dir,
		TransformedDataDir:               filepath.Join(dir, "data"),
		PreprocessPipelineObjectDir:      filepath.Join(dir, "object"),
		TransformedDataFileName:          "train.csv",
		PreprocessPipelineObjectFileName: "preprocessor.json",
	}
}

func TestDataTransformation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	require.NoError(t, os.WriteFile(input, []byte(rawData), 0644))

	cfg := transformConfig(dir)
	result := transform.NewDataTransformation(cfg).Initiate(artifacts.IngestionResult{UnzippedFilePath: input, Succeeded: true})

	require.True(t, result.Succeeded)
	assert.Equal(t, filepath.Join(dir, "data", "train.csv"), result.TransformedDataPath)
	assert.Equal(t, filepath.Join(dir, "object", "preprocessor.json"), result.TransformedObjectPath)

	out, err := core.ReadCSV(result.TransformedDataPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"amt", "age", "city_pop", "merch_long", "is_fraud"}, out.Columns)

	labels, err := out.Column("is_fraud")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, l := range labels {
		counts[l]++
	}
	assert.Equal(t, map[string]int{"0": 4, "1": 4}, counts)

	pre, err := core.LoadPreprocessor(result.TransformedObjectPath)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultFeatures, pre.Features)
}

func TestDataTransformationIsReproducible(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	require.NoError(t, os.WriteFile(input, []byte(rawData), 0644))

	first := transform.NewDataTransformation(transformConfig(filepath.Join(dir, "a"))).Initiate(artifacts.IngestionResult{UnzippedFilePath: input, Succeeded: true})
	second := transform.NewDataTransformation(transformConfig(filepath.Join(dir, "b"))).Initiate(artifacts.IngestionResult{UnzippedFilePath: input, Succeeded: true})
	require.True(t, first.Succeeded)
	require.True(t, second.Succeeded)

	a, err := os.ReadFile(first.TransformedDataPath)
	require.NoError(t, err)
	b, err := os.ReadFile(second.TransformedDataPath)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestDataTransformationReportsFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := transformConfig(dir)

	missing := transform.NewDataTransformation(cfg).Initiate(artifacts.IngestionResult{UnzippedFilePath: filepath.Join(dir, "nope.csv"), Succeeded: true})
	assert.False(t, missing.Succeeded)

	badLabels := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(badLabels, []byte(strings.Replace(rawData, ",0\n", ",maybe\n", 1)), 0644))
	bad := transform.NewDataTransformation(cfg).Initiate(artifacts.IngestionResult{UnzippedFilePath: badLabels, Succeeded: true})
	assert.False(t, bad.Succeeded)
	assert.NoFileExists(t, cfg.TransformedDataPath())
}
