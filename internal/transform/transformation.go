package transform

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
)

type DataTransformation struct {
	cfg config.DataTransformationConfig
}

func NewDataTransformation(cfg config.DataTransformationConfig) *DataTransformation {
	return &DataTransformation{cfg: cfg}
}

// Initiate balances, featurizes and scales the ingested dataset. Any failure
// is reported through the Succeeded flag of the returned artifact.
func (d *DataTransformation) Initiate(input artifacts.IngestionResult) artifacts.TransformationResult {
	result := artifacts.TransformationResult{
		TransformedObjectPath: d.cfg.PreprocessorPath(),
		TransformedDataPath:   d.cfg.TransformedDataPath(),
	}

	if err := d.transform(input.UnzippedFilePath, result.TransformedDataPath, result.TransformedObjectPath); err != nil {
		slog.Error("data transformation failed", "input", input.UnzippedFilePath, "error", err)
		return result
	}

	result.Succeeded = true
	return result
}

func (d *DataTransformation) transform(inputPath, dataPath, objectPath string) error {
	table, err := core.ReadCSV(inputPath)
	if err != nil {
		return err
	}

	rawLabels, err := table.Column(core.LabelColumn)
	if err != nil {
		return err
	}
	labels := make([]int, len(rawLabels))
	for i, raw := range rawLabels {
		if labels[i], err = core.NormalizeLabel(raw); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	before := core.ClassCounts(labels)
	rows, labels, err := core.Upsample(table.Rows, labels, core.UpsampleSeed)
	if err != nil {
		return err
	}
	slog.Info("resampled dataset", "before", before, "after", core.ClassCounts(labels))

	pre := core.NewPreprocessor()
	x, err := pre.FitTransform(&core.Table{Columns: table.Columns, Rows: rows})
	if err != nil {
		return err
	}

	out := &core.Table{Columns: append(append([]string(nil), pre.Features...), core.LabelColumn)}
	out.Rows = make([][]string, len(x))
	for i, features := range x {
		row := make([]string, 0, len(features)+1)
		for _, v := range features {
			row = append(row, core.FormatFloat(v))
		}
		out.Rows[i] = append(row, strconv.Itoa(labels[i]))
	}

	for _, dir := range []string{d.cfg.TransformedDataDir, d.cfg.PreprocessPipelineObjectDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("error creating %s: %w", dir, err)
		}
	}
	if err := out.WriteCSV(dataPath); err != nil {
		return err
	}
	if err := pre.Save(objectPath); err != nil {
		return err
	}

	slog.Info("data transformation complete", "rows", out.Len(), "columns", out.Columns, "data", dataPath, "preprocessor", objectPath)
	return nil
}
