package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
)

type DataIngestion struct {
	cfg       config.DataIngestionConfig
	fetcher   Fetcher
	extractor Extractor
}

func NewDataIngestion(cfg config.DataIngestionConfig, fetcher Fetcher, extractor Extractor) *DataIngestion {
	return &DataIngestion{cfg: cfg, fetcher: fetcher, extractor: extractor}
}

// ExpectedOutputPath is the csv the archive is expected to contain. It is
// derived from configuration only, so it is known before any download.
func (d *DataIngestion) ExpectedOutputPath() (string, error) {
	if d.cfg.UnzipDir == "" {
		return "", &config.ConfigurationError{Section: "data_ingestion", Key: "unzip_dir", Reason: "is required"}
	}
	if d.cfg.ZipFileName == "" {
		return "", &config.ConfigurationError{Section: "data_ingestion", Key: "zip_file_name", Reason: "is required"}
	}
	name := strings.Replace(d.cfg.ZipFileName, ".zip", ".csv", 1)
	if name == d.cfg.ZipFileName {
		return "", &config.ConfigurationError{Section: "data_ingestion", Key: "zip_file_name", Reason: "must name a .zip archive"}
	}
	return filepath.Join(d.cfg.UnzipDir, name), nil
}

func (d *DataIngestion) archivePath() string {
	return filepath.Join(d.cfg.DirName, d.cfg.ZipFileName)
}

// Initiate downloads and extracts the dataset. Download and extraction
// failures are reported through the Succeeded flag; the returned error is
// reserved for configuration problems that prevent computing the output path.
func (d *DataIngestion) Initiate(ctx context.Context) (artifacts.IngestionResult, error) {
	output, err := d.ExpectedOutputPath()
	if err != nil {
		return artifacts.IngestionResult{}, err
	}
	if d.cfg.SourceURL == "" {
		return artifacts.IngestionResult{}, &config.ConfigurationError{Section: "data_ingestion", Key: "source_URL", Reason: "is required"}
	}

	archive := d.archivePath()
	if err := d.fetcher.Fetch(ctx, d.cfg.SourceURL, archive); err != nil {
		slog.Error("data ingestion download failed", "source", d.cfg.SourceURL, "error", err)
		return artifacts.IngestionResult{UnzippedFilePath: output, Succeeded: false}, nil
	}

	if err := d.extractor.Extract(archive, d.cfg.UnzipDir); err != nil {
		slog.Error("data ingestion extraction failed", "archive", archive, "error", err)
		return artifacts.IngestionResult{UnzippedFilePath: output, Succeeded: false}, nil
	}

	slog.Info("data ingestion complete", "output", output)
	return artifacts.IngestionResult{UnzippedFilePath: output, Succeeded: true}, nil
}
