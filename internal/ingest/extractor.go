package ingest

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-getter"
)

type Extractor interface {
	Extract(archivePath, dstDir string) error
}

const (
	maxArchiveFiles    = 1000
	maxArchiveFileSize = 4 << 30
)

type ZipExtractor struct{}

func (ZipExtractor) Extract(archivePath, dstDir string) error {
	decompressor := &getter.ZipDecompressor{
		FilesLimit:    maxArchiveFiles,
		FileSizeLimit: maxArchiveFileSize,
	}
	if err := decompressor.Decompress(dstDir, archivePath, true, 0); err != nil {
		return fmt.Errorf("error extracting %s: %w", archivePath, err)
	}
	slog.Info("archive extracted", "archive", archivePath, "destination", dstDir)
	return nil
}
