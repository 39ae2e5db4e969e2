package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-getter"
	"github.com/schollz/progressbar/v3"
)

// Fetcher downloads a remote archive to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src, dst string) error
}

// DirectDownloadURL rewrites Google Drive share links
// (https://drive.google.com/file/d/<id>/view) into their direct download form.
// Other URLs are returned unchanged.
func DirectDownloadURL(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.Host != "drive.google.com" || !strings.HasPrefix(u.Path, "/file/d/") {
		return src
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[2] == "" {
		return src
	}
	return "https://drive.google.com/uc?export=download&id=" + parts[2]
}

type HTTPFetcher struct {
	client   *resty.Client
	progress io.Writer
}

func NewHTTPFetcher(timeout time.Duration, progress io.Writer) *HTTPFetcher {
	if progress == nil {
		progress = io.Discard
	}
	return &HTTPFetcher{
		client:   resty.New().SetTimeout(timeout).SetRetryCount(2),
		progress: progress,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src, dst string) error {
	target := DirectDownloadURL(src)
	slog.Info("downloading archive", "url", target, "destination", dst)

	res, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return fmt.Errorf("error requesting %s: %w", target, err)
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		return fmt.Errorf("download of %s returned status %d", target, res.StatusCode())
	}

	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return fmt.Errorf("error creating download directory: %w", err)
	}

	// Write to a sibling temp file so an interrupted download never leaves a
	// truncated archive at dst.
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var size int64 = -1
	if res.RawResponse != nil {
		size = res.RawResponse.ContentLength
	}
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetDescription("downloading "+filepath.Base(dst)),
		progressbar.OptionSetWriter(f.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	n, err := io.Copy(io.MultiWriter(tmp, bar), body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("error moving download into place: %w", err)
	}

	slog.Info("download complete", "destination", dst, "bytes", n)
	return nil
}

// GetterFetcher handles every source go-getter understands (s3::, gcs::,
// git::, local paths) for archives that do not live behind plain http.
type GetterFetcher struct {
	pwd string
}

func NewGetterFetcher(pwd string) *GetterFetcher {
	return &GetterFetcher{pwd: pwd}
}

func (f *GetterFetcher) Fetch(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return fmt.Errorf("error creating download directory: %w", err)
	}

	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Pwd:     f.pwd,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
		// extraction is a separate step, keep the archive as is
		Decompressors: map[string]getter.Decompressor{},
	}

	slog.Info("fetching archive", "source", src, "destination", dst)
	if err := client.Get(); err != nil {
		return fmt.Errorf("error fetching %s: %w", src, err)
	}
	return nil
}

// AutoFetcher uses the http fetcher for http(s) sources and go-getter for
// everything else.
type AutoFetcher struct {
	HTTP   Fetcher
	Getter Fetcher
}

func (f *AutoFetcher) Fetch(ctx context.Context, src, dst string) error {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return f.HTTP.Fetch(ctx, src, dst)
	}
	return f.Getter.Fetch(ctx, src, dst)
}
