// Package fetch downloads binary artifacts such as the skaffold executable
// bundled with TFX pipeline projects.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnexpectedStatus is returned when the server answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

const (
	defaultTimeout          = 5 * time.Minute
	defaultProgressInterval = 2 * time.Second
)

// Downloader fetches remote files over HTTP.
type Downloader struct {
	client           *resty.Client
	logger           *zap.Logger
	progressInterval time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithTimeout bounds a whole download.
func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) {
		if d > 0 {
			dl.client.SetTimeout(d)
		}
	}
}

// WithLogger sets the logger used for progress reports.
func WithLogger(logger *zap.Logger) Option {
	return func(dl *Downloader) {
		if logger != nil {
			dl.logger = logger
		}
	}
}

// WithProgressInterval sets the minimum time between progress log lines.
func WithProgressInterval(d time.Duration) Option {
	return func(dl *Downloader) {
		dl.progressInterval = d
	}
}

// New constructs a Downloader.
func New(opts ...Option) *Downloader {
	dl := &Downloader{
		client:           resty.New().SetTimeout(defaultTimeout),
		logger:           zap.NewNop(),
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(dl)
	}
	return dl
}

// Download streams url into dest with the given file mode. The file is
// written under a temporary name and renamed once complete, so dest never
// holds a partial download.
func (dl *Downloader) Download(ctx context.Context, url, dest string, mode os.FileMode) error {
	resp, err := dl.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	body := resp.RawBody()
	defer func() {
		_ = body.Close()
	}()

	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode())
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	progress := &progressWriter{
		logger: dl.logger.With(zap.String("url", url)),
		size:   resp.RawResponse.ContentLength,
		every:  &rate.Sometimes{First: 1, Interval: dl.progressInterval},
	}
	written, err := io.Copy(io.MultiWriter(tmp, progress), body)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}

	dl.logger.Info("download complete",
		zap.String("url", url),
		zap.String("dest", dest),
		zap.Int64("bytes", written),
	)
	return nil
}

type progressWriter struct {
	logger  *zap.Logger
	size    int64
	written int64
	every   *rate.Sometimes
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.every.Do(func() {
		p.logger.Info("download progress",
			zap.Int64("bytes", p.written),
			zap.Int64("size", p.size),
		)
	})
	return len(b), nil
}
