package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/logging"
	"github.com/construtiva/costref-engine/pkg/retry"
)

// Options configures the acquisition pipeline.
type Options struct {
	// URLTemplate receives year and month via fmt.Sprintf, in that order.
	URLTemplate string

	// DownloadTimeout bounds one download attempt. Reference archives are
	// tens of megabytes from a slow origin, so this is minutes, not seconds.
	DownloadTimeout time.Duration

	// MinArchiveBytes rejects undersized responses as corrupt before any
	// extraction is attempted.
	MinArchiveBytes int64

	// MaxRedirects bounds manual redirect following.
	MaxRedirects int
}

// Collector acquires the monthly reference archive.
type Collector struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// New creates a Collector. The underlying HTTP client never follows
// redirects on its own; the download loop follows them manually so the hop
// count can be bounded and logged.
func New(opts Options, logger *zap.Logger) *Collector {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 5 * time.Minute
	}
	return &Collector{
		opts: opts,
		client: &http.Client{
			Timeout: opts.DownloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.Named("collector"),
	}
}

// Download fetches the reference archive for the given period and returns
// its bytes. Transient network failures are retried with backoff; redirect
// loops, non-200 terminal responses and undersized payloads are permanent
// failures.
func (c *Collector) Download(ctx context.Context, year, month int) ([]byte, error) {
	url := fmt.Sprintf(c.opts.URLTemplate, year, month)
	c.logger.Info("Downloading reference archive",
		zap.String("url", logging.SanitizeConnectionString(url)),
		zap.Int("year", year),
		zap.Int("month", month))

	var body []byte
	err := retry.DoIfRetryable(ctx, nil, func() error {
		var err error
		body, err = c.fetch(ctx, url)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download reference archive for %d-%02d: %w", year, month, err)
	}

	c.logger.Info("Download complete", zap.Int("bytes", len(body)))
	return body, nil
}

func (c *Collector) fetch(ctx context.Context, url string) ([]byte, error) {
	for hop := 0; hop <= c.opts.MaxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if location == "" {
				return nil, fmt.Errorf("redirect %d without Location header", resp.StatusCode)
			}
			c.logger.Debug("Following redirect",
				zap.Int("hop", hop+1),
				zap.String("location", logging.SanitizeConnectionString(location)))
			url = location
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if int64(len(body)) < c.opts.MinArchiveBytes {
			return nil, fmt.Errorf("archive too small (%d bytes, minimum %d), treating as corrupt",
				len(body), c.opts.MinArchiveBytes)
		}
		return body, nil
	}

	return nil, fmt.Errorf("too many redirects (limit %d)", c.opts.MaxRedirects)
}
