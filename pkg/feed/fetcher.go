package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// URLFeed is where NVD publishes the CVE 2.0 feed partitions.
const URLFeed = "https://nvd.nist.gov/feeds/json/cve/2.0/"

// Fetcher downloads gzipped feed partitions and stores them uncompressed in Dir.
type Fetcher struct {
	Client  *http.Client
	BaseURL string
	Dir     string

	InitialInterval time.Duration
	MaxElapsedTime  time.Duration

	logger *zap.Logger
}

// NewFetcher creates a Fetcher that retries each download with exponential backoff
// for at most maxElapsed.
func NewFetcher(baseURL, dir string, maxElapsed time.Duration, logger *zap.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = URLFeed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &Fetcher{
		Client:          &http.Client{Timeout: 5 * time.Minute},
		BaseURL:         baseURL,
		Dir:             dir,
		InitialInterval: 2 * time.Second,
		MaxElapsedTime:  maxElapsed,
		logger:          logger,
	}
}

// FetchAll downloads every named partition. It stops at the first partition that
// cannot be fetched.
func (f *Fetcher) FetchAll(ctx context.Context, names []string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := f.Fetch(ctx, name)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Fetch downloads one partition and returns the path it was written to. The file
// is replaced atomically so concurrent loaders never see a partial feed.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	fileName := fmt.Sprintf(FileTemplate, name)
	url := f.BaseURL + fileName + ".gz"

	var data []byte
	operation := func() error {
		var err error
		data, err = f.download(ctx, url)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.InitialInterval
	bo.MaxElapsedTime = f.MaxElapsedTime

	err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		f.logger.Warn("retrying CVE feed download",
			zap.String("feed", name), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return "", fmt.Errorf("fetch feed %s: %w", name, err)
	}

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create feed directory: %w", err)
	}

	tmp, err := os.CreateTemp(f.Dir, fileName+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	path := filepath.Join(f.Dir, fileName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	f.logger.Info("fetched CVE feed", zap.String("feed", name), zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	f.logger.Debug("REQ", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unzip feed: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, errors.New("feed is not valid JSON")
	}
	return buf.Bytes(), nil
}
