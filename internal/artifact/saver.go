package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mzahmed/gemweb/internal/security"
	"github.com/mzahmed/gemweb/pkg/models"
)

const (
	defaultTimeout   = 60 * time.Second
	downloadAttempts = 3
	maxImageBytes    = 256 * 1024 * 1024
)

// Saver downloads image references and persists them. Downloads carry the
// session cookie header and egress through the session proxy because the
// CDN ties generated artifacts to the account that produced them.
type Saver struct {
	httpClient   *http.Client
	cookieHeader string
}

func NewSaver(timeout time.Duration, cookieHeader, proxy string) *Saver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &Saver{
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		cookieHeader: cookieHeader,
	}
}

// Save persists one image to path. The write goes through a temp file and
// a rename, so the destination is never left half-written: it either holds
// the complete artifact or whatever was there before.
func (s *Saver) Save(ctx context.Context, img *models.GeneratedImage, path string) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}

	data := img.Data
	if len(data) == 0 {
		var err error
		data, err = s.download(ctx, img.URL)
		if err != nil {
			return fmt.Errorf("failed to download image: %w", err)
		}
	}

	if err := ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gemweb-*")
	if err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}

func (s *Saver) download(ctx context.Context, url string) ([]byte, error) {
	if err := security.ValidateImageURL(url, true); err != nil {
		return nil, err
	}

	return retry.DoWithData(func() ([]byte, error) {
		return s.fetch(ctx, url)
	},
		retry.Attempts(downloadAttempts),
		retry.Context(ctx),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func (s *Saver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if s.cookieHeader != "" {
		req.Header.Set("Cookie", s.cookieHeader)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
