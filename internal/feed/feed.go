// Package feed opens market feeds from local files or HTTP(S) URLs.
package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/publicsuffix"
)

// Defaults for URL feeds.
const (
	DefaultRetries = 3
	DefaultBackoff = time.Second
	DefaultTimeout = 10 * time.Minute
)

// ErrNotFound is returned when a file or URL does not exist.
var ErrNotFound = errors.New("feed not found")

// Options controls how URL feeds are fetched. Files ignore them.
type Options struct {
	// Retries is the number of attempts, including the first.
	Retries int
	// Backoff is the delay before the second attempt; it doubles each time.
	Backoff time.Duration
	// Insecure skips TLS certificate verification.
	Insecure bool
	// Timeout bounds a whole download.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Source is an open feed.
type Source struct {
	io.ReadCloser
	// Location is the path or URL the feed was opened from.
	Location string
	// Label is a short display name, see SourceLabel.
	Label string
	// Size is the length in bytes, or 0 if unknown.
	Size int64
}

// IsURL reports whether location is an http or https URL.
func IsURL(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Open opens location as a URL or a local file. The caller must close the source.
func Open(ctx context.Context, location string, opts Options) (*Source, error) {
	if IsURL(location) {
		return openURL(ctx, location, opts)
	}
	return openFile(location)
}

func openFile(name string) (*Source, error) {
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &Source{ReadCloser: f, Location: name, Label: SourceLabel(name), Size: size}, nil
}

func openURL(ctx context.Context, location string, opts Options) (*Source, error) {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	client := opts.Client
	if client == nil {
		client = newClient(opts)
	}

	backoff := retry.WithMaxRetries(uint64(opts.Retries-1), retry.NewExponential(opts.Backoff))

	var resp *http.Response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := fetch(ctx, client, location)
		if err != nil {
			var retryable *retryableStatus
			if attempt < opts.Retries && (errors.As(err, &retryable) || isNetworkError(err)) {
				slog.Warn("feed fetch failed, retrying",
					"url", location,
					"attempt", attempt,
					"max_attempts", opts.Retries,
					"error", err,
				)
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", location, err)
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	return &Source{ReadCloser: resp.Body, Location: location, Label: SourceLabel(location), Size: size}, nil
}

type retryableStatus struct{ code int }

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("server returned %d %s", e.code, http.StatusText(e.code))
}

func fetch(ctx context.Context, client *http.Client, location string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &retryableStatus{code: resp.StatusCode}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("server returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func newClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via -insecure
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// SourceLabel returns a short name for a feed location: the registrable
// domain and file name for URLs ("example.com/feed.txt"), the base name for
// files.
func SourceLabel(location string) string {
	if !IsURL(location) {
		return filepath.Base(location)
	}

	u, _ := url.Parse(location)
	host := u.Hostname()
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		domain = host
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return domain
	}
	return domain + "/" + name
}
