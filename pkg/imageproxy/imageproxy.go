// Package imageproxy picks a random candidate URL, fetches the image behind it
// and reports the media type sniffed from the bytes. A failed fetch is never
// returned as an error: the caller receives the placeholder image instead.
package imageproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/andesco/random-image/pkg/metrics"
)

// DefaultUserAgent is sent to upstream hosts, some of which refuse unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Fetch limits applied when Options leaves them unset.
const (
	// DefaultTimeout bounds the whole upstream exchange, body included.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRedirects is the number of redirects followed per fetch.
	DefaultMaxRedirects = 5
	// DefaultMaxBytes is the largest upstream body accepted.
	DefaultMaxBytes = 20 << 20
)

// Reasons a fetch falls back to the placeholder. They are reported in Image.Err.
var (
	// ErrNoCandidates means Fetch was called with an empty candidate list.
	ErrNoCandidates = errors.New("no candidate URLs")
	// ErrUnexpectedStatus means the upstream answered outside the 2xx range.
	ErrUnexpectedStatus = errors.New("unexpected upstream status")
	// ErrEmptyBody means the upstream answered 2xx with no bytes.
	ErrEmptyBody = errors.New("upstream returned an empty body")
	// ErrTooLarge means the body exceeded Options.MaxBytes.
	ErrTooLarge = errors.New("upstream body exceeds size limit")
	// ErrTooManyRedirects means the redirect chain exceeded Options.MaxRedirects.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Options controls the outbound fetch.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRedirects is the number of redirects followed before the fetch fails.
	// Zero disables redirects.
	MaxRedirects int
	MaxBytes     int64
	// InsecureSkipVerify disables certificate and hostname checks on the upstream fetch.
	InsecureSkipVerify bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		MaxRedirects: DefaultMaxRedirects,
		MaxBytes:     DefaultMaxBytes,
	}
}

// Image is the outcome of one Fetch.
type Image struct {
	Data      []byte
	MediaType string
	// Source is the candidate URL that was attempted.
	Source string
	// Placeholder is set when Data is the fallback image; Err holds the reason.
	Placeholder bool
	Err         error
}

// Proxy fetches random images. It is safe for concurrent use.
type Proxy struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
	intn   func(n int) int
}

// New creates a Proxy. Empty fields of opts fall back to DefaultOptions.
func New(opts Options, logger *slog.Logger) *Proxy {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
			}
			return nil
		},
	}

	return &Proxy{
		opts:   opts,
		client: client,
		logger: logger,
		intn:   rand.IntN,
	}
}

// Options returns the effective options of the proxy.
func (p *Proxy) Options() Options {
	return p.opts
}

// Pick returns one of candidates chosen uniformly at random. candidates must not be empty.
func (p *Proxy) Pick(candidates []string) string {
	return candidates[p.intn(len(candidates))]
}

// Fetch picks a candidate, downloads it and sniffs its media type. Any
// failure is logged and answered with the placeholder image.
func (p *Proxy) Fetch(ctx context.Context, candidates []string) Image {
	if len(candidates) == 0 {
		p.logger.Error("failed to fetch image", "error", ErrNoCandidates)
		metrics.RecordPlaceholder(failureReason(ErrNoCandidates), 0)
		return placeholderImage("", ErrNoCandidates)
	}

	target := p.Pick(candidates)
	start := time.Now()
	data, err := p.get(ctx, target)
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Error("failed to fetch image",
			"url", target,
			"error", err,
			"elapsed", elapsed,
		)
		metrics.RecordPlaceholder(failureReason(err), elapsed.Seconds())
		return placeholderImage(target, err)
	}

	mediaType := Sniff(data)
	p.logger.Debug("fetched image",
		"url", target,
		"media_type", mediaType,
		"bytes", len(data),
		"elapsed", elapsed,
	)
	metrics.RecordSuccess(mediaType, elapsed.Seconds())
	return Image{Data: data, MediaType: mediaType, Source: target}
}

// get performs the upstream request and returns the complete body.
func (p *Proxy) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("failed to close response body", "url", target, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > p.opts.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, p.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// failureReason maps a fetch error to a low-cardinality metrics label.
func failureReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrTooManyRedirects):
		return "redirects"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrEmptyBody):
		return "empty_body"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "transport"
	}
}
