package docsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
)

// HTTPOptions configures the URL source.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// MaxBytes caps the body size. Default: 8 MiB.
	MaxBytes int64
	// Limiter paces requests. Default: 5 per second.
	Limiter *rate.Limiter
	Client  *http.Client
}

// HTTPSource fetches plain-text documents over HTTP with retries.
type HTTPSource struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPSource creates an HTTPSource with the given options.
func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "annotate-cli/1.0"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 8 << 20
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(5, 5)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPSource{client: client, opts: opts, limiter: limiter}
}

// Fetch downloads rawURL as one document. The id is the last path segment
// without its extension, or the host for bare URLs.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (model.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "http: parse url %s", rawURL)
	}

	cfg := resilience.FromRetrySettings(s.opts.MaxRetries-1, 500)
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("http request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int64("delay_ms", delay.Milliseconds()),
			zap.Error(err),
		)
	}

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return s.get(ctx, rawURL)
	})
	if err != nil {
		return model.Document{}, err
	}

	return model.Document{
		ID:     documentID(u),
		Text:   normalizeText(body),
		Source: rawURL,
	}, nil
}

func (s *HTTPSource) get(ctx context.Context, rawURL string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "http: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "http: build request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown;q=0.9, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrapf(err, "http: get %s", rawURL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", resilience.FromResponse(
			eris.Errorf("http: get %s: status %d", rawURL, resp.StatusCode),
			resp.StatusCode, resp.Header, time.Now(),
		)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes+1))
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrapf(err, "http: read body %s", rawURL), 0)
	}
	if int64(len(data)) > s.opts.MaxBytes {
		return "", eris.Errorf("http: %s exceeds %d bytes", rawURL, s.opts.MaxBytes)
	}
	return string(data), nil
}

func documentID(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return u.Host
	}
	if stem := strings.TrimSuffix(base, path.Ext(base)); stem != "" {
		return stem
	}
	return fmt.Sprintf("%s-%s", u.Host, base)
}
