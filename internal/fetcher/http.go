// Package fetcher downloads images over HTTP for the cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultUserAgent      = "imagecache"
	defaultInitialBackoff = 200 * time.Millisecond
	maxBackoff            = 10 * time.Second
)

var (
	// ErrTooLarge 表示上游响应超过 MaxImageSize。
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrInvalidURL 表示 key 不是可抓取的 http/https 地址。
	ErrInvalidURL = errors.New("invalid image url")
	// ErrHostNotAllowed 表示目标主机不在白名单内。
	ErrHostNotAllowed = errors.New("host not allowed")
)

// StatusError 记录上游返回的非 2xx 状态码。
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options 控制抓取行为，零值均有合理默认。
type Options struct {
	UserAgent      string
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxImageSize 为 0 表示不限制。
	MaxImageSize int64
	// AllowedHosts 为空表示允许任意主机；条目不区分大小写，不含端口。
	AllowedHosts []string
}

// HTTPFetcher 通过共享 http.Client 下载图片，满足 imagecache.Fetcher。
type HTTPFetcher struct {
	client  *http.Client
	logger  *logrus.Logger
	opts    Options
	allowed map[string]struct{}
}

// New 构造 HTTPFetcher；client 为空时使用 http.DefaultClient。
func New(client *http.Client, logger *logrus.Logger, opts Options) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	var allowed map[string]struct{}
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, host := range opts.AllowedHosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				allowed[host] = struct{}{}
			}
		}
	}

	return &HTTPFetcher{client: client, logger: logger, opts: opts, allowed: allowed}
}

// Fetch 下载 key 指向的图片。传输错误、429 与 5xx 会按指数退避重试。
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	target, err := f.validate(key)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, f.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("fetch %s cancelled after %d attempts: %w", key, attempt, err)
			}
		}

		started := time.Now()
		data, err := f.do(ctx, target)
		fields := logrus.Fields{
			"action":     "fetch",
			"url":        key,
			"attempt":    attempt + 1,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}
		if err == nil {
			fields["bytes"] = len(data)
			f.logger.WithFields(fields).Debug("fetch_attempt_ok")
			return data, nil
		}

		lastErr = err
		if !retryable(ctx, err) {
			f.logger.WithFields(fields).WithError(err).Debug("fetch_attempt_failed")
			break
		}
		f.logger.WithFields(fields).WithError(err).Warn("fetch_attempt_retry")
	}
	return nil, lastErr
}

func (f *HTTPFetcher) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 读掉少量 body 以复用连接
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	limit := f.opts.MaxImageSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, limit)
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

func (f *HTTPFetcher) validate(key string) (string, error) {
	u, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if f.allowed != nil {
		if _, ok := f.allowed[strings.ToLower(u.Hostname())]; !ok {
			return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
		}
	}
	return u.String(), nil
}

func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	delay := f.opts.InitialBackoff
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, ErrTooLarge) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
