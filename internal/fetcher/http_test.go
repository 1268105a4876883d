package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(opts Options) *HTTPFetcher {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	return New(nil, nil, opts)
}

func TestFetchReturnsBody(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	data, err := newFetcher(Options{UserAgent: "imagecache-test"}).Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "imagecache-test", gotUA)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newFetcher(Options{MaxRetries: 3}).Fetch(context.Background(), srv.URL+"/missing.png")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	data, err := newFetcher(Options{MaxRetries: 2}).Fetch(context.Background(), srv.URL+"/flaky.jpg")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newFetcher(Options{MaxRetries: 1}).Fetch(context.Background(), srv.URL+"/busy.gif")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Temporary())
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchEnforcesMaxImageSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked" {
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := newFetcher(Options{MaxImageSize: 16, MaxRetries: 2})
	_, err := f.Fetch(context.Background(), srv.URL+"/sized")
	require.ErrorIs(t, err, ErrTooLarge)
	_, err = f.Fetch(context.Background(), srv.URL+"/chunked")
	require.ErrorIs(t, err, ErrTooLarge)

	data, err := newFetcher(Options{MaxImageSize: 64}).Fetch(context.Background(), srv.URL+"/exact")
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := newFetcher(Options{})
	for _, key := range []string{"ftp://example.com/a.png", "/relative/a.png", "http:///nohost", "::bad"} {
		_, err := f.Fetch(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidURL, key)
	}
}

func TestFetchHonoursAllowedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newFetcher(Options{AllowedHosts: []string{"images.example.com"}})
	_, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	require.ErrorIs(t, err, ErrHostNotAllowed)

	f = newFetcher(Options{AllowedHosts: []string{" 127.0.0.1 "}})
	_, err = f.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
}

func TestFetchStopsRetryingWhenContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(nil, nil, Options{MaxRetries: 5, InitialBackoff: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := f.Fetch(ctx, srv.URL+"/a.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestBackoffIsCapped(t *testing.T) {
	f := New(nil, nil, Options{InitialBackoff: time.Second})
	assert.Equal(t, time.Second, f.backoff(1))
	assert.Equal(t, 2*time.Second, f.backoff(2))
	assert.Equal(t, maxBackoff, f.backoff(10))
	assert.Equal(t, maxBackoff, f.backoff(80))
}
