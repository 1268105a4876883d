package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Fetcher downloads the raw bytes behind a key. It may block for a long time;
// retries and timeouts are its own business.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Store persists bytes at a path. Write must create parent directories.
type Store interface {
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	Exists(path string) bool
}

// Options configures a Cache. Dir, Fetcher and Store are required.
type Options struct {
	Dir     string
	Fetcher Fetcher
	Store   Store
	Logger  *logrus.Logger // nil => discard
	Hooks   Hooks          // nil => NopHooks

	// PurgeConcurrency bounds parallel deletes during Close. 0 => 4.
	PurgeConcurrency int
}

// Cache is a lease/release cache of images on disk. It is safe for
// concurrent use; pass one instance to every consumer that should share files.
type Cache struct {
	dir     string
	fetcher Fetcher
	store   Store
	logger  *logrus.Logger
	hooks   Hooks
	purgeN  int

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	drained bool

	fills sync.WaitGroup
}

// New validates opts and returns an empty cache.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("imagecache: dir is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("imagecache: fetcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("imagecache: store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	purgeN := opts.PurgeConcurrency
	if purgeN <= 0 {
		purgeN = 4
	}

	return &Cache{
		dir:     opts.Dir,
		fetcher: opts.Fetcher,
		store:   opts.Store,
		logger:  logger,
		hooks:   hooks,
		purgeN:  purgeN,
		entries: make(map[string]*entry),
	}, nil
}

// Lease returns the local path of the image behind key, fetching it on first
// use. Every successful Lease must be matched by exactly one Release.
//
// If ctx ends while the call waits for a fetch, the reservation taken for the
// caller is given back and ctx.Err() is returned. The fetch itself keeps
// running; other waiters still get its result.
func (c *Cache) Lease(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return "", ErrClosed
		}

		e, ok := c.entries[key]
		if !ok {
			e = newEntry(key, PathFor(c.dir, key))
			c.entries[key] = e
			c.fills.Add(1)
			c.mu.Unlock()

			go c.fill(context.WithoutCancel(ctx), e)
			return c.await(ctx, e, LeaseCreated)
		}

		switch e.state {
		case stateReady:
			e.refs++
			refs := e.refs
			c.mu.Unlock()

			c.logLease(e, LeaseHit, refs)
			c.hooks.LeaseGranted(key, LeaseHit)
			return e.path, nil

		case stateFetching:
			// The reservation is taken now, not after the wait, so a release
			// racing with the fetch cannot drop the count to zero under us.
			e.refs++
			c.mu.Unlock()
			return c.await(ctx, e, LeaseJoined)

		default:
			gone := e.gone
			c.mu.Unlock()

			select {
			case <-gone:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
}

// Release gives back one lease on key. The file is deleted when the last
// lease is released. A delete failure is reported as *IOError, but the entry
// is forgotten either way so later leases fetch afresh.
func (c *Cache) Release(key string) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.refs == 0 || e.state == stateDraining {
		closed := c.closed
		c.mu.Unlock()
		if closed && !ok {
			return ErrClosed
		}
		return unbalanced(key)
	}

	purge := e.release()
	remaining := e.refs
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action":    "release",
		"key":       key,
		"remaining": remaining,
	}).Debug("lease_released")
	c.hooks.Released(key, remaining)

	if !purge {
		return nil
	}
	return c.purge(e)
}

// Close stops new leases, waits for in-flight fetches and then deletes every
// file the cache still owns. Outstanding leases are invalid afterwards.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	fillsDone := make(chan struct{})
	go func() {
		c.fills.Wait()
		close(fillsDone)
	}()
	select {
	case <-fillsDone:
	case <-ctx.Done():
		// Close may be called again to finish the job.
		return fmt.Errorf("wait for in-flight fetches: %w", ctx.Err())
	}

	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return nil
	}
	c.drained = true
	var victims []*entry
	outstanding := 0
	for _, e := range c.entries {
		if e.state != stateReady {
			continue
		}
		outstanding += e.refs
		e.state = stateDraining
		victims = append(victims, e)
	}
	c.mu.Unlock()

	if outstanding > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":      "close",
			"entries":     len(victims),
			"outstanding": outstanding,
		}).Warn("closing_with_outstanding_leases")
	}

	errs := make([]error, len(victims))
	var g errgroup.Group
	g.SetLimit(c.purgeN)
	for i, e := range victims {
		g.Go(func() error {
			errs[i] = c.purge(e)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Cache) await(ctx context.Context, e *entry, kind LeaseKind) (string, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		select {
		case <-e.done:
		default:
			c.abandon(e)
			return "", ctx.Err()
		}
	}

	if e.err != nil {
		c.mu.Lock()
		if e.refs > 0 {
			e.refs--
		}
		c.mu.Unlock()
		return "", e.err
	}

	c.mu.Lock()
	refs := e.refs
	c.mu.Unlock()
	c.logLease(e, kind, refs)
	c.hooks.LeaseGranted(e.key, kind)
	return e.path, nil
}

func (c *Cache) abandon(e *entry) {
	c.mu.Lock()
	purge := false
	if e.refs > 0 {
		purge = e.release()
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action": "lease",
		"key":    e.key,
	}).Debug("lease_abandoned")
	c.hooks.LeaseAbandoned(e.key)

	if purge {
		_ = c.purge(e)
	}
}

func (c *Cache) fill(ctx context.Context, e *entry) {
	defer c.fills.Done()

	started := time.Now()
	c.hooks.FetchStarted(e.key)
	err := c.load(ctx, e)
	elapsed := time.Since(started)
	c.hooks.FetchFinished(e.key, elapsed, err)

	c.mu.Lock()
	purge := false
	if err != nil {
		e.state = stateFailed
		e.err = err
		if c.entries[e.key] == e {
			delete(c.entries, e.key)
		}
	} else {
		e.state = stateReady
		if e.refs == 0 {
			// every holder abandoned (or released) before the fetch finished
			e.state = stateDraining
			purge = true
		}
	}
	close(e.done)
	c.mu.Unlock()

	fields := logrus.Fields{
		"action":     "fetch",
		"key":        e.key,
		"path":       e.path,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
	} else {
		c.logger.WithFields(fields).Debug("fetch_complete")
	}

	if purge {
		_ = c.purge(e)
	}
}

func (c *Cache) load(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FetchError{Key: e.key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	data, err := c.fetcher.Fetch(ctx, e.key)
	if err != nil {
		return &FetchError{Key: e.key, Err: err}
	}
	if err := c.store.Write(ctx, e.path, data); err != nil {
		if c.store.Exists(e.path) {
			_ = c.store.Delete(ctx, e.path)
		}
		return &FetchError{Key: e.key, Err: &IOError{Op: "write", Path: e.path, Err: err}}
	}
	return nil
}

// purge deletes the file of a draining entry and then drops the entry from
// the registry, waking leases that queued behind the drain.
func (c *Cache) purge(e *entry) error {
	err := c.store.Delete(context.Background(), e.path)

	c.mu.Lock()
	if c.entries[e.key] == e {
		delete(c.entries, e.key)
	}
	close(e.gone)
	c.mu.Unlock()

	fields := logrus.Fields{
		"action": "purge",
		"key":    e.key,
		"path":   e.path,
	}
	if err != nil {
		err = &IOError{Op: "delete", Path: e.path, Err: err}
		c.logger.WithFields(fields).WithError(err).Warn("purge_failed")
	} else {
		c.logger.WithFields(fields).Debug("purge_complete")
	}
	c.hooks.Purged(e.key, err)
	return err
}

func (c *Cache) logLease(e *entry, kind LeaseKind, refs int) {
	c.logger.WithFields(logrus.Fields{
		"action": "lease",
		"key":    e.key,
		"path":   e.path,
		"kind":   string(kind),
		"refs":   refs,
	}).Debug("lease_granted")
}
