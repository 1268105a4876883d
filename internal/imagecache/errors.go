package imagecache

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyKey is returned by Lease when the key is blank.
	ErrEmptyKey = errors.New("image key required")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("image cache closed")

	// ErrUnbalancedRelease signals a Release without a matching outstanding Lease.
	ErrUnbalancedRelease = errors.New("unbalanced release")
)

// FetchError reports a failed first-time fill of an entry. Err is either the
// Fetcher's error or an *IOError from the store write. Every caller waiting on
// the same key receives the same *FetchError value.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IOError reports a failed store operation.
type IOError struct {
	Op   string // "write" or "delete"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func unbalanced(key string) error {
	return fmt.Errorf("%w: %q has no outstanding lease", ErrUnbalancedRelease, key)
}
