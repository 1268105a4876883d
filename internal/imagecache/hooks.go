package imagecache

import "time"

// LeaseKind tells how a successful lease was satisfied.
type LeaseKind string

const (
	// LeaseCreated: the caller's lease started the fetch.
	LeaseCreated LeaseKind = "created"
	// LeaseHit: the entry was already ready.
	LeaseHit LeaseKind = "hit"
	// LeaseJoined: the caller waited on a fetch started by someone else.
	LeaseJoined LeaseKind = "joined"
)

// Hooks receives high-signal cache events. Implementations must be cheap and
// non-blocking; they are called on the lease and release paths, never while
// the registry lock is held.
type Hooks interface {
	FetchStarted(key string)
	FetchFinished(key string, elapsed time.Duration, err error)
	LeaseGranted(key string, kind LeaseKind)
	LeaseAbandoned(key string)
	Released(key string, remaining int)
	// Purged fires after the file of a fully released entry was deleted.
	Purged(key string, err error)
}

// NopHooks is the default.
type NopHooks struct{}

func (NopHooks) FetchStarted(string)                        {}
func (NopHooks) FetchFinished(string, time.Duration, error) {}
func (NopHooks) LeaseGranted(string, LeaseKind)             {}
func (NopHooks) LeaseAbandoned(string)                      {}
func (NopHooks) Released(string, int)                       {}
func (NopHooks) Purged(string, error)                       {}
