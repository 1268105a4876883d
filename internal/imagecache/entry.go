package imagecache

type state int

const (
	stateFetching state = iota
	stateReady
	stateFailed
	// stateDraining: refs hit zero and the file is being deleted. The entry
	// stays registered until the delete finishes so that a new fetch of the
	// same key cannot write the path while it is being removed.
	stateDraining
)

func (s state) String() string {
	switch s {
	case stateFetching:
		return "fetching"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	case stateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// entry tracks one key. Every field except key, path, done and gone is
// guarded by Cache.mu; state and err are final once done is closed.
type entry struct {
	key  string
	path string

	refs  int
	state state
	err   error

	done chan struct{} // closed when the fill resolves
	gone chan struct{} // closed when a drained entry leaves the registry
}

func newEntry(key, path string) *entry {
	return &entry{
		key:   key,
		path:  path,
		refs:  1,
		state: stateFetching,
		done:  make(chan struct{}),
		gone:  make(chan struct{}),
	}
}

// release drops one reference and reports whether the caller now owns the
// deletion of the file. Must be called with Cache.mu held and refs > 0.
func (e *entry) release() bool {
	e.refs--
	if e.refs == 0 && e.state == stateReady {
		e.state = stateDraining
		return true
	}
	return false
}
