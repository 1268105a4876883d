// Package server hosts the Fiber HTTP service that hands out image leases.
// Remote consumers POST a URL and receive a lease ID plus the local path of
// the cached file; DELETE on the ID gives the lease back. The LeaseBook makes
// sure each ID is released to the cache exactly once, so a misbehaving client
// cannot drop somebody else's reference.
package server
