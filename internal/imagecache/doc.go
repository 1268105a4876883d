// Package imagecache keeps remotely fetched images on disk for as long as
// somebody holds a lease on them.
//
// Callers Lease an image by URL and get back a local path; they Release the
// URL when done. Concurrent leases of one URL share a single fetch and a
// single file, and the file is deleted when the last lease is released.
//
// Each URL moves through fetching -> ready -> draining, or fetching -> failed.
// A failed fetch is removed from the registry right away so the next Lease
// retries it. The registry mutex only guards state transitions; fetches,
// writes and deletes run outside it, so unrelated URLs never wait on each
// other.
package imagecache
