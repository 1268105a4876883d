// Package cache implements the disk store behind the image cache. Files are
// addressed by absolute path under StoragePath; the store only offers
// write/delete/exists primitives with safe semantics (temp file + rename) and
// leaves reference counting and lifecycle decisions to internal/imagecache.
package cache
