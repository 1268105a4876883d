package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	shardPrefixLen = 2
	maxExtLen      = 5
)

// PathFor maps key to its file under dir. The result only depends on key, so
// restarts map a URL to the same location and distinct URLs never collide.
func PathFor(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(dir, name[:shardPrefixLen], name+extension(key))
}

// extension keeps short alphanumeric extensions (".png", ".webp") so that the
// cached file can be served with a sensible content type.
func extension(key string) string {
	p := key
	if u, err := url.Parse(key); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
