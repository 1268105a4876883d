package server

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagecache/internal/logging"
)

// ErrLeaseNotFound 表示租约 ID 未知或已释放。
var ErrLeaseNotFound = errors.New("lease not found")

// ImageCache 是 LeaseBook 依赖的缓存能力，*imagecache.Cache 即满足该接口。
type ImageCache interface {
	Lease(ctx context.Context, key string) (string, error)
	Release(key string) error
}

// Lease 描述一次成功的租约，ID 由服务端生成，客户端凭 ID 释放。
type Lease struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LeaseBook 记录 HTTP 客户端持有的租约，保证每个 ID 只向缓存释放一次。
type LeaseBook struct {
	cache  ImageCache
	logger *logrus.Logger
	now    func() time.Time

	mu     sync.Mutex
	leases map[string]Lease
}

// NewLeaseBook 创建空的租约簿。
func NewLeaseBook(cache ImageCache, logger *logrus.Logger) *LeaseBook {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &LeaseBook{
		cache:  cache,
		logger: logger,
		now:    time.Now,
		leases: make(map[string]Lease),
	}
}

// Acquire 向缓存申请 url 的租约并登记 ID。
func (b *LeaseBook) Acquire(ctx context.Context, url string) (Lease, error) {
	path, err := b.cache.Lease(ctx, url)
	if err != nil {
		return Lease{}, err
	}

	lease := Lease{
		ID:         uuid.NewString(),
		URL:        url,
		Path:       path,
		AcquiredAt: b.now().UTC(),
	}

	b.mu.Lock()
	b.leases[lease.ID] = lease
	b.mu.Unlock()

	b.logger.WithFields(logging.LeaseFields(lease.ID, url, path)).
		WithField("action", "lease").Info("lease_acquired")
	return lease, nil
}

// Lookup 返回 id 对应的租约。
func (b *LeaseBook) Lookup(id string) (Lease, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lease, ok := b.leases[id]
	return lease, ok
}

// Release 注销租约并释放缓存引用。即使缓存删除文件失败，租约也已注销。
func (b *LeaseBook) Release(id string) error {
	b.mu.Lock()
	lease, ok := b.leases[id]
	if ok {
		delete(b.leases, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrLeaseNotFound
	}

	entry := b.logger.WithFields(logging.LeaseFields(lease.ID, lease.URL, lease.Path)).
		WithField("action", "release")
	if err := b.cache.Release(lease.URL); err != nil {
		entry.WithError(err).Warn("lease_release_failed")
		return err
	}
	entry.WithField("held_ms", b.now().Sub(lease.AcquiredAt).Milliseconds()).Info("lease_released")
	return nil
}

// ReleaseAll 释放全部未归还的租约，用于优雅停机。
func (b *LeaseBook) ReleaseAll() error {
	b.mu.Lock()
	pending := b.leases
	b.leases = make(map[string]Lease)
	b.mu.Unlock()

	var errs []error
	for _, lease := range pending {
		if err := b.cache.Release(lease.URL); err != nil {
			errs = append(errs, err)
		}
	}
	if len(pending) > 0 {
		b.logger.WithFields(logrus.Fields{
			"action":   "release_all",
			"released": len(pending),
			"failed":   len(errs),
		}).Info("leases_released")
	}
	return errors.Join(errs...)
}

// Count 返回当前未释放的租约数量。
func (b *LeaseBook) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.leases)
}

// List 按获取时间返回租约快照，供诊断接口输出。
func (b *LeaseBook) List() []Lease {
	b.mu.Lock()
	result := make([]Lease, 0, len(b.leases))
	for _, lease := range b.leases {
		result = append(result, lease)
	}
	b.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].AcquiredAt.Equal(result[j].AcquiredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].AcquiredAt.Before(result[j].AcquiredAt)
	})
	return result
}
