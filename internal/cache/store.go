package cache

import (
	"context"
	"errors"
)

// Store 负责管理磁盘缓存文件的读写。磁盘布局由调用方决定，通常为：
//
//	<StoragePath>/<sha256 前两位>/<sha256><ext>
//
// 所有路径都必须位于 Root() 之下。
type Store interface {
	// Write 将 data 写入 path，必要时创建父目录。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Write(ctx context.Context, path string, data []byte) error

	// Delete 删除 path 对应的文件；文件不存在视为成功。
	Delete(ctx context.Context, path string) error

	// Exists 判断 path 是否为已存在的普通文件。
	Exists(path string) bool

	// Root 返回缓存根目录的绝对路径。
	Root() string
}

// ErrInvalidPath 表示路径逃逸出缓存根目录。
var ErrInvalidPath = errors.New("invalid cache path")
