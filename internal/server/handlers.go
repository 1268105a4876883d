package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagecache/internal/fetcher"
	"github.com/any-hub/imagecache/internal/imagecache"
)

type leaseHandlers struct {
	leases *LeaseBook
	logger *logrus.Logger
}

type leaseRequest struct {
	URL string `json:"url"`
}

func (h *leaseHandlers) create(c fiber.Ctx) error {
	var req leaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}

	lease, err := h.leases.Acquire(c.Context(), url)
	if err != nil {
		status, code := leaseErrorStatus(err)
		h.logger.WithFields(logrus.Fields{
			"action":     "lease",
			"request_id": RequestID(c),
			"url":        url,
			"status":     status,
		}).WithError(err).Warn("lease_failed")
		return writeError(c, status, code)
	}

	c.Set(fiber.HeaderLocation, "/leases/"+lease.ID)
	return c.Status(fiber.StatusCreated).JSON(lease)
}

func (h *leaseHandlers) show(c fiber.Ctx) error {
	lease, ok := h.leases.Lookup(c.Params("id"))
	if !ok {
		return writeError(c, fiber.StatusNotFound, "lease_not_found")
	}
	return c.JSON(lease)
}

func (h *leaseHandlers) content(c fiber.Ctx) error {
	lease, ok := h.leases.Lookup(c.Params("id"))
	if !ok {
		return writeError(c, fiber.StatusNotFound, "lease_not_found")
	}

	file, err := os.Open(lease.Path)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "content",
			"request_id": RequestID(c),
			"lease_id":   lease.ID,
			"path":       lease.Path,
		}).WithError(err).Error("content_open_failed")
		return writeError(c, fiber.StatusInternalServerError, "read_failed")
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return writeError(c, fiber.StatusInternalServerError, "read_failed")
	}

	if ext := filepath.Ext(lease.Path); ext != "" {
		c.Type(ext)
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}
	// fasthttp 读完后会关闭 file
	return c.SendStream(file, int(info.Size()))
}

func (h *leaseHandlers) release(c fiber.Ctx) error {
	err := h.leases.Release(c.Params("id"))
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, ErrLeaseNotFound):
		return writeError(c, fiber.StatusNotFound, "lease_not_found")
	default:
		return writeError(c, fiber.StatusInternalServerError, "delete_failed")
	}
}

// leaseErrorStatus 将缓存/抓取错误映射为 HTTP 状态码与错误码。
func leaseErrorStatus(err error) (int, string) {
	var ioErr *imagecache.IOError
	var fetchErr *imagecache.FetchError

	switch {
	case errors.Is(err, imagecache.ErrClosed):
		return fiber.StatusServiceUnavailable, "cache_closed"
	case errors.Is(err, imagecache.ErrEmptyKey):
		return fiber.StatusBadRequest, "url_required"
	case errors.Is(err, fetcher.ErrInvalidURL):
		return fiber.StatusBadRequest, "invalid_url"
	case errors.Is(err, fetcher.ErrHostNotAllowed):
		return fiber.StatusForbidden, "host_not_allowed"
	case errors.Is(err, fetcher.ErrTooLarge):
		return fiber.StatusBadGateway, "image_too_large"
	case errors.As(err, &ioErr):
		return fiber.StatusInternalServerError, "storage_failed"
	case errors.As(err, &fetchErr):
		return fiber.StatusBadGateway, "fetch_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout, "lease_timeout"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
