package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/imagecache/internal/server"
	"github.com/any-hub/imagecache/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/ 诊断接口：健康检查、租约快照与 Prometheus 指标。
// metrics 为空时不注册 /-/metrics。
func RegisterDiagnosticsRoutes(app *fiber.App, leases *server.LeaseBook, metrics http.Handler) {
	if app == nil || leases == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/leases", func(c fiber.Ctx) error {
		list := leases.List()
		return c.JSON(fiber.Map{
			"count":  len(list),
			"leases": encodeLeases(list, time.Now()),
		})
	})

	if metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(metrics))
	}
}

type leasePayload struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Path       string  `json:"path"`
	AgeSeconds float64 `json:"age_seconds"`
}

func encodeLeases(list []server.Lease, now time.Time) []leasePayload {
	result := make([]leasePayload, 0, len(list))
	for _, lease := range list {
		result = append(result, leasePayload{
			ID:         lease.ID,
			URL:        lease.URL,
			Path:       lease.Path,
			AgeSeconds: now.Sub(lease.AcquiredAt).Seconds(),
		})
	}
	return result
}
