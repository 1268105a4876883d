package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}
	if g.MaxImageSize < 0 {
		return newFieldError("Global.MaxImageSize", "不能为负数")
	}
	if g.UpstreamProxy != "" {
		if err := validateUpstream(g.UpstreamProxy); err != nil {
			return fmt.Errorf("Global.UpstreamProxy: %w", err)
		}
	}
	for i, host := range g.AllowedHosts {
		if err := validateHost(host); err != nil {
			return fmt.Errorf("%s: %w", indexField("AllowedHosts", i), err)
		}
	}

	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("主机名不能为空")
	}
	if strings.Contains(host, "://") {
		return errors.New("主机名不应包含协议头")
	}
	if strings.Contains(host, "/") {
		return errors.New("主机名不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("主机名不允许包含空格")
	}
	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}
