package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5080 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.InitialBackoff.DurationValue() != 500*time.Millisecond {
		t.Fatalf("InitialBackoff 解析错误: %s", cfg.Global.InitialBackoff.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("纯数字 Duration 应按秒解析: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.LogMaxBackups != 10 || !cfg.Global.LogCompress {
		t.Fatalf("日志默认值未生效: %+v", cfg.Global)
	}
	if len(cfg.Global.AllowedHosts) != 2 || cfg.Global.AllowedHosts[1] != "cdn.example.com" {
		t.Fatalf("AllowedHosts 应被规范化: %v", cfg.Global.AllowedHosts)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.ListenPort" {
		t.Fatalf("ListenPort 超出范围应当报错, got %v", err)
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "loud" }, true},
		{"negative retries", func(c *Config) { c.Global.MaxRetries = -1 }, true},
		{"zero backoff", func(c *Config) { c.Global.InitialBackoff = 0 }, true},
		{"zero shutdown timeout", func(c *Config) { c.Global.ShutdownTimeout = 0 }, true},
		{"negative image size", func(c *Config) { c.Global.MaxImageSize = -1 }, true},
		{"unlimited image size", func(c *Config) { c.Global.MaxImageSize = 0 }, false},
		{"proxy ok", func(c *Config) { c.Global.UpstreamProxy = "http://proxy.local:3128" }, false},
		{"proxy bad scheme", func(c *Config) { c.Global.UpstreamProxy = "socks5://proxy.local" }, true},
		{"host ok", func(c *Config) { c.Global.AllowedHosts = []string{"httpbin.org"} }, false},
		{"host with scheme", func(c *Config) { c.Global.AllowedHosts = []string{"https://a.com"} }, true},
		{"host with path", func(c *Config) { c.Global.AllowedHosts = []string{"a.com/img"} }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFetchOptionsMirrorsGlobal(t *testing.T) {
	cfg := validConfig()
	cfg.Global.AllowedHosts = []string{"a.test"}
	opts := cfg.Global.FetchOptions()
	if opts.MaxRetries != 1 || opts.InitialBackoff != time.Second || opts.UserAgent != "imagecache" {
		t.Fatalf("unexpected fetch options: %+v", opts)
	}
	opts.AllowedHosts[0] = "mutated"
	if cfg.Global.AllowedHosts[0] != "a.test" {
		t.Fatalf("FetchOptions 不应共享切片")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			StoragePath:     "./data",
			MaxRetries:      1,
			InitialBackoff:  Duration(time.Second),
			UpstreamTimeout: Duration(time.Second),
			ShutdownTimeout: Duration(time.Second),
			MaxImageSize:    1 << 20,
			UserAgent:       "imagecache",
		},
	}
}
