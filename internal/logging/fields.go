package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LeaseFields 提供租约日志字段，供 HTTP 层与缓存层复用。
func LeaseFields(id, url, path string) logrus.Fields {
	fields := logrus.Fields{
		"lease_id": id,
		"url":      url,
	}
	if path != "" {
		fields["path"] = path
	}
	return fields
}
