package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 app/domain/类别/来源字段，供代理请求日志复用。
// version 为空表示请求未受任何 worker 控制。
func RequestFields(app, domain, version, class, source string) logrus.Fields {
	fields := logrus.Fields{
		"app":       app,
		"domain":    domain,
		"class":     class,
		"source":    source,
		"cache_hit": source == "cache" || source == "cache-fallback",
	}
	if version != "" {
		fields["cache_version"] = version
	}
	return fields
}

// WorkerFields 提供 worker 生命周期日志的公共字段。
func WorkerFields(action, app, version string) logrus.Fields {
	return logrus.Fields{
		"action":        action,
		"app":           app,
		"cache_version": version,
	}
}
