package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/策略/结果字段，供 fetch 日志复用。
func RequestFields(site, domain, strategy, store, outcome string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"domain":    domain,
		"strategy":  strategy,
		"store":     store,
		"outcome":   outcome,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 worker 生命周期事件（install/activate/push/sync）。
func LifecycleFields(site, event, state string) logrus.Fields {
	return logrus.Fields{
		"action": "lifecycle",
		"site":   site,
		"event":  event,
		"state":  state,
	}
}
