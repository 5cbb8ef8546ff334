package database

import (
	"chis/pkg/config"
	"chis/pkg/queue"
	"sync"
)

var (
	auditStreamInstance *queue.AuditStream
	auditStreamOnce     sync.Once
)

// GetAuditStream 获取审计事件流的单例实例
func GetAuditStream() *queue.AuditStream {
	auditStreamOnce.Do(func() {
		cfg := config.GetConfig()
		auditStreamInstance = queue.NewAuditStream(&queue.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	})
	return auditStreamInstance
}

// CloseAuditStream 关闭Redis连接
func CloseAuditStream() error {
	if auditStreamInstance != nil {
		return auditStreamInstance.Close()
	}
	return nil
}
