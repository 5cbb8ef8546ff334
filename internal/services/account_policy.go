package services

import (
	"fmt"
	"time"

	"chis/internal/database"
	"chis/internal/models"
	"chis/pkg/config"
	"chis/pkg/logger"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// AccountPolicyScheduler 账号策略调度器
// 定时巡检：停用超过休眠窗口未登录的账号、清理已过期的锁定。
// 巡检产生的状态变更以系统动作写入审计（无操作人）
type AccountPolicyScheduler struct {
	db      *gorm.DB
	audit   *AuditService
	cron    *cron.Cron
	running bool
}

// NewAccountPolicyScheduler 创建账号策略调度器
func NewAccountPolicyScheduler() *AccountPolicyScheduler {
	return &AccountPolicyScheduler{
		db:    database.GetDB(),
		audit: NewAuditService(),
		cron:  cron.New(),
	}
}

// Start 启动调度器
func (s *AccountPolicyScheduler) Start() error {
	if s.running {
		return fmt.Errorf("调度器已经在运行")
	}

	cfg := config.GetConfig()

	_, err := s.cron.AddFunc(cfg.Security.PolicyCron, s.runSweep)
	if err != nil {
		return fmt.Errorf("添加账号策略巡检任务失败: %v", err)
	}

	s.cron.Start()
	s.running = true

	logger.GetLogger().Infof("账号策略调度器启动成功，cron: %s", cfg.Security.PolicyCron)
	return nil
}

// Stop 停止调度器
func (s *AccountPolicyScheduler) Stop() {
	if !s.running {
		return
	}

	logger.GetLogger().Info("停止账号策略调度器")
	s.cron.Stop()
	s.running = false
}

// runSweep 执行一轮巡检
func (s *AccountPolicyScheduler) runSweep() {
	if err := s.DeactivateDormantAccounts(); err != nil {
		logger.GetLogger().Errorf("休眠账号巡检失败: %v", err)
	}
	if err := s.ReleaseExpiredLocks(); err != nil {
		logger.GetLogger().Errorf("过期锁定清理失败: %v", err)
	}
}

// DeactivateDormantAccounts 停用休眠账号
// 超过配置天数未登录的活跃账号会被停用，每个账号一条审计记录
func (s *AccountPolicyScheduler) DeactivateDormantAccounts() error {
	cfg := config.GetConfig()
	if cfg.Security.DormantDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.Security.DormantDays)

	var dormant []models.User
	err := s.db.Where("status = ? AND last_login_at IS NOT NULL AND last_login_at < ?",
		models.UserStatusActive, cutoff).Find(&dormant).Error
	if err != nil {
		return err
	}

	auditCtx := SystemAuditContext("account_policy")

	for _, user := range dormant {
		var entry *models.AuditLog
		txErr := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Update("status", models.UserStatusInactive).Error; err != nil {
				return err
			}

			entry = NewAuditLog(auditCtx, models.AuditActionUserStatusChange, models.AuditEntityUser,
				fmt.Sprintf("%d", user.ID), map[string]interface{}{
					"username":   user.Username,
					"old_status": models.UserStatusActive,
					"new_status": models.UserStatusInactive,
					"reason":     "dormant",
				})
			return s.audit.Record(tx, entry)
		})
		if txErr != nil {
			logger.GetLogger().Errorf("停用休眠账号 %s 失败: %v", user.Username, txErr)
			continue
		}

		s.audit.Publish(entry)
		logger.GetLogger().Infof("已停用休眠账号: %s (最后登录 %v)", user.Username, user.LastLoginAt)
	}

	return nil
}

// ReleaseExpiredLocks 清理已过期的锁定
// 锁定到期后权限解析本来就会恢复（IsLocked按当前时间判断），
// 这里只是把字段清掉并归零失败计数，让账号状态可读
func (s *AccountPolicyScheduler) ReleaseExpiredLocks() error {
	var expired []models.User
	err := s.db.Where("locked_until IS NOT NULL AND locked_until < ?", time.Now()).
		Find(&expired).Error
	if err != nil {
		return err
	}

	auditCtx := SystemAuditContext("account_policy")

	for _, user := range expired {
		var entry *models.AuditLog
		txErr := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Updates(map[string]interface{}{
					"locked_until":          nil,
					"failed_login_attempts": 0,
				}).Error; err != nil {
				return err
			}

			entry = NewAuditLog(auditCtx, models.AuditActionUserUnlocked, models.AuditEntityUser,
				fmt.Sprintf("%d", user.ID), map[string]interface{}{
					"username": user.Username,
					"reason":   "lock_expired",
				})
			return s.audit.Record(tx, entry)
		})
		if txErr != nil {
			logger.GetLogger().Errorf("清理账号 %s 的过期锁定失败: %v", user.Username, txErr)
			continue
		}

		s.audit.Publish(entry)
	}

	return nil
}
