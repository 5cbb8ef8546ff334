package services

import (
	"encoding/json"
	"fmt"
	"time"

	"chis/internal/database"
	"chis/internal/models"
	"chis/pkg/logger"
	"chis/pkg/queue"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditService 审计记录服务
// Record必须在引发变更的同一事务内调用；写入失败返回ErrAuditWrite，
// 调用方让事务回滚，不允许记录失败后继续提交
type AuditService struct {
	db *gorm.DB
}

func NewAuditService() *AuditService {
	return &AuditService{
		db: database.GetDB(),
	}
}

// AuditContext 一次操作的审计上下文（操作人与请求元数据）
// ActorUserID为nil表示系统动作（如定时任务）
type AuditContext struct {
	ActorUserID    *uint
	ActorName      string
	OrganizationID *uint
	IPAddress      string
	UserAgent      string
	RequestID      string
}

// SystemAuditContext 系统动作的审计上下文
func SystemAuditContext(source string) *AuditContext {
	return &AuditContext{
		ActorUserID: nil,
		ActorName:   source,
	}
}

// NewAuditLog 构建审计日志条目，details序列化为JSON
func NewAuditLog(auditCtx *AuditContext, action, entityType, entityID string, details map[string]interface{}) *models.AuditLog {
	entry := &models.AuditLog{
		ActorUserID:    auditCtx.ActorUserID,
		ActorName:      auditCtx.ActorName,
		OrganizationID: auditCtx.OrganizationID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		IPAddress:      auditCtx.IPAddress,
		UserAgent:      auditCtx.UserAgent,
		RequestID:      auditCtx.RequestID,
	}

	if details != nil {
		data, err := json.Marshal(details)
		if err == nil {
			entry.Details = datatypes.JSON(data)
		}
	}

	return entry
}

// Record 在事务内写入审计日志
// 失败时包装ErrAuditWrite返回，调用方必须让外层事务回滚
func (s *AuditService) Record(tx *gorm.DB, entry *models.AuditLog) error {
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

// Publish 事务提交后向审计事件流广播（尽力而为）
// 数据库记录是唯一权威来源，广播失败只记日志，不影响已提交的变更
func (s *AuditService) Publish(entry *models.AuditLog) {
	stream := database.GetAuditStream()

	message := &queue.AuditMessage{
		ID:             entry.ID,
		ActorUserID:    entry.ActorUserID,
		ActorName:      entry.ActorName,
		OrganizationID: entry.OrganizationID,
		Action:         entry.Action,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Details:        json.RawMessage(entry.Details),
		RequestID:      entry.RequestID,
		Created:        entry.CreatedAt.Unix(),
	}

	if err := stream.Publish(message); err != nil {
		logger.GetLogger().Warnf("广播审计事件失败: %v", err)
	}
}

// AuditLogFilters 审计日志查询条件
type AuditLogFilters struct {
	Action      string
	EntityType  string
	EntityID    string
	ActorUserID *uint
	StartTime   *time.Time
	EndTime     *time.Time
}

// GetWithPage 分页查询审计日志（按时间降序）
// 查询经过机构范围过滤：非豁免主体只能看到本机构的审计记录
func (s *AuditService) GetWithPage(principal *models.Principal, filters *AuditLogFilters, page, pageSize int) ([]*models.AuditLog, int64, error) {
	var entries []*models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{}).Scopes(ScopeByOrganization(principal))

	if filters != nil {
		if filters.Action != "" {
			query = query.Where("action = ?", filters.Action)
		}
		if filters.EntityType != "" {
			query = query.Where("entity_type = ?", filters.EntityType)
		}
		if filters.EntityID != "" {
			query = query.Where("entity_id = ?", filters.EntityID)
		}
		if filters.ActorUserID != nil {
			query = query.Where("actor_user_id = ?", *filters.ActorUserID)
		}
		if filters.StartTime != nil {
			query = query.Where("created_at >= ?", *filters.StartTime)
		}
		if filters.EndTime != nil {
			query = query.Where("created_at <= ?", *filters.EndTime)
		}
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
