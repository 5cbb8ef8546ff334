package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog 审计日志模型
// 只追加：应用层不提供任何更新或删除路径，保留策略由外部负责。
// 审计写入与被记录的变更在同一事务中完成，写入失败则整个变更回滚
// （见 services.AuditService）
type AuditLog struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	ActorUserID    *uint          `gorm:"index" json:"actor_user_id"` // 操作人ID，null表示系统动作
	ActorName      string         `gorm:"size:50" json:"actor_name"`  // 操作人用户名快照
	OrganizationID *uint          `gorm:"index" json:"organization_id"`
	Action         string         `gorm:"size:50;not null;index" json:"action"`
	EntityType     string         `gorm:"size:50;not null;index" json:"entity_type"`
	EntityID       string         `gorm:"size:50;index" json:"entity_id"`
	Details        datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	IPAddress      string         `gorm:"size:45" json:"ip_address"`
	UserAgent      string         `gorm:"size:255" json:"user_agent"`
	RequestID      string         `gorm:"size:64;index" json:"request_id"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// 审计动作常量
const (
	AuditActionCreateRole            = "CREATE_ROLE"
	AuditActionUpdateRole            = "UPDATE_ROLE"
	AuditActionUpdateRolePermissions = "UPDATE_ROLE_PERMISSIONS"
	AuditActionDeleteRole            = "DELETE_ROLE"
	AuditActionAssignRole            = "ASSIGN_ROLE"
	AuditActionBulkAssignRoles       = "BULK_ASSIGN_ROLES"

	AuditActionCreateUser       = "CREATE_USER"
	AuditActionUpdateUser       = "UPDATE_USER"
	AuditActionDeleteUser       = "DELETE_USER"
	AuditActionUserStatusChange = "USER_STATUS_CHANGE"
	AuditActionUserLocked       = "USER_LOCKED"
	AuditActionUserUnlocked     = "USER_UNLOCKED"
	AuditActionResetPassword    = "RESET_PASSWORD"

	AuditActionCreateOrganization       = "CREATE_ORGANIZATION"
	AuditActionUpdateOrganization       = "UPDATE_ORGANIZATION"
	AuditActionOrganizationStatusChange = "ORGANIZATION_STATUS_CHANGE"
	AuditActionAddMember                = "ADD_MEMBER"
	AuditActionRemoveMember             = "REMOVE_MEMBER"
	AuditActionAssignMemberRole         = "ASSIGN_MEMBER_ROLE"
	AuditActionSwitchOrganization       = "SWITCH_ORGANIZATION"
)

// 审计实体类型常量
const (
	AuditEntityRole         = "role"
	AuditEntityUser         = "user"
	AuditEntityOrganization = "organization"
	AuditEntityMembership   = "user_organization"
)
