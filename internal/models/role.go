package models

import "time"

// Role 角色模型
// 角色是可复用的权限组合，全局唯一命名；
// 用户在具体机构内可以由 UserOrganization.RoleID 覆盖默认角色
type Role struct {
	BaseModel
	Name        string `gorm:"uniqueIndex;size:100;not null" json:"name"` // 角色名，如 "lab_technician"
	Description string `gorm:"size:255" json:"description"`               // 角色描述
	IsSystem    bool   `gorm:"default:false" json:"is_system"`            // 是否系统角色（不可删除、不可改名）

	// 关联关系
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
}

// TableName 表名
func (Role) TableName() string {
	return "roles"
}

// 系统预定义角色常量
const (
	RoleSuperadmin = "superadmin" // 平台超级管理员（跨机构）
)

// RolePermission 角色权限关联表
type RolePermission struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoleID       uint      `gorm:"not null;index;uniqueIndex:idx_role_permission" json:"role_id"`
	PermissionID uint      `gorm:"not null;index;uniqueIndex:idx_role_permission" json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 表名
func (RolePermission) TableName() string {
	return "role_permissions"
}
