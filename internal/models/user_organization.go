package models

import (
	"time"

	"gorm.io/gorm"
)

// UserOrganization 用户-机构关联表
// 多机构执业人员的成员关系；RoleID可覆盖用户的默认角色；
// 不变量：每个用户至多一条is_default=true的记录
// （服务层事务内先清后设，另有部分唯一索引兜底，见 database.Migrate）
type UserOrganization struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_user_organization" json:"user_id"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:idx_user_organization" json:"organization_id"`
	RoleID         *uint     `gorm:"index" json:"role_id"`             // 在该机构的角色覆盖（可空）
	IsDefault      bool      `gorm:"default:false" json:"is_default"`  // 是否默认机构
	JoinedAt       time.Time `gorm:"not null" json:"joined_at"`        // 加入时间
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// 关联
	User         User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Organization Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"organization,omitempty"`
	Role         *Role        `gorm:"foreignKey:RoleID" json:"role,omitempty"`
}

// TableName 指定表名
func (UserOrganization) TableName() string {
	return "user_organizations"
}

// GetPermissions 获取该成员关系对应角色的权限
func (uo *UserOrganization) GetPermissions(db *gorm.DB) ([]Permission, error) {
	var permissions []Permission

	if uo.RoleID != nil {
		err := db.
			Joins("JOIN role_permissions ON permissions.id = role_permissions.permission_id").
			Where("role_permissions.role_id = ?", *uo.RoleID).
			Find(&permissions).Error
		return permissions, err
	}

	return permissions, nil
}
