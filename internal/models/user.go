package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 用户模型
// LegacyRole是迁移前的单字符串角色字段，保留用于兼容；
// RoleID是规范化角色外键。两者并存时授权以LegacyRole的
// 特权值优先（见 services.AuthorizerService）
type User struct {
	BaseModel
	Username     string  `json:"username" gorm:"unique;not null;size:50;index"`
	Email        string  `json:"email" gorm:"unique;not null;size:100;index"`
	PasswordHash string  `json:"-" gorm:"not null;size:255"`
	FullName     string  `json:"full_name" gorm:"not null;size:100"`
	Phone        *string `json:"phone" gorm:"size:20"`

	LegacyRole     string `json:"legacy_role" gorm:"size:50;index"` // 历史角色字符串，如 "superadmin"、"admin"
	RoleID         *uint  `json:"role_id" gorm:"index"`             // 规范化角色（可空，迁移前用户为null）
	OrganizationID *uint  `json:"organization_id" gorm:"index"`     // 直属机构（可空）

	Status              string     `json:"status" gorm:"default:'active';size:20"`
	FailedLoginAttempts int        `json:"failed_login_attempts" gorm:"default:0"`
	LockedUntil         *time.Time `json:"locked_until"`
	LastLoginAt         *time.Time `json:"last_login_at"`

	// 关联
	Role          *Role          `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	Organization  *Organization  `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Organizations []Organization `gorm:"many2many:user_organizations;" json:"organizations,omitempty"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// 历史特权角色常量（保留的旁路值）
const (
	LegacyRoleSuperadmin = "superadmin" // 全部权限 + 跨机构可见
	LegacyRoleAdmin      = "admin"      // 全部权限，但仍受机构范围约束
)

// IsActive 用户是否启用
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// IsLocked 用户当前是否处于锁定期内
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now())
}

// SetPassword 设置密码 - 数据操作方法
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码 - 数据操作方法
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// GetUserOrganizations 获取用户的所有机构成员关系
func (u *User) GetUserOrganizations(db *gorm.DB) ([]UserOrganization, error) {
	var memberships []UserOrganization
	err := db.Where("user_id = ?", u.ID).
		Preload("Organization").
		Preload("Role").
		Find(&memberships).Error
	return memberships, err
}

// GetDefaultOrganization 获取用户的默认机构成员关系（可能不存在）
func (u *User) GetDefaultOrganization(db *gorm.DB) (*UserOrganization, error) {
	var membership UserOrganization
	err := db.Where("user_id = ? AND is_default = ?", u.ID, true).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// IsOrganizationMember 检查用户是否是指定机构的成员
func (u *User) IsOrganizationMember(db *gorm.DB, organizationID uint) bool {
	var count int64
	db.Model(&UserOrganization{}).
		Where("user_id = ? AND organization_id = ?", u.ID, organizationID).
		Count(&count)
	return count > 0
}
