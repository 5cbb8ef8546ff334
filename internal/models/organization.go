package models

// Organization 机构模型 - 租户边界
// 所有临床数据（患者、就诊、检验单等）都带organization_id外键，
// 非超管的查询一律按机构过滤（见 services.ScopeByOrganization）
type Organization struct {
	BaseModel
	Name   string `json:"name" gorm:"not null;size:100"`
	Code   string `json:"code" gorm:"unique;not null;size:50;index"`
	Status string `json:"status" gorm:"default:'active';size:20"`

	// 品牌信息
	LogoURL      string `json:"logo_url" gorm:"size:255"`
	PrimaryColor string `json:"primary_color" gorm:"size:20"`
	ContactEmail string `json:"contact_email" gorm:"size:100"`
	ContactPhone string `json:"contact_phone" gorm:"size:20"`
	Address      string `json:"address" gorm:"size:255"`

	MemberCount int `json:"member_count" gorm:"-"` // 成员数量，不存储在数据库中
}

// TableName 表名
func (o *Organization) TableName() string {
	return "organizations"
}

// 机构状态常量
const (
	OrganizationStatusActive   = "active"
	OrganizationStatusInactive = "inactive"
)

// IsActive 机构是否启用
func (o *Organization) IsActive() bool {
	return o.Status == OrganizationStatusActive
}
