package models

import "time"

// Patient 患者模型 - 临床边界实体
// 授权引擎不拥有临床数据，只拥有"按机构过滤"这条规则；
// 本实体用于承载该规则：所有查询必须经过ScopeByOrganization
type Patient struct {
	BaseModel
	OrganizationID  uint       `gorm:"not null;index;uniqueIndex:idx_org_mrn" json:"organization_id"`
	MedicalRecordNo string     `gorm:"size:50;not null;uniqueIndex:idx_org_mrn" json:"medical_record_no"`
	Name            string     `gorm:"size:100;not null" json:"name"`
	Gender          string     `gorm:"size:10" json:"gender"`
	BirthDate       *time.Time `json:"birth_date"`
	Phone           string     `gorm:"size:20" json:"phone"`
	Address         string     `gorm:"size:255" json:"address"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

// TableName 表名
func (Patient) TableName() string {
	return "patients"
}
