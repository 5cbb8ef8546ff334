package models

import "time"

// LabOrder 检验单模型 - 临床边界实体
type LabOrder struct {
	BaseModel
	OrganizationID uint       `gorm:"not null;index" json:"organization_id"`
	PatientID      uint       `gorm:"not null;index" json:"patient_id"`
	OrderNo        string     `gorm:"size:50;not null;uniqueIndex" json:"order_no"`
	TestName       string     `gorm:"size:100;not null" json:"test_name"` // 检验项目，如 "血常规"
	Status         string     `gorm:"size:20;default:'pending'" json:"status"`
	OrderedBy      uint       `gorm:"not null;index" json:"ordered_by"` // 开单人用户ID
	ResultSummary  string     `gorm:"size:500" json:"result_summary"`
	ReportedAt     *time.Time `json:"reported_at"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Patient      *Patient      `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
}

// TableName 表名
func (LabOrder) TableName() string {
	return "lab_orders"
}

// 检验单状态常量
const (
	LabOrderStatusPending   = "pending"   // 待采样
	LabOrderStatusCompleted = "completed" // 已出报告
	LabOrderStatusCancelled = "cancelled" // 已作废
)
