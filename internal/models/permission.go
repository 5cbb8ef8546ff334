package models

// Permission 权限模型
// Name是稳定键：权限集合可以增长，但已创建的权限不允许改名
// （角色通过名称隐式引用权限，改名会悄悄破坏所有引用）
type Permission struct {
	BaseModel
	Name        string `gorm:"uniqueIndex;size:100;not null" json:"name"` // 权限名，如 "viewPatients"
	Description string `gorm:"size:255" json:"description"`               // 权限描述
	Module      string `gorm:"size:50;not null" json:"module"`            // 所属模块，如 "patient", "lab"
	Action      string `gorm:"size:50;not null" json:"action"`            // 操作类型，如 "view", "create"
}

// TableName 表名
func (Permission) TableName() string {
	return "permissions"
}

// 权限模块常量
const (
	ModulePatient      = "patient"      // 患者管理
	ModuleVisit        = "visit"        // 就诊管理
	ModuleAppointment  = "appointment"  // 预约管理
	ModuleLab          = "lab"          // 检验管理
	ModulePrescription = "prescription" // 处方管理
	ModuleBilling      = "billing"      // 收费管理
	ModuleUser         = "user"         // 用户管理
	ModuleRole         = "role"         // 角色管理
	ModuleOrganization = "organization" // 机构管理
	ModuleAudit        = "audit"        // 审计日志
)

// 权限操作常量
const (
	ActionView   = "view"   // 查看
	ActionCreate = "create" // 创建
	ActionEdit   = "edit"   // 编辑
	ActionDelete = "delete" // 删除
	ActionManage = "manage" // 管理
)
