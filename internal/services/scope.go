package services

import (
	"chis/internal/models"

	"gorm.io/gorm"
)

// ScopeByOrganization 机构范围过滤
// 所有带organization_id的查询都必须套用本Scope：
//   - 豁免主体（仅superadmin）：查询原样返回，跨机构可见
//   - 无当前机构的主体：匹配零行。未分配机构的用户在管理员
//     为其分配机构前看不到任何临床数据，这是有意为之
//   - 其余：按主体的当前机构过滤
func ScopeByOrganization(principal *models.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if principal != nil && principal.ScopeExempt {
			return db
		}
		if principal == nil || principal.ActiveOrganizationID == nil {
			return db.Where("1 = 0")
		}
		return db.Where("organization_id = ?", *principal.ActiveOrganizationID)
	}
}
