package services

import (
	"chis/internal/models"

	"gorm.io/gorm"
)

// AuthorizerService 权限解析引擎
// 解析无副作用，每次调用都重新查询存储，不做任何进程级缓存，
// 角色或授权的变更必须在下一个请求立即生效
type AuthorizerService struct {
	db *gorm.DB
}

func NewAuthorizerService(db *gorm.DB) *AuthorizerService {
	return &AuthorizerService{db: db}
}

// Resolve 计算主体的有效权限集
// 按优先级逐条匹配，首条命中即返回：
//  1. 已停用或锁定期内 → 空集
//  2. 历史角色是保留的特权值（superadmin/admin）→ 完整权限目录。
//     该分支先于规范化角色生效，是迁移期的兼容行为：带特权历史
//     角色的用户在清掉该字段之前无法通过改派规范化角色降级
//  3. 有规范化角色 → 该角色的授权集合（空集合同样有效：
//     零授权的角色拒绝一切）
//  4. 兜底 → 空集（fail-closed，"已登录"本身不授予任何权限）
func (s *AuthorizerService) Resolve(principal *models.Principal) (models.PermissionSet, error) {
	set := models.PermissionSet{}

	if principal == nil {
		return set, nil
	}

	if !principal.Active || principal.IsLocked() {
		return set, nil
	}

	if principal.LegacyRole == models.LegacyRoleSuperadmin || principal.LegacyRole == models.LegacyRoleAdmin {
		var names []string
		err := s.db.Model(&models.Permission{}).Pluck("name", &names).Error
		if err != nil {
			return models.PermissionSet{}, err
		}
		return models.NewPermissionSet(names...), nil
	}

	if principal.RoleID != nil {
		var names []string
		err := s.db.Model(&models.Permission{}).
			Joins("JOIN role_permissions ON permissions.id = role_permissions.permission_id").
			Where("role_permissions.role_id = ?", *principal.RoleID).
			Pluck("permissions.name", &names).Error
		if err != nil {
			return models.PermissionSet{}, err
		}
		return models.NewPermissionSet(names...), nil
	}

	return set, nil
}

// Authorize 判定主体是否持有指定权限
// 拒绝不是错误：返回(false, nil)表示正常的权限不足
func (s *AuthorizerService) Authorize(principal *models.Principal, permissionName string) (bool, error) {
	set, err := s.Resolve(principal)
	if err != nil {
		return false, err
	}
	return set.Has(permissionName), nil
}
