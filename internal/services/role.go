package services

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"chis/internal/database"
	"chis/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewRoleService() *RoleService {
	return &RoleService{
		db:    database.GetDB(),
		audit: NewAuditService(),
	}
}

// ========== 基础CRUD方法 ==========

// Create 创建角色并授予初始权限
// 整个操作在一个事务内完成：重名或任意权限ID未知时整体失败，
// 不会留下部分授权
func (s *RoleService) Create(name, description string, permissionIDs []uint, auditCtx *AuditContext) (*models.Role, error) {
	// 验证参数
	if err := s.ValidateName(name); err != nil {
		return nil, err
	}

	permissionIDs = dedupeIDs(permissionIDs)

	role := &models.Role{
		Name:        name,
		Description: description,
		IsSystem:    false,
	}

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 检查角色名是否重复（区分大小写的精确匹配）
		var count int64
		tx.Model(&models.Role{}).Where("name = ?", name).Count(&count)
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}

		// 校验权限ID都在目录中
		missing, err := NewPermissionService().VerifyIDs(tx, permissionIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrUnknownPermission, missing)
		}

		if err := tx.Create(role).Error; err != nil {
			return err
		}

		// 逐条写入授权关联
		for _, permissionID := range permissionIDs {
			rp := &models.RolePermission{
				RoleID:       role.ID,
				PermissionID: permissionID,
			}
			if err := tx.Create(rp).Error; err != nil {
				return err
			}
		}

		grantedNames, err := permissionNamesByIDs(tx, permissionIDs)
		if err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionCreateRole, models.AuditEntityRole,
			fmt.Sprintf("%d", role.ID), map[string]interface{}{
				"name":        name,
				"permissions": grantedNames,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return role, nil
}

// GetByID 根据ID获取角色
func (s *RoleService) GetByID(id uint) (*models.Role, error) {
	var role models.Role
	err := s.db.Preload("Permissions").First(&role, id).Error
	return &role, err
}

// GetWithPage 分页获取角色
func (s *RoleService) GetWithPage(keyword string, page, pageSize int) ([]*models.Role, int64, error) {
	var roles []*models.Role
	var total int64

	query := s.db.Model(&models.Role{})

	// 按名称筛选
	if keyword != "" {
		query = query.Where("name LIKE ?", fmt.Sprintf("%%%s%%", keyword))
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Preload("Permissions").Order("id").Offset(offset).Limit(pageSize).Find(&roles).Error
	if err != nil {
		return nil, 0, err
	}

	return roles, total, nil
}

// Update 更新角色基本信息（不含权限）
func (s *RoleService) Update(id uint, name, description string, auditCtx *AuditContext) (*models.Role, error) {
	// 验证参数
	if err := s.ValidateName(name); err != nil {
		return nil, err
	}

	var role models.Role
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&role, id).Error; err != nil {
			return err
		}

		// 系统角色不能修改
		if role.IsSystem {
			return fmt.Errorf("系统角色不允许修改")
		}

		// 如果改名，检查是否重复
		if role.Name != name {
			var count int64
			tx.Model(&models.Role{}).Where("name = ? AND id != ?", name, id).Count(&count)
			if count > 0 {
				return fmt.Errorf("%w: %s", ErrDuplicateName, name)
			}
		}

		oldName := role.Name
		role.Name = name
		role.Description = description

		if err := tx.Save(&role).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUpdateRole, models.AuditEntityRole,
			fmt.Sprintf("%d", role.ID), map[string]interface{}{
				"old_name": oldName,
				"new_name": name,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &role, nil
}

// ========== 权限管理方法 ==========

// UpdatePermissions 整体替换角色的权限集合
// 先删后插，事务加角色行锁，保证并发下调用方看到的只会是
// 完整的旧集合或完整的新集合；审计记录变更前后的权限名列表
func (s *RoleService) UpdatePermissions(roleID uint, newPermissionIDs []uint, auditCtx *AuditContext) error {
	newPermissionIDs = dedupeIDs(newPermissionIDs)

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 锁定角色行，与Delete串行化
		var role models.Role
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&role, roleID).Error; err != nil {
			return err
		}

		// 系统角色不能修改
		if role.IsSystem {
			return fmt.Errorf("系统角色不允许修改")
		}

		// 校验新权限ID都在目录中
		missing, err := NewPermissionService().VerifyIDs(tx, newPermissionIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrUnknownPermission, missing)
		}

		// 变更前的权限名
		before, err := rolePermissionNames(tx, roleID)
		if err != nil {
			return err
		}

		// 先删后插
		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		for _, permissionID := range newPermissionIDs {
			rp := &models.RolePermission{
				RoleID:       roleID,
				PermissionID: permissionID,
			}
			if err := tx.Create(rp).Error; err != nil {
				return err
			}
		}

		after, err := permissionNamesByIDs(tx, newPermissionIDs)
		if err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUpdateRolePermissions, models.AuditEntityRole,
			fmt.Sprintf("%d", roleID), map[string]interface{}{
				"role":   role.Name,
				"before": before,
				"after":  after,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// GetPermissions 获取角色的权限列表
func (s *RoleService) GetPermissions(roleID uint) ([]models.Permission, error) {
	var role models.Role
	err := s.db.Preload("Permissions").First(&role, roleID).Error
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

// ========== 删除方法 ==========

// Delete 删除角色
// 仍被User或UserOrganization引用的角色不能删除，
// 管理员必须先给受影响的用户改派角色
func (s *RoleService) Delete(roleID uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 锁定角色行，与UpdatePermissions串行化
		var role models.Role
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&role, roleID).Error; err != nil {
			return err
		}

		// 系统角色不能删除
		if role.IsSystem {
			return fmt.Errorf("系统角色不允许删除")
		}

		// 引用检查：用户默认角色 + 机构成员角色覆盖
		var userCount int64
		if err := tx.Model(&models.User{}).Where("role_id = ?", roleID).Count(&userCount).Error; err != nil {
			return err
		}
		var membershipCount int64
		if err := tx.Model(&models.UserOrganization{}).Where("role_id = ?", roleID).Count(&membershipCount).Error; err != nil {
			return err
		}
		if userCount > 0 || membershipCount > 0 {
			return fmt.Errorf("%w: %d个用户、%d条机构成员关系仍在引用", ErrRoleInUse, userCount, membershipCount)
		}

		// 先删授权关联，再删角色
		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Role{}, roleID).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionDeleteRole, models.AuditEntityRole,
			fmt.Sprintf("%d", roleID), map[string]interface{}{
				"name": role.Name,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// ========== 验证方法 ==========

// ValidateName 验证角色名称
func (s *RoleService) ValidateName(name string) error {
	runeCount := utf8.RuneCountInString(name)
	if runeCount < 2 || runeCount > 50 {
		return fmt.Errorf("角色名称长度必须在2-50个字符之间")
	}
	return nil
}

// ========== 辅助方法 ==========

// dedupeIDs ID去重，保持原有顺序
func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	result := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	return result
}

// rolePermissionNames 查询角色当前的权限名（排序后返回）
func rolePermissionNames(tx *gorm.DB, roleID uint) ([]string, error) {
	var names []string
	err := tx.Model(&models.Permission{}).
		Joins("JOIN role_permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ?", roleID).
		Pluck("permissions.name", &names).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// permissionNamesByIDs 按ID查询权限名（排序后返回）
func permissionNamesByIDs(tx *gorm.DB, permissionIDs []uint) ([]string, error) {
	names := make([]string, 0, len(permissionIDs))
	if len(permissionIDs) == 0 {
		return names, nil
	}
	err := tx.Model(&models.Permission{}).
		Where("id IN ?", permissionIDs).
		Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
