package services

import (
	"chis/internal/database"
	"chis/internal/models"
	"fmt"

	"gorm.io/gorm"
)

type PermissionService struct {
	db *gorm.DB
}

func NewPermissionService() *PermissionService {
	return &PermissionService{
		db: database.GetDB(),
	}
}

// ========== 基础CRUD方法 ==========

// GetWithPage 分页获取权限
func (s *PermissionService) GetWithPage(module string, page, pageSize int) ([]*models.Permission, int64, error) {
	var permissions []*models.Permission
	var total int64

	query := s.db.Model(&models.Permission{})

	// 按模块筛选
	if module != "" {
		query = query.Where("module = ?", module)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Order("module, action").Offset(offset).Limit(pageSize).Find(&permissions).Error
	if err != nil {
		return nil, 0, err
	}

	return permissions, total, nil
}

// GetByID 根据ID获取权限
func (s *PermissionService) GetByID(id uint) (*models.Permission, error) {
	var permission models.Permission
	err := s.db.First(&permission, id).Error
	return &permission, err
}

// GetAll 获取完整权限目录
func (s *PermissionService) GetAll() ([]models.Permission, error) {
	var permissions []models.Permission
	err := s.db.Order("module, action").Find(&permissions).Error
	return permissions, err
}

// GetByModule 按模块分组获取权限目录
func (s *PermissionService) GetByModule() (map[string][]models.Permission, error) {
	permissions, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]models.Permission)
	for _, permission := range permissions {
		grouped[permission.Module] = append(grouped[permission.Module], permission)
	}
	return grouped, nil
}

// Create 创建权限（目录可以增长，但已有权限不允许改名）
func (s *PermissionService) Create(name, description, module, action string) (*models.Permission, error) {
	// 权限名是稳定键，重复即拒绝
	var count int64
	s.db.Model(&models.Permission{}).Where("name = ?", name).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	permission := &models.Permission{
		Name:        name,
		Description: description,
		Module:      module,
		Action:      action,
	}

	err := s.db.Create(permission).Error
	return permission, err
}

// VerifyIDs 校验一组权限ID是否都在目录中，返回缺失的ID
func (s *PermissionService) VerifyIDs(tx *gorm.DB, permissionIDs []uint) ([]uint, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}

	var existing []uint
	err := tx.Model(&models.Permission{}).
		Where("id IN ?", permissionIDs).
		Pluck("id", &existing).Error
	if err != nil {
		return nil, err
	}

	existingSet := make(map[uint]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	var missing []uint
	for _, id := range permissionIDs {
		if !existingSet[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
