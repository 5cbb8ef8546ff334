package services

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"chis/internal/database"
	"chis/internal/models"

	"gorm.io/gorm"
)

type OrganizationService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewOrganizationService() *OrganizationService {
	return &OrganizationService{
		db:    database.GetDB(),
		audit: NewAuditService(),
	}
}

// ========== 基础CRUD方法 ==========

// Create 创建机构
func (s *OrganizationService) Create(name, code string, auditCtx *AuditContext) (*models.Organization, error) {
	// 验证参数
	if err := s.ValidateCreateParams(name, code); err != nil {
		return nil, err
	}

	// 检查代码是否重复
	var count int64
	s.db.Model(&models.Organization{}).Where("code = ?", code).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("%w: 机构代码 %s", ErrDuplicateName, code)
	}

	organization := &models.Organization{
		Name:   name,
		Code:   code,
		Status: models.OrganizationStatusActive,
	}

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(organization).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionCreateOrganization, models.AuditEntityOrganization,
			fmt.Sprintf("%d", organization.ID), map[string]interface{}{
				"name": name,
				"code": code,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return organization, nil
}

// GetByID 根据ID获取机构
func (s *OrganizationService) GetByID(id uint) (*models.Organization, error) {
	var organization models.Organization
	err := s.db.First(&organization, id).Error
	return &organization, err
}

// GetWithFiltersAndPage 组合查询（分页版本）
func (s *OrganizationService) GetWithFiltersAndPage(status, keyword string, page, pageSize int) ([]*models.Organization, int64, error) {
	var organizations []*models.Organization
	var total int64

	query := s.db.Model(&models.Organization{})

	// 添加过滤条件
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword != "" {
		searchPattern := fmt.Sprintf("%%%s%%", keyword)
		query = query.Where("name LIKE ? OR code LIKE ?", searchPattern, searchPattern)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Find(&organizations).Error
	if err != nil {
		return nil, 0, err
	}

	// 统计每个机构的成员数量
	for i := range organizations {
		var memberCount int64
		s.db.Model(&models.UserOrganization{}).Where("organization_id = ?", organizations[i].ID).Count(&memberCount)
		organizations[i].MemberCount = int(memberCount)
	}

	return organizations, total, nil
}

// Update 更新机构信息（名称与品牌字段）
func (s *OrganizationService) Update(id uint, name, logoURL, primaryColor, contactEmail, contactPhone, address string, auditCtx *AuditContext) (*models.Organization, error) {
	if !s.ValidateName(name) {
		return nil, fmt.Errorf("机构名称长度必须在2-50个字符之间")
	}

	var organization models.Organization
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&organization, id).Error; err != nil {
			return err
		}

		organization.Name = name
		organization.LogoURL = logoURL
		organization.PrimaryColor = primaryColor
		organization.ContactEmail = contactEmail
		organization.ContactPhone = contactPhone
		organization.Address = address

		if err := tx.Save(&organization).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUpdateOrganization, models.AuditEntityOrganization,
			fmt.Sprintf("%d", id), map[string]interface{}{
				"name": name,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &organization, nil
}

// Activate 启用机构
func (s *OrganizationService) Activate(id uint, auditCtx *AuditContext) (*models.Organization, error) {
	return s.changeStatus(id, models.OrganizationStatusActive, auditCtx)
}

// Deactivate 停用机构
func (s *OrganizationService) Deactivate(id uint, auditCtx *AuditContext) (*models.Organization, error) {
	return s.changeStatus(id, models.OrganizationStatusInactive, auditCtx)
}

func (s *OrganizationService) changeStatus(id uint, status string, auditCtx *AuditContext) (*models.Organization, error) {
	var organization models.Organization
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&organization, id).Error; err != nil {
			return err
		}

		oldStatus := organization.Status
		organization.Status = status

		if err := tx.Save(&organization).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionOrganizationStatusChange, models.AuditEntityOrganization,
			fmt.Sprintf("%d", id), map[string]interface{}{
				"name":       organization.Name,
				"old_status": oldStatus,
				"new_status": status,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &organization, nil
}

// ========== 成员管理方法 ==========

// AddMember 把用户加入机构
// isDefault为true时在同一事务内先清掉该用户的其他默认标记，
// 保证"每个用户至多一个默认机构"的不变量
func (s *OrganizationService) AddMember(userID, organizationID uint, roleID *uint, isDefault bool, auditCtx *AuditContext) (*models.UserOrganization, error) {
	membership := &models.UserOrganization{
		UserID:         userID,
		OrganizationID: organizationID,
		RoleID:         roleID,
		IsDefault:      isDefault,
		JoinedAt:       time.Now(),
	}

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 机构必须存在
		var organization models.Organization
		if err := tx.First(&organization, organizationID).Error; err != nil {
			return err
		}

		// 用户必须存在
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%d", ErrPrincipalNotFound, userID)
			}
			return err
		}

		// 角色必须存在
		if roleID != nil {
			var role models.Role
			if err := tx.First(&role, *roleID).Error; err != nil {
				return err
			}
		}

		// 已是成员则拒绝
		var count int64
		tx.Model(&models.UserOrganization{}).
			Where("user_id = ? AND organization_id = ?", userID, organizationID).
			Count(&count)
		if count > 0 {
			return fmt.Errorf("用户已是该机构成员")
		}

		if isDefault {
			if err := tx.Model(&models.UserOrganization{}).
				Where("user_id = ?", userID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		if err := tx.Create(membership).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionAddMember, models.AuditEntityMembership,
			fmt.Sprintf("%d", membership.ID), map[string]interface{}{
				"username":     user.Username,
				"organization": organization.Name,
				"is_default":   isDefault,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return membership, nil
}

// RemoveMember 把用户移出机构
func (s *OrganizationService) RemoveMember(userID, organizationID uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var membership models.UserOrganization
		err := tx.Where("user_id = ? AND organization_id = ?", userID, organizationID).
			First(&membership).Error
		if err != nil {
			return err
		}

		if err := tx.Delete(&membership).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionRemoveMember, models.AuditEntityMembership,
			fmt.Sprintf("%d", membership.ID), map[string]interface{}{
				"user_id":         userID,
				"organization_id": organizationID,
				"was_default":     membership.IsDefault,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// SetDefaultOrganization 切换用户的默认机构（持久化切换）
// 事务内先清后设；用户必须已是目标机构的成员
func (s *OrganizationService) SetDefaultOrganization(userID, organizationID uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var membership models.UserOrganization
		err := tx.Where("user_id = ? AND organization_id = ?", userID, organizationID).
			First(&membership).Error
		if err != nil {
			return err
		}

		// 先清掉该用户全部默认标记
		if err := tx.Model(&models.UserOrganization{}).
			Where("user_id = ?", userID).
			Update("is_default", false).Error; err != nil {
			return err
		}

		// 再设置目标机构为默认
		if err := tx.Model(&models.UserOrganization{}).
			Where("id = ?", membership.ID).
			Update("is_default", true).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionSwitchOrganization, models.AuditEntityMembership,
			fmt.Sprintf("%d", membership.ID), map[string]interface{}{
				"user_id":         userID,
				"organization_id": organizationID,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// AssignMemberRole 设置用户在指定机构内的角色覆盖
func (s *OrganizationService) AssignMemberRole(userID, organizationID, roleID uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 角色必须存在
		var role models.Role
		if err := tx.First(&role, roleID).Error; err != nil {
			return err
		}

		var membership models.UserOrganization
		err := tx.Where("user_id = ? AND organization_id = ?", userID, organizationID).
			First(&membership).Error
		if err != nil {
			return err
		}

		var oldRoleID *uint
		if membership.RoleID != nil {
			v := *membership.RoleID
			oldRoleID = &v
		}

		if err := tx.Model(&models.UserOrganization{}).
			Where("id = ?", membership.ID).
			Update("role_id", roleID).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionAssignMemberRole, models.AuditEntityMembership,
			fmt.Sprintf("%d", membership.ID), map[string]interface{}{
				"user_id":         userID,
				"organization_id": organizationID,
				"old_role_id":     oldRoleID,
				"new_role_id":     roleID,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// GetMembersWithPage 分页获取机构成员
func (s *OrganizationService) GetMembersWithPage(organizationID uint, page, pageSize int) ([]*models.UserOrganization, int64, error) {
	var memberships []*models.UserOrganization
	var total int64

	query := s.db.Model(&models.UserOrganization{}).Where("organization_id = ?", organizationID)

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Preload("User").Preload("Role").Offset(offset).Limit(pageSize).Find(&memberships).Error
	if err != nil {
		return nil, 0, err
	}

	return memberships, total, nil
}

// GetUserMemberships 获取用户的所有机构成员关系
func (s *OrganizationService) GetUserMemberships(userID uint) ([]models.UserOrganization, error) {
	var memberships []models.UserOrganization
	err := s.db.Where("user_id = ?", userID).
		Preload("Organization").
		Preload("Role").
		Find(&memberships).Error
	return memberships, err
}

// ========== 验证相关方法 ==========

// ValidateName 验证机构名称
func (s *OrganizationService) ValidateName(name string) bool {
	runeCount := utf8.RuneCountInString(name)
	return runeCount >= 2 && runeCount <= 50
}

// ValidateCode 验证机构代码
func (s *OrganizationService) ValidateCode(code string) bool {
	if len(code) < 2 || len(code) > 20 {
		return false
	}
	for _, r := range code {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// ValidateCreateParams 验证创建机构的参数
func (s *OrganizationService) ValidateCreateParams(name, code string) error {
	if !s.ValidateName(name) {
		return fmt.Errorf("机构名称长度必须在2-50个字符之间")
	}
	if !s.ValidateCode(code) {
		return fmt.Errorf("机构代码长度必须在2-20个字符之间，且只能包含字母和数字")
	}
	return nil
}
