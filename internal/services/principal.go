package services

import (
	"errors"
	"fmt"

	"chis/internal/models"

	"gorm.io/gorm"
)

// PrincipalService 请求主体解析
// 每次解析都从数据库读取当前用户行，令牌里的任何角色信息一律不信：
// 在令牌签发和使用之间角色随时可能被改派
type PrincipalService struct {
	db *gorm.DB
}

func NewPrincipalService(db *gorm.DB) *PrincipalService {
	return &PrincipalService{db: db}
}

// Load 构建请求主体
// 用户不存在返回ErrPrincipalNotFound，已停用返回ErrPrincipalInactive，
// 两者区别于普通的"拒绝"，调用方可据此直接终止会话。
// 锁定中的用户可以正常构建主体，其权限解析结果为空集
func (s *PrincipalService) Load(userID uint) (*models.Principal, error) {
	var user models.User
	err := s.db.First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrPrincipalNotFound, userID)
		}
		return nil, err
	}

	if !user.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalInactive, user.Username)
	}

	principal := &models.Principal{
		UserID:      user.ID,
		Username:    user.Username,
		LegacyRole:  user.LegacyRole,
		RoleID:      user.RoleID,
		Active:      true,
		LockedUntil: user.LockedUntil,
	}

	// 当前机构：默认成员关系优先，其次用户直属机构；
	// 两者都没有则保持nil，该主体看不到任何机构范围内的数据
	var membership models.UserOrganization
	err = s.db.Where("user_id = ? AND is_default = ?", userID, true).First(&membership).Error
	switch {
	case err == nil:
		orgID := membership.OrganizationID
		principal.ActiveOrganizationID = &orgID
		// 机构内角色覆盖用户默认角色
		if membership.RoleID != nil {
			roleID := *membership.RoleID
			principal.RoleID = &roleID
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		principal.ActiveOrganizationID = user.OrganizationID
	default:
		return nil, err
	}

	// 跨机构豁免只在这一处赋值：仅限legacy superadmin
	principal.ScopeExempt = user.LegacyRole == models.LegacyRoleSuperadmin

	return principal, nil
}
