package services

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chis/internal/database"
	"chis/internal/models"
	"chis/pkg/config"

	"gorm.io/gorm"
)

type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewUserService() *UserService {
	return &UserService{
		db:    database.GetDB(),
		audit: NewAuditService(),
	}
}

// ========== 基础CRUD方法 ==========

// Create 创建用户
func (s *UserService) Create(username, email, password, fullName string, phone *string, roleID, organizationID *uint, auditCtx *AuditContext) (*models.User, error) {
	// 验证参数
	if err := s.ValidateCreateParams(username, email, password, fullName); err != nil {
		return nil, err
	}

	// 检查用户名是否重复
	var usernameCount int64
	s.db.Model(&models.User{}).Where("username = ?", username).Count(&usernameCount)
	if usernameCount > 0 {
		return nil, fmt.Errorf("%w: 用户名 %s", ErrDuplicateName, username)
	}

	// 检查邮箱是否重复
	var emailCount int64
	s.db.Model(&models.User{}).Where("email = ?", email).Count(&emailCount)
	if emailCount > 0 {
		return nil, fmt.Errorf("%w: 邮箱 %s", ErrDuplicateName, email)
	}

	// 规范化角色必须存在
	if roleID != nil {
		var roleCount int64
		s.db.Model(&models.Role{}).Where("id = ?", *roleID).Count(&roleCount)
		if roleCount == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}

	// 机构必须存在
	if organizationID != nil {
		var orgCount int64
		s.db.Model(&models.Organization{}).Where("id = ?", *organizationID).Count(&orgCount)
		if orgCount == 0 {
			return nil, fmt.Errorf("机构不存在")
		}
	}

	user := &models.User{
		Username:       username,
		Email:          email,
		FullName:       fullName,
		Phone:          phone,
		RoleID:         roleID,
		OrganizationID: organizationID,
		Status:         models.UserStatusActive,
	}

	// 设置密码
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("密码加密失败: %v", err)
	}

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionCreateUser, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username": username,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return user, nil
}

// GetByID 根据ID获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Role").Preload("Organization").First(&user, id).Error
	return &user, err
}

// GetByUsername 根据用户名获取用户
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Role").Preload("Organization").Where("username = ?", username).First(&user).Error
	return &user, err
}

// GetWithFiltersAndPage 组合查询（分页版本）
func (s *UserService) GetWithFiltersAndPage(organizationID *uint, status, keyword string, page, pageSize int) ([]*models.User, int64, error) {
	var users []*models.User
	var total int64

	query := s.db.Model(&models.User{})

	// 添加过滤条件
	if organizationID != nil {
		query = query.Where("organization_id = ?", *organizationID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword != "" {
		searchPattern := fmt.Sprintf("%%%s%%", keyword)
		query = query.Where("username LIKE ? OR email LIKE ? OR full_name LIKE ?",
			searchPattern, searchPattern, searchPattern)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Preload("Role").Preload("Organization").Offset(offset).Limit(pageSize).Find(&users).Error
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// Update 更新用户基本信息
func (s *UserService) Update(id uint, fullName, email string, phone *string, auditCtx *AuditContext) (*models.User, error) {
	// 验证参数
	if err := s.ValidateUpdateParams(fullName, email); err != nil {
		return nil, err
	}

	var user models.User
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		// 如果邮箱变更，检查是否重复
		if user.Email != email {
			var emailCount int64
			tx.Model(&models.User{}).Where("email = ? AND id != ?", email, id).Count(&emailCount)
			if emailCount > 0 {
				return fmt.Errorf("%w: 邮箱 %s", ErrDuplicateName, email)
			}
		}

		user.FullName = fullName
		user.Email = email
		user.Phone = phone

		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUpdateUser, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username": user.Username,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &user, nil
}

// Delete 删除用户（机构成员关系随外键级联删除）
func (s *UserService) Delete(id uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.User{}, id).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionDeleteUser, models.AuditEntityUser,
			fmt.Sprintf("%d", id), map[string]interface{}{
				"username": user.Username,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// ========== 状态管理方法 ==========

// Activate 激活用户
func (s *UserService) Activate(id uint, auditCtx *AuditContext) (*models.User, error) {
	return s.changeStatus(id, models.UserStatusActive, auditCtx)
}

// Deactivate 停用用户
// 停用立即生效：下一次权限解析就会得到空集（解析不做缓存）
func (s *UserService) Deactivate(id uint, auditCtx *AuditContext) (*models.User, error) {
	return s.changeStatus(id, models.UserStatusInactive, auditCtx)
}

func (s *UserService) changeStatus(id uint, status string, auditCtx *AuditContext) (*models.User, error) {
	var user models.User
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		oldStatus := user.Status
		user.Status = status

		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUserStatusChange, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username":   user.Username,
				"old_status": oldStatus,
				"new_status": status,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &user, nil
}

// Lock 锁定用户到指定时间
func (s *UserService) Lock(id uint, until time.Time, auditCtx *AuditContext) (*models.User, error) {
	var user models.User
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		user.LockedUntil = &until

		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUserLocked, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username":     user.Username,
				"locked_until": until.Format(time.RFC3339),
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &user, nil
}

// Unlock 解除用户锁定并清零失败计数
func (s *UserService) Unlock(id uint, auditCtx *AuditContext) (*models.User, error) {
	var user models.User
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		user.LockedUntil = nil
		user.FailedLoginAttempts = 0

		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUserUnlocked, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username": user.Username,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return &user, nil
}

// ResetPassword 重置密码
func (s *UserService) ResetPassword(id uint, newPassword string, auditCtx *AuditContext) error {
	if err := s.ValidatePassword(newPassword); err != nil {
		return err
	}

	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		if err := user.SetPassword(newPassword); err != nil {
			return fmt.Errorf("密码加密失败: %v", err)
		}

		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionResetPassword, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username": user.Username,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// ========== 登录状态方法 ==========

// HandleLoginSuccess 登录成功：清零失败计数，记录登录时间
func (s *UserService) HandleLoginSuccess(user *models.User) error {
	now := time.Now()
	return s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login_at":         now,
		}).Error
}

// HandleLoginFailure 登录失败：累计失败次数，达到上限即锁定账号
// 锁定动作写入审计（系统动作，无操作人）
func (s *UserService) HandleLoginFailure(user *models.User, ip, userAgent string) error {
	cfg := config.GetConfig()

	attempts := user.FailedLoginAttempts + 1

	if attempts < cfg.Security.MaxLoginAttempts {
		return s.db.Model(&models.User{}).Where("id = ?", user.ID).
			Update("failed_login_attempts", attempts).Error
	}

	// 达到上限，锁定账号
	lockDuration, err := time.ParseDuration(cfg.Security.LockDuration)
	if err != nil {
		lockDuration = 30 * time.Minute
	}
	until := time.Now().Add(lockDuration)

	auditCtx := SystemAuditContext("login")
	auditCtx.IPAddress = ip
	auditCtx.UserAgent = userAgent

	var entry *models.AuditLog
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"failed_login_attempts": attempts,
				"locked_until":          until,
			}).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionUserLocked, models.AuditEntityUser,
			fmt.Sprintf("%d", user.ID), map[string]interface{}{
				"username":     user.Username,
				"attempts":     attempts,
				"locked_until": until.Format(time.RFC3339),
			})
		return s.audit.Record(tx, entry)
	})
	if txErr != nil {
		return txErr
	}

	s.audit.Publish(entry)
	return nil
}

// ========== 角色分配方法 ==========

// AssignRole 给用户指派规范化角色
// 幂等：重复指派同一角色不改变状态，但依旧写审计，
// 审计轨迹反映每一次管理动作，而不只是状态变化
func (s *UserService) AssignRole(userID, roleID uint, auditCtx *AuditContext) error {
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 角色必须存在
		var role models.Role
		if err := tx.First(&role, roleID).Error; err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: id=%d", ErrPrincipalNotFound, userID)
			}
			return err
		}

		var oldRoleID *uint
		if user.RoleID != nil {
			v := *user.RoleID
			oldRoleID = &v
		}

		user.RoleID = &roleID
		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry = NewAuditLog(auditCtx, models.AuditActionAssignRole, models.AuditEntityUser,
			fmt.Sprintf("%d", userID), map[string]interface{}{
				"username":    user.Username,
				"old_role_id": oldRoleID,
				"new_role_id": roleID,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return err
	}

	s.audit.Publish(entry)
	return nil
}

// BulkAssignResult 批量指派结果
type BulkAssignResult struct {
	Total   int                 `json:"total"`
	Success int                 `json:"success"`
	Failed  int                 `json:"failed"`
	Results []BulkAssignOutcome `json:"results"`
}

// BulkAssignOutcome 单个用户的指派结果
type BulkAssignOutcome struct {
	UserID uint   `json:"user_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BulkAssignRole 批量指派角色
// 逐个用户独立处理、失败继续：N个互不相关的用户没有整体回滚的意义。
// 每个成功的用户一条ASSIGN_ROLE审计，最后追加一条汇总审计
func (s *UserService) BulkAssignRole(userIDs []uint, roleID uint, auditCtx *AuditContext) (*BulkAssignResult, error) {
	// 角色只校验一次
	var role models.Role
	if err := s.db.First(&role, roleID).Error; err != nil {
		return nil, err
	}

	result := &BulkAssignResult{
		Total:   len(userIDs),
		Results: make([]BulkAssignOutcome, 0, len(userIDs)),
	}

	for _, userID := range userIDs {
		if err := s.AssignRole(userID, roleID, auditCtx); err != nil {
			result.Failed++
			result.Results = append(result.Results, BulkAssignOutcome{
				UserID: userID,
				OK:     false,
				Error:  err.Error(),
			})
			continue
		}
		result.Success++
		result.Results = append(result.Results, BulkAssignOutcome{
			UserID: userID,
			OK:     true,
		})
	}

	// 汇总审计独立成一条
	var entry *models.AuditLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry = NewAuditLog(auditCtx, models.AuditActionBulkAssignRoles, models.AuditEntityRole,
			fmt.Sprintf("%d", roleID), map[string]interface{}{
				"role":    role.Name,
				"total":   result.Total,
				"success": result.Success,
				"failed":  result.Failed,
			})
		return s.audit.Record(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	return result, nil
}

// ========== 验证相关方法 ==========

// ValidateUsername 验证用户名
func (s *UserService) ValidateUsername(username string) bool {
	if len(username) < 3 || len(username) > 50 {
		return false
	}
	// 检查是否只包含字母、数字和下划线
	for _, r := range username {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

// ValidateEmail 验证邮箱
func (s *UserService) ValidateEmail(email string) bool {
	return strings.Contains(email, "@") && strings.Contains(email, ".") && len(email) >= 5 && len(email) <= 100
}

// ValidatePassword 验证密码
func (s *UserService) ValidatePassword(password string) error {
	if len(password) < 6 {
		return fmt.Errorf("密码长度不能少于6位")
	}
	if len(password) > 50 {
		return fmt.Errorf("密码长度不能超过50位")
	}
	return nil
}

// ValidateFullName 验证姓名
func (s *UserService) ValidateFullName(fullName string) bool {
	runeCount := utf8.RuneCountInString(fullName)
	return runeCount >= 2 && runeCount <= 50
}

// ValidateCreateParams 验证创建用户的参数
func (s *UserService) ValidateCreateParams(username, email, password, fullName string) error {
	if !s.ValidateUsername(username) {
		return fmt.Errorf("用户名长度必须在3-50个字符之间，且只能包含字母、数字和下划线")
	}
	if !s.ValidateEmail(email) {
		return fmt.Errorf("邮箱格式不正确")
	}
	if err := s.ValidatePassword(password); err != nil {
		return err
	}
	if !s.ValidateFullName(fullName) {
		return fmt.Errorf("姓名长度必须在2-50个字符之间")
	}
	return nil
}

// ValidateUpdateParams 验证更新用户的参数
func (s *UserService) ValidateUpdateParams(fullName, email string) error {
	if !s.ValidateFullName(fullName) {
		return fmt.Errorf("姓名长度必须在2-50个字符之间")
	}
	if !s.ValidateEmail(email) {
		return fmt.Errorf("邮箱格式不正确")
	}
	return nil
}
