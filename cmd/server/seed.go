package main

import (
	"fmt"

	"chis/internal/database"
	"chis/internal/models"
	"chis/pkg/logger"

	"gorm.io/gorm"
)

// seedData 初始化种子数据
func seedData() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := database.GetDB()

	// 1. 创建默认机构
	if err := createDefaultOrganization(db); err != nil {
		return fmt.Errorf("创建默认机构失败: %v", err)
	}

	// 2. 初始化权限目录
	if err := initializePermissions(db); err != nil {
		return fmt.Errorf("初始化权限失败: %v", err)
	}

	// 3. 创建系统角色和常用角色
	if err := createDefaultRoles(db); err != nil {
		return fmt.Errorf("创建默认角色失败: %v", err)
	}

	// 4. 创建默认超级管理员用户
	if err := createDefaultSuperadmin(db); err != nil {
		return fmt.Errorf("创建默认超级管理员失败: %v", err)
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// createDefaultOrganization 创建默认机构
func createDefaultOrganization(db *gorm.DB) error {
	var count int64
	db.Model(&models.Organization{}).Where("code = ?", "main").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("默认机构已存在，跳过创建")
		return nil
	}

	organization := &models.Organization{
		Name:   "总院",
		Code:   "main",
		Status: models.OrganizationStatusActive,
	}

	if err := db.Create(organization).Error; err != nil {
		return err
	}

	logger.GetLogger().Info("默认机构创建成功")
	return nil
}

// initializePermissions 初始化权限目录
// 权限名是稳定键，这里只增不改：已存在的权限跳过
func initializePermissions(db *gorm.DB) error {
	defaultPermissions := []models.Permission{
		// 患者管理权限
		{Name: "viewPatients", Description: "查看患者档案", Module: models.ModulePatient, Action: models.ActionView},
		{Name: "createPatients", Description: "患者建档", Module: models.ModulePatient, Action: models.ActionCreate},
		{Name: "editPatients", Description: "更新患者信息", Module: models.ModulePatient, Action: models.ActionEdit},
		{Name: "deletePatients", Description: "删除患者档案", Module: models.ModulePatient, Action: models.ActionDelete},

		// 就诊管理权限
		{Name: "viewVisits", Description: "查看就诊记录", Module: models.ModuleVisit, Action: models.ActionView},
		{Name: "createVisits", Description: "登记就诊", Module: models.ModuleVisit, Action: models.ActionCreate},
		{Name: "editVisits", Description: "更新就诊记录", Module: models.ModuleVisit, Action: models.ActionEdit},

		// 预约管理权限
		{Name: "viewAppointments", Description: "查看预约", Module: models.ModuleAppointment, Action: models.ActionView},
		{Name: "manageAppointments", Description: "管理预约", Module: models.ModuleAppointment, Action: models.ActionManage},

		// 检验管理权限
		{Name: "createLabOrder", Description: "开检验单", Module: models.ModuleLab, Action: models.ActionCreate},
		{Name: "viewLabResults", Description: "查看检验结果", Module: models.ModuleLab, Action: models.ActionView},
		{Name: "editLabResults", Description: "录入检验结果", Module: models.ModuleLab, Action: models.ActionEdit},

		// 处方管理权限
		{Name: "viewPrescriptions", Description: "查看处方", Module: models.ModulePrescription, Action: models.ActionView},
		{Name: "createPrescriptions", Description: "开具处方", Module: models.ModulePrescription, Action: models.ActionCreate},

		// 收费管理权限
		{Name: "viewBilling", Description: "查看收费记录", Module: models.ModuleBilling, Action: models.ActionView},
		{Name: "manageBilling", Description: "管理收费", Module: models.ModuleBilling, Action: models.ActionManage},

		// 用户管理权限
		{Name: "viewUsers", Description: "查看用户", Module: models.ModuleUser, Action: models.ActionView},
		{Name: "createUsers", Description: "创建用户", Module: models.ModuleUser, Action: models.ActionCreate},
		{Name: "editUsers", Description: "更新用户信息和状态", Module: models.ModuleUser, Action: models.ActionEdit},
		{Name: "deleteUsers", Description: "删除用户", Module: models.ModuleUser, Action: models.ActionDelete},
		{Name: "manageUsers", Description: "指派角色和重置密码", Module: models.ModuleUser, Action: models.ActionManage},

		// 角色管理权限
		{Name: "viewRoles", Description: "查看角色和权限目录", Module: models.ModuleRole, Action: models.ActionView},
		{Name: "manageRoles", Description: "创建、修改、删除角色及其权限", Module: models.ModuleRole, Action: models.ActionManage},

		// 机构管理权限
		{Name: "viewOrganizations", Description: "查看机构和成员", Module: models.ModuleOrganization, Action: models.ActionView},
		{Name: "manageOrganizations", Description: "更新机构信息", Module: models.ModuleOrganization, Action: models.ActionManage},
		{Name: "manageMembers", Description: "管理机构成员", Module: models.ModuleOrganization, Action: models.ActionManage},

		// 审计日志权限
		{Name: "viewAuditLogs", Description: "查看审计日志", Module: models.ModuleAudit, Action: models.ActionView},
	}

	// 批量创建权限
	for _, perm := range defaultPermissions {
		var count int64
		db.Model(&models.Permission{}).Where("name = ?", perm.Name).Count(&count)
		if count == 0 {
			if err := db.Create(&perm).Error; err != nil {
				return fmt.Errorf("创建权限 %s 失败: %v", perm.Name, err)
			}
		}
	}

	logger.GetLogger().Info("权限目录初始化完成")
	return nil
}

// createDefaultRoles 创建系统角色和常用岗位角色
func createDefaultRoles(db *gorm.DB) error {
	// 超级管理员：系统角色，持有全部权限
	if err := createRoleWithPermissions(db, models.RoleSuperadmin, "平台超级管理员", true, nil); err != nil {
		return err
	}

	// 常用岗位角色（非系统角色，管理员可自由调整）
	starterRoles := []struct {
		name        string
		description string
		permissions []string
	}{
		{
			name:        "clinic_admin",
			description: "诊所管理员",
			permissions: []string{
				"viewPatients", "createPatients", "editPatients", "deletePatients",
				"viewVisits", "viewAppointments", "manageAppointments",
				"viewLabResults", "viewPrescriptions", "viewBilling", "manageBilling",
				"viewUsers", "createUsers", "editUsers", "manageUsers",
				"viewRoles", "viewOrganizations", "manageMembers", "viewAuditLogs",
			},
		},
		{
			name:        "physician",
			description: "医师",
			permissions: []string{
				"viewPatients", "createPatients", "editPatients",
				"viewVisits", "createVisits", "editVisits", "viewAppointments",
				"createLabOrder", "viewLabResults",
				"viewPrescriptions", "createPrescriptions",
			},
		},
		{
			name:        "nurse",
			description: "护士",
			permissions: []string{
				"viewPatients", "viewVisits", "viewAppointments", "viewLabResults",
			},
		},
		{
			name:        "lab_technician",
			description: "检验技师",
			permissions: []string{
				"viewPatients", "createLabOrder", "viewLabResults", "editLabResults",
			},
		},
		{
			name:        "receptionist",
			description: "前台",
			permissions: []string{
				"viewPatients", "createPatients",
				"viewAppointments", "manageAppointments", "viewBilling",
			},
		},
		{
			name:        "billing_clerk",
			description: "收费员",
			permissions: []string{
				"viewPatients", "viewBilling", "manageBilling",
			},
		},
	}

	for _, r := range starterRoles {
		if err := createRoleWithPermissions(db, r.name, r.description, false, r.permissions); err != nil {
			return err
		}
	}

	logger.GetLogger().Info("默认角色初始化完成")
	return nil
}

// createRoleWithPermissions 创建角色并授权
// permissionNames为nil表示授予目录中的全部权限
func createRoleWithPermissions(db *gorm.DB, name, description string, isSystem bool, permissionNames []string) error {
	var count int64
	db.Model(&models.Role{}).Where("name = ?", name).Count(&count)
	if count > 0 {
		return nil
	}

	role := &models.Role{
		Name:        name,
		Description: description,
		IsSystem:    isSystem,
	}

	if err := db.Create(role).Error; err != nil {
		return err
	}

	// 查出要授予的权限
	var permissions []models.Permission
	query := db.Model(&models.Permission{})
	if permissionNames != nil {
		query = query.Where("name IN ?", permissionNames)
	}
	if err := query.Find(&permissions).Error; err != nil {
		return err
	}

	var rolePermissions []models.RolePermission
	for _, perm := range permissions {
		rolePermissions = append(rolePermissions, models.RolePermission{
			RoleID:       role.ID,
			PermissionID: perm.ID,
		})
	}

	if len(rolePermissions) > 0 {
		if err := db.Create(&rolePermissions).Error; err != nil {
			return err
		}
	}

	return nil
}

// createDefaultSuperadmin 创建默认超级管理员用户
func createDefaultSuperadmin(db *gorm.DB) error {
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("超级管理员用户已存在，跳过创建")
		return nil
	}

	// 获取默认机构
	var organization models.Organization
	if err := db.Where("code = ?", "main").First(&organization).Error; err != nil {
		return fmt.Errorf("获取默认机构失败: %v", err)
	}

	// 获取超级管理员角色
	var role models.Role
	if err := db.Where("name = ?", models.RoleSuperadmin).First(&role).Error; err != nil {
		return fmt.Errorf("获取超级管理员角色失败: %v", err)
	}

	// 创建用户：同时持有历史角色字符串和规范化角色
	user := &models.User{
		Username:       "admin",
		Email:          "admin@example.com",
		FullName:       "系统管理员",
		Status:         models.UserStatusActive,
		LegacyRole:     models.LegacyRoleSuperadmin,
		RoleID:         &role.ID,
		OrganizationID: &organization.ID,
	}

	// 设置密码
	if err := user.SetPassword("Admin@123"); err != nil {
		return fmt.Errorf("设置密码失败: %v", err)
	}

	if err := db.Create(user).Error; err != nil {
		return err
	}

	logger.GetLogger().Info("超级管理员用户创建成功（用户名: admin，请尽快修改初始密码）")
	return nil
}
