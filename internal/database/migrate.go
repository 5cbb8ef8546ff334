package database

import (
	"chis/internal/models"
	"chis/pkg/logger"
)

// Migrate 执行数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		&models.Organization{},
		&models.Permission{},
		&models.Role{},
		&models.RolePermission{},
		&models.User{},
		&models.UserOrganization{},
		&models.AuditLog{},
		// 临床边界实体
		&models.Patient{},
		&models.LabOrder{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	// 每个用户至多一个默认机构（部分唯一索引，AutoMigrate表达不了）
	err = DB.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_default_organization
		ON user_organizations (user_id) WHERE is_default`).Error
	if err != nil {
		appLogger.Errorf("Create partial unique index failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")

	// 种子数据初始化将在 main.go 中单独调用，避免循环依赖

	return nil
}
