package services

import (
	"errors"
	"testing"
	"time"

	"chis/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizerResolve_NilPrincipal(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	set, err := svc.Resolve(nil)

	assert.NoError(t, err)
	assert.Empty(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_InactivePrincipal(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "zhangsan",
		RoleID:   uintPtr(5),
		Active:   false,
	}

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.Empty(t, set)
	// 停用主体不应产生任何查询
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_LockedPrincipal(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	until := time.Now().Add(30 * time.Minute)
	principal := &models.Principal{
		UserID:      9,
		Username:    "zhangsan",
		RoleID:      uintPtr(5),
		Active:      true,
		LockedUntil: &until,
	}

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.Empty(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_ExpiredLockIgnored(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	until := time.Now().Add(-time.Minute)
	principal := &models.Principal{
		UserID:      9,
		Username:    "zhangsan",
		RoleID:      uintPtr(5),
		Active:      true,
		LockedUntil: &until,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewPatients"))

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.True(t, set.Has("viewPatients"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_LegacySuperadminFullCatalog(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:      1,
		Username:    "admin",
		LegacyRole:  models.LegacyRoleSuperadmin,
		Active:      true,
		ScopeExempt: true,
	}

	mock.ExpectQuery(`SELECT "name" FROM "permissions"`).
		WillReturnRows(permissionNameRows("viewPatients", "createLabOrder", "manageRoles"))

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.Len(t, set, 3)
	assert.True(t, set.Has("manageRoles"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 历史特权角色先于规范化角色生效：带legacy admin的用户
// 即使持有受限的规范化角色，解析结果仍是完整目录
func TestAuthorizerResolve_LegacyAdminPrecedesRole(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:     2,
		Username:   "oldadmin",
		LegacyRole: models.LegacyRoleAdmin,
		RoleID:     uintPtr(5),
		Active:     true,
	}

	// 命中的是目录全量查询，而不是role_permissions关联查询
	mock.ExpectQuery(`SELECT "name" FROM "permissions"`).
		WillReturnRows(permissionNameRows("viewPatients", "deletePatients"))

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.True(t, set.Has("deletePatients"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_RolePermissions(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   uintPtr(5),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewPatients", "createLabOrder"))

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.True(t, set.Has("viewPatients"))
	assert.True(t, set.Has("createLabOrder"))
	assert.False(t, set.Has("deletePatients"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 零授权的角色是合法状态：解析得到空集，不是错误
func TestAuthorizerResolve_EmptyRoleDeniesAll(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   uintPtr(6),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows())

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.Empty(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 无任何角色的主体解析为空集，"已登录"本身不授予权限
func TestAuthorizerResolve_NoRoleFailsClosed(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		Active:   true,
	}

	set, err := svc.Resolve(principal)

	assert.NoError(t, err)
	assert.Empty(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerResolve_QueryError(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   uintPtr(5),
		Active:   true,
	}

	queryErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnError(queryErr)

	_, err := svc.Resolve(principal)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 权限不足返回(false, nil)：拒绝是正常结果，不是错误
func TestAuthorizerAuthorize_DeniedIsNotError(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   uintPtr(5),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewPatients"))

	allowed, err := svc.Authorize(principal, "deletePatients")

	assert.NoError(t, err)
	assert.False(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizerAuthorize_Granted(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   uintPtr(5),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewPatients", "createLabOrder"))

	allowed, err := svc.Authorize(principal, "createLabOrder")

	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 角色授权变更在下一次判定立即生效：每次判定都查库，没有任何缓存
func TestAuthorizerAuthorize_RevokeTakesImmediateEffect(t *testing.T) {
	db, mock := newTestDB(t)
	svc := NewAuthorizerService(db)

	principal := &models.Principal{
		UserID:   12,
		Username: "tech01",
		RoleID:   uintPtr(7),
		Active:   true,
	}

	// 第一次判定：角色持有editLabResults
	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewLabResults", "editLabResults"))
	// 第二次判定：该权限已被收回
	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(permissionNameRows("viewLabResults"))

	allowed, err := svc.Authorize(principal, "editLabResults")
	assert.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = svc.Authorize(principal, "editLabResults")
	assert.NoError(t, err)
	assert.False(t, allowed)

	assert.NoError(t, mock.ExpectationsWereMet())
}
