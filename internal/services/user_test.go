package services

import (
	"testing"

	"chis/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newUserService(t *testing.T) (*UserService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTestDB(t)
	return &UserService{db: db, audit: &AuditService{db: db}}, mock
}

// roleID传nil表示用户尚无规范化角色
func userRows(id uint, username string, roleID interface{}) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "username", "email", "full_name", "status", "role_id", "failed_login_attempts"})
	rows.AddRow(id, username, username+"@clinic.local", "测试用户", models.UserStatusActive, roleID, 0)
	return rows
}

func TestUserCreate_DuplicateUsername(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE username = \$1`).
		WillReturnRows(countRows(1))

	_, err := svc.Create("zhangsan", "zhangsan@clinic.local", "secret123", "张三", nil, nil, nil, testAuditContext())

	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Contains(t, err.Error(), "zhangsan")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_UnknownRole(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE username = \$1`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE email = \$1`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "roles" WHERE id = \$1`).
		WillReturnRows(countRows(0))

	_, err := svc.Create("zhangsan", "zhangsan@clinic.local", "secret123", "张三", nil, uintPtr(99), nil, testAuditContext())

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_InvalidUsername(t *testing.T) {
	svc, mock := newUserService(t)

	_, err := svc.Create("a b", "a@clinic.local", "secret123", "张三", nil, nil, nil, testAuditContext())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "用户名长度")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 指派角色要求角色和用户都存在
func TestUserAssignRole_UserNotFound(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := svc.AssignRole(999, 5, testAuditContext())

	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserAssignRole_RoleNotFound(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := svc.AssignRole(9, 404, testAuditContext())

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserAssignRole_Success(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(userRows(9, "lisi", 3))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
	mock.ExpectCommit()

	err := svc.AssignRole(9, 5, testAuditContext())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 重复指派同一角色不改变状态，但依旧写审计：
// 审计轨迹反映每一次管理动作，而不只是状态变化
func TestUserAssignRole_RepeatStillAudited(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(userRows(9, "lisi", 5))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(201))
	mock.ExpectCommit()

	err := svc.AssignRole(9, 5, testAuditContext())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 批量指派逐个处理、失败继续，最后追加一条汇总审计
func TestUserBulkAssignRole_PartialFailure(t *testing.T) {
	svc, mock := newUserService(t)

	// 角色只校验一次
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))

	// 用户10指派成功
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(userRows(10, "wangwu", nil))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(210))
	mock.ExpectCommit()

	// 用户999不存在，该条失败但不中断
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	// 用户11指派成功
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(roleRows(5, "doctor", false))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(userRows(11, "zhaoliu", nil))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(211))
	mock.ExpectCommit()

	// 汇总审计独立成一条
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(212))
	mock.ExpectCommit()

	result, err := svc.BulkAssignRole([]uint{10, 999, 11}, 5, testAuditContext())

	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)
	assert.True(t, result.Results[0].OK)
	assert.False(t, result.Results[1].OK)
	assert.Contains(t, result.Results[1].Error, "用户不存在")
	assert.True(t, result.Results[2].OK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserBulkAssignRole_RoleNotFound(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectQuery(`SELECT \* FROM "roles" WHERE "roles"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.BulkAssignRole([]uint{10, 11}, 404, testAuditContext())

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 未达上限只累计失败次数
func TestUserHandleLoginFailure_BelowThreshold(t *testing.T) {
	svc, mock := newUserService(t)

	user := &models.User{
		BaseModel:           models.BaseModel{ID: 9},
		Username:            "lisi",
		FailedLoginAttempts: 1,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "failed_login_attempts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandleLoginFailure(user, "10.0.0.8", "curl/8.0")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 达到上限锁定账号，锁定动作作为系统动作写入审计
func TestUserHandleLoginFailure_LocksAtThreshold(t *testing.T) {
	svc, mock := newUserService(t)

	user := &models.User{
		BaseModel:           models.BaseModel{ID: 9},
		Username:            "lisi",
		FailedLoginAttempts: 4,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(220))
	mock.ExpectCommit()

	err := svc.HandleLoginFailure(user, "10.0.0.8", "curl/8.0")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserHandleLoginSuccess_ResetsCounters(t *testing.T) {
	svc, mock := newUserService(t)

	user := &models.User{
		BaseModel:           models.BaseModel{ID: 9},
		Username:            "lisi",
		FailedLoginAttempts: 3,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandleLoginSuccess(user)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 停用走事务并写USER_STATUS_CHANGE审计
func TestUserDeactivate_WritesAudit(t *testing.T) {
	svc, mock := newUserService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(userRows(9, "lisi", nil))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(230))
	mock.ExpectCommit()

	user, err := svc.Deactivate(9, testAuditContext())

	require.NoError(t, err)
	assert.Equal(t, models.UserStatusInactive, user.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserResetPassword_TooShort(t *testing.T) {
	svc, mock := newUserService(t)

	err := svc.ResetPassword(9, "123", testAuditContext())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "密码长度")
	assert.NoError(t, mock.ExpectationsWereMet())
}
