package services

import (
	"encoding/json"
	"errors"
	"testing"

	"chis/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewAuditLog_CopiesContextAndSerializesDetails(t *testing.T) {
	auditCtx := testAuditContext()

	entry := NewAuditLog(auditCtx, models.AuditActionCreateRole, models.AuditEntityRole, "7",
		map[string]interface{}{
			"name":        "doctor",
			"permissions": []string{"viewPatients"},
		})

	require.NotNil(t, entry.ActorUserID)
	assert.Equal(t, uint(1), *entry.ActorUserID)
	assert.Equal(t, "admin", entry.ActorName)
	assert.Equal(t, models.AuditActionCreateRole, entry.Action)
	assert.Equal(t, models.AuditEntityRole, entry.EntityType)
	assert.Equal(t, "7", entry.EntityID)
	assert.Equal(t, "127.0.0.1", entry.IPAddress)
	assert.Equal(t, "req-test-0001", entry.RequestID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "doctor", details["name"])
}

// 系统动作没有操作人，ActorUserID为nil，来源写入ActorName
func TestSystemAuditContext_NoActor(t *testing.T) {
	auditCtx := SystemAuditContext("login")

	assert.Nil(t, auditCtx.ActorUserID)
	assert.Equal(t, "login", auditCtx.ActorName)
}

func TestAuditRecord_PersistsInTransaction(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &AuditService{db: db}

	entry := NewAuditLog(testAuditContext(), models.AuditActionDeleteRole, models.AuditEntityRole, "7",
		map[string]interface{}{"name": "doctor"})

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Record(tx, entry)
	})

	assert.NoError(t, err)
	assert.Equal(t, uint(42), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 审计写入失败包装ErrAuditWrite返回，外层事务必须随之回滚
func TestAuditRecord_WriteFailureAbortsTransaction(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &AuditService{db: db}

	entry := NewAuditLog(testAuditContext(), models.AuditActionAssignRole, models.AuditEntityUser, "9", nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnError(errors.New("cannot execute INSERT in a read-only transaction"))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Record(tx, entry)
	})

	assert.ErrorIs(t, err, ErrAuditWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditGetWithPage_ScopedToOrganization(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &AuditService{db: db}

	principal := &models.Principal{
		UserID:               9,
		Username:             "lisi",
		ActiveOrganizationID: uintPtr(3),
		Active:               true,
	}

	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_logs" WHERE (.*)organization_id = \$(\d)`).
		WillReturnRows(countRows(1))
	mock.ExpectQuery(`SELECT \* FROM "audit_logs" WHERE (.*)organization_id = \$(\d)(.*)ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_name", "organization_id", "action", "entity_type", "entity_id"}).
			AddRow(12, "admin", 3, models.AuditActionAssignRole, models.AuditEntityUser, "9"))

	entries, total, err := svc.GetWithPage(principal, &AuditLogFilters{Action: models.AuditActionAssignRole}, 1, 20)

	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionAssignRole, entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 无当前机构的主体查询审计日志得到零行
func TestAuditGetWithPage_NoOrganizationSeesNothing(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &AuditService{db: db}

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		Active:   true,
	}

	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_logs" WHERE (.*)1 = 0`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`SELECT \* FROM "audit_logs" WHERE (.*)1 = 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entries, total, err := svc.GetWithPage(principal, nil, 1, 20)

	assert.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
