package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 在sqlmock连接上打开GORM会话，SQL期望由调用方声明
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func testAuditContext() *AuditContext {
	actorID := uint(1)
	orgID := uint(1)
	return &AuditContext{
		ActorUserID:    &actorID,
		ActorName:      "admin",
		OrganizationID: &orgID,
		IPAddress:      "127.0.0.1",
		UserAgent:      "go-test",
		RequestID:      "req-test-0001",
	}
}

func uintPtr(v uint) *uint {
	return &v
}

func countRows(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func permissionNameRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	return rows
}
