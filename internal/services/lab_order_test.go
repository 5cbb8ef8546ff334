package services

import (
	"strings"
	"testing"

	"chis/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func labOrderRows(id, organizationID, patientID uint, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "organization_id", "patient_id", "order_no", "test_name", "status", "ordered_by"}).
		AddRow(id, organizationID, patientID, "LAB20250825AB12CD34", "血常规", status, 9)
}

// 检验单归属跟随患者所在机构，开单人取自主体
func TestLabOrderCreate_InheritsPatientOrganization(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "patients" WHERE "patients"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(patientRows(42, 3, "MRN-0042", "王五"))
	mock.ExpectQuery(`INSERT INTO "lab_orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectCommit()

	order, err := svc.Create(clinicPrincipal(3), 42, "血常规")

	require.NoError(t, err)
	assert.Equal(t, uint(77), order.ID)
	assert.Equal(t, uint(3), order.OrganizationID)
	assert.Equal(t, uint(9), order.OrderedBy)
	assert.Equal(t, models.LabOrderStatusPending, order.Status)
	assert.True(t, strings.HasPrefix(order.OrderNo, "LAB"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 患者在范围外时开单失败，表现与患者不存在一致
func TestLabOrderCreate_PatientOutOfScope(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "patients" WHERE "patients"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := svc.Create(clinicPrincipal(3), 42, "血常规")

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabOrderCreate_EmptyTestName(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	_, err := svc.Create(clinicPrincipal(3), 42, "")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "检验项目不能为空")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabOrderComplete_Success(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lab_orders" WHERE "lab_orders"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(labOrderRows(77, 3, 42, models.LabOrderStatusPending))
	mock.ExpectExec(`UPDATE "lab_orders" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.Complete(clinicPrincipal(3), 77, "白细胞计数正常")

	require.NoError(t, err)
	assert.Equal(t, models.LabOrderStatusCompleted, order.Status)
	assert.Equal(t, "白细胞计数正常", order.ResultSummary)
	assert.NotNil(t, order.ReportedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 只有待采样状态可以出报告
func TestLabOrderComplete_AlreadyCompleted(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lab_orders" WHERE "lab_orders"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(labOrderRows(77, 3, 42, models.LabOrderStatusCompleted))
	mock.ExpectRollback()

	_, err := svc.Complete(clinicPrincipal(3), 77, "重复录入")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "不能出报告")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabOrderCancel_Success(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lab_orders" WHERE "lab_orders"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(labOrderRows(77, 3, 42, models.LabOrderStatusPending))
	mock.ExpectExec(`UPDATE "lab_orders" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.Cancel(clinicPrincipal(3), 77)

	require.NoError(t, err)
	assert.Equal(t, models.LabOrderStatusCancelled, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabOrderCancel_AlreadyCancelled(t *testing.T) {
	db, mock := newTestDB(t)
	svc := &LabOrderService{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lab_orders" WHERE "lab_orders"\."id" = \$1 AND organization_id = \$2`).
		WillReturnRows(labOrderRows(77, 3, 42, models.LabOrderStatusCancelled))
	mock.ExpectRollback()

	_, err := svc.Cancel(clinicPrincipal(3), 77)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "不能作废")
	assert.NoError(t, mock.ExpectationsWereMet())
}
