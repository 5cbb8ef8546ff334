package services

import (
	"fmt"
	"strings"
	"time"

	"chis/internal/database"
	"chis/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LabOrderService 检验单服务
// 与PatientService一样，所有查询强制经过机构范围过滤
type LabOrderService struct {
	db *gorm.DB
}

func NewLabOrderService() *LabOrderService {
	return &LabOrderService{
		db: database.GetDB(),
	}
}

// generateOrderNo 生成检验单号，如 LAB20250825A1B2C3D4
func generateOrderNo() string {
	return fmt.Sprintf("LAB%s%s",
		time.Now().Format("20060102"),
		strings.ToUpper(uuid.New().String()[:8]))
}

// Create 开检验单
// 患者必须在主体的机构范围内可见，检验单归属跟随患者所在机构
func (s *LabOrderService) Create(principal *models.Principal, patientID uint, testName string) (*models.LabOrder, error) {
	if testName == "" {
		return nil, fmt.Errorf("检验项目不能为空")
	}

	order := &models.LabOrder{
		PatientID: patientID,
		OrderNo:   generateOrderNo(),
		TestName:  testName,
		Status:    models.LabOrderStatusPending,
		OrderedBy: principal.UserID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := tx.Scopes(ScopeByOrganization(principal)).First(&patient, patientID).Error; err != nil {
			return err
		}

		order.OrganizationID = patient.OrganizationID
		return tx.Create(order).Error
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetByID 查询检验单
func (s *LabOrderService) GetByID(principal *models.Principal, id uint) (*models.LabOrder, error) {
	var order models.LabOrder
	err := s.db.Scopes(ScopeByOrganization(principal)).
		Preload("Patient").
		First(&order, id).Error
	return &order, err
}

// GetWithPage 分页查询检验单
func (s *LabOrderService) GetWithPage(principal *models.Principal, patientID *uint, status string, page, pageSize int) ([]*models.LabOrder, int64, error) {
	var orders []*models.LabOrder
	var total int64

	query := s.db.Model(&models.LabOrder{}).Scopes(ScopeByOrganization(principal))

	if patientID != nil {
		query = query.Where("patient_id = ?", *patientID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Preload("Patient").Order("id DESC").Offset(offset).Limit(pageSize).Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// Complete 录入检验结果，检验单转为已出报告
// 只有待采样状态的检验单可以出报告
func (s *LabOrderService) Complete(principal *models.Principal, id uint, resultSummary string) (*models.LabOrder, error) {
	var order models.LabOrder
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(ScopeByOrganization(principal)).First(&order, id).Error; err != nil {
			return err
		}

		if order.Status != models.LabOrderStatusPending {
			return fmt.Errorf("检验单状态为%s，不能出报告", order.Status)
		}

		now := time.Now()
		order.Status = models.LabOrderStatusCompleted
		order.ResultSummary = resultSummary
		order.ReportedAt = &now

		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// Cancel 作废检验单
func (s *LabOrderService) Cancel(principal *models.Principal, id uint) (*models.LabOrder, error) {
	var order models.LabOrder
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(ScopeByOrganization(principal)).First(&order, id).Error; err != nil {
			return err
		}

		if order.Status != models.LabOrderStatusPending {
			return fmt.Errorf("检验单状态为%s，不能作废", order.Status)
		}

		order.Status = models.LabOrderStatusCancelled
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	return &order, nil
}
