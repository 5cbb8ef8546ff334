package services

import (
	"fmt"
	"time"

	"chis/internal/database"
	"chis/internal/models"

	"gorm.io/gorm"
)

// PatientService 患者档案服务
// 每个查询都必须带上ScopeByOrganization：机构范围过滤是强制规则，
// 不是调用方可选的参数
type PatientService struct {
	db *gorm.DB
}

func NewPatientService() *PatientService {
	return &PatientService{
		db: database.GetDB(),
	}
}

// resolveOrganizationID 确定新档案的归属机构
// 普通主体只能写入当前机构；范围豁免的主体可以显式指定机构
func resolveOrganizationID(principal *models.Principal, organizationID *uint) (uint, error) {
	if principal.ScopeExempt && organizationID != nil {
		return *organizationID, nil
	}
	if principal.ActiveOrganizationID == nil {
		return 0, fmt.Errorf("未选择机构")
	}
	return *principal.ActiveOrganizationID, nil
}

// Create 患者建档
// 病历号在机构内唯一，跨机构允许重复
func (s *PatientService) Create(principal *models.Principal, medicalRecordNo, name, gender string, birthDate *time.Time, phone, address string, organizationID *uint) (*models.Patient, error) {
	if medicalRecordNo == "" || name == "" {
		return nil, fmt.Errorf("病历号和姓名不能为空")
	}

	orgID, err := resolveOrganizationID(principal, organizationID)
	if err != nil {
		return nil, err
	}

	// 机构内病历号查重
	var count int64
	s.db.Model(&models.Patient{}).
		Where("organization_id = ? AND medical_record_no = ?", orgID, medicalRecordNo).
		Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("%w: 病历号 %s", ErrDuplicateName, medicalRecordNo)
	}

	patient := &models.Patient{
		OrganizationID:  orgID,
		MedicalRecordNo: medicalRecordNo,
		Name:            name,
		Gender:          gender,
		BirthDate:       birthDate,
		Phone:           phone,
		Address:         address,
	}

	if err := s.db.Create(patient).Error; err != nil {
		return nil, err
	}

	return patient, nil
}

// GetByID 查询患者档案
// 范围之外的档案返回ErrRecordNotFound，对调用方不可见
func (s *PatientService) GetByID(principal *models.Principal, id uint) (*models.Patient, error) {
	var patient models.Patient
	err := s.db.Scopes(ScopeByOrganization(principal)).First(&patient, id).Error
	return &patient, err
}

// GetWithPage 分页查询患者档案
func (s *PatientService) GetWithPage(principal *models.Principal, keyword string, page, pageSize int) ([]*models.Patient, int64, error) {
	var patients []*models.Patient
	var total int64

	query := s.db.Model(&models.Patient{}).Scopes(ScopeByOrganization(principal))

	if keyword != "" {
		searchPattern := fmt.Sprintf("%%%s%%", keyword)
		query = query.Where("name LIKE ? OR medical_record_no LIKE ? OR phone LIKE ?",
			searchPattern, searchPattern, searchPattern)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.Order("id").Offset(offset).Limit(pageSize).Find(&patients).Error
	if err != nil {
		return nil, 0, err
	}

	return patients, total, nil
}

// Update 更新患者基本信息
func (s *PatientService) Update(principal *models.Principal, id uint, name, gender string, birthDate *time.Time, phone, address string) (*models.Patient, error) {
	if name == "" {
		return nil, fmt.Errorf("姓名不能为空")
	}

	var patient models.Patient
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(ScopeByOrganization(principal)).First(&patient, id).Error; err != nil {
			return err
		}

		patient.Name = name
		patient.Gender = gender
		patient.BirthDate = birthDate
		patient.Phone = phone
		patient.Address = address

		return tx.Save(&patient).Error
	})
	if err != nil {
		return nil, err
	}

	return &patient, nil
}

// Delete 删除患者档案
// 仍有检验单的档案不允许删除
func (s *PatientService) Delete(principal *models.Principal, id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := tx.Scopes(ScopeByOrganization(principal)).First(&patient, id).Error; err != nil {
			return err
		}

		var orderCount int64
		if err := tx.Model(&models.LabOrder{}).Where("patient_id = ?", id).Count(&orderCount).Error; err != nil {
			return err
		}
		if orderCount > 0 {
			return fmt.Errorf("患者仍有%d张检验单，不能删除", orderCount)
		}

		return tx.Delete(&models.Patient{}, id).Error
	})
}
