package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"chis/internal/middleware"
	"chis/internal/services"
	"chis/pkg/pagination"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CreatePatientRequest struct {
	MedicalRecordNo string     `json:"medical_record_no" binding:"required"`
	Name            string     `json:"name" binding:"required"`
	Gender          string     `json:"gender"`
	BirthDate       *time.Time `json:"birth_date"`
	Phone           string     `json:"phone"`
	Address         string     `json:"address"`
	OrganizationID  *uint      `json:"organization_id"`
}

type UpdatePatientRequest struct {
	Name      string     `json:"name" binding:"required"`
	Gender    string     `json:"gender"`
	BirthDate *time.Time `json:"birth_date"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
}

type PatientHandler struct {
	service *services.PatientService
}

func NewPatientHandler(service *services.PatientService) *PatientHandler {
	return &PatientHandler{
		service: service,
	}
}

// Create 患者建档
func (h *PatientHandler) Create(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	var req CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	patient, err := h.service.Create(principal, req.MedicalRecordNo, req.Name, req.Gender, req.BirthDate, req.Phone, req.Address, req.OrganizationID)
	if err != nil {
		if errors.Is(err, services.ErrDuplicateName) {
			response.BadRequest(c, err.Error())
			return
		}
		errMsg := err.Error()
		if errMsg == "未选择机构" || strings.Contains(errMsg, "不能为空") {
			response.BadRequest(c, errMsg)
			return
		}
		response.ServerError(c, "建档失败")
		return
	}

	response.Success(c, patient)
}

// GetByID 查询患者档案
func (h *PatientHandler) GetByID(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	patient, err := h.service.GetByID(principal, uint(id))
	if err != nil {
		// 范围之外的档案和不存在的档案对调用方是同一种结果
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "患者不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, patient)
}

// List 分页查询患者档案
func (h *PatientHandler) List(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	keyword := c.Query("keyword")

	patients, total, err := h.service.GetWithPage(principal, keyword, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, patients, pageInfo)
}

// Update 更新患者基本信息
func (h *PatientHandler) Update(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	patient, err := h.service.Update(principal, uint(id), req.Name, req.Gender, req.BirthDate, req.Phone, req.Address)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "患者不存在")
			return
		}
		if strings.Contains(err.Error(), "不能为空") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "更新失败")
		return
	}

	response.Success(c, patient)
}

// Delete 删除患者档案
func (h *PatientHandler) Delete(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	if err := h.service.Delete(principal, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "患者不存在")
			return
		}
		if strings.Contains(err.Error(), "不能删除") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "删除失败")
		return
	}

	response.Success(c, nil)
}
