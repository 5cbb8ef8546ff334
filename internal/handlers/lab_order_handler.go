package handlers

import (
	"errors"
	"strconv"
	"strings"

	"chis/internal/middleware"
	"chis/internal/services"
	"chis/pkg/pagination"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CreateLabOrderRequest struct {
	PatientID uint   `json:"patient_id" binding:"required"`
	TestName  string `json:"test_name" binding:"required"`
}

type CompleteLabOrderRequest struct {
	ResultSummary string `json:"result_summary" binding:"required"`
}

type LabOrderHandler struct {
	service *services.LabOrderService
}

func NewLabOrderHandler(service *services.LabOrderService) *LabOrderHandler {
	return &LabOrderHandler{
		service: service,
	}
}

// Create 开检验单
func (h *LabOrderHandler) Create(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	var req CreateLabOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	order, err := h.service.Create(principal, req.PatientID, req.TestName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "患者不存在")
			return
		}
		if strings.Contains(err.Error(), "不能为空") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "开单失败")
		return
	}

	response.Success(c, order)
}

// GetByID 查询检验单
func (h *LabOrderHandler) GetByID(c *gin.Context) {
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

	order, err := h.service.GetByID(principal, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "检验单不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, order)
}

// List 分页查询检验单
func (h *LabOrderHandler) List(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	status := c.Query("status")

	var patientID *uint
	if patientIDStr := c.Query("patient_id"); patientIDStr != "" {
		parsed, err := strconv.ParseUint(patientIDStr, 10, 32)
		if err != nil {
			response.BadRequest(c, "患者ID格式错误")
			return
		}
		id := uint(parsed)
		patientID = &id
	}

	orders, total, err := h.service.GetWithPage(principal, patientID, status, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, orders, pageInfo)
}

// Complete 录入检验结果
func (h *LabOrderHandler) Complete(c *gin.Context) {
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

	var req CompleteLabOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	order, err := h.service.Complete(principal, uint(id), req.ResultSummary)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "检验单不存在")
			return
		}
		if strings.Contains(err.Error(), "不能出报告") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "操作失败")
		return
	}

	response.Success(c, order)
}

// Cancel 作废检验单
func (h *LabOrderHandler) Cancel(c *gin.Context) {
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

	order, err := h.service.Cancel(principal, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "检验单不存在")
			return
		}
		if strings.Contains(err.Error(), "不能作废") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "操作失败")
		return
	}

	response.Success(c, order)
}
