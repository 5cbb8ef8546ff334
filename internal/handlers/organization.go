package handlers

import (
	"errors"
	"strconv"
	"strings"

	"chis/internal/services"
	"chis/pkg/pagination"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateOrganizationRequest 请求结构体
type CreateOrganizationRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type UpdateOrganizationRequest struct {
	Name         string `json:"name"`
	LogoURL      string `json:"logo_url"`
	PrimaryColor string `json:"primary_color"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Address      string `json:"address"`
}

type AddMemberRequest struct {
	UserID    uint  `json:"user_id" binding:"required"`
	RoleID    *uint `json:"role_id"`
	IsDefault bool  `json:"is_default"`
}

type AssignMemberRoleRequest struct {
	RoleID uint `json:"role_id" binding:"required"`
}

type OrganizationHandler struct {
	service *services.OrganizationService
}

func NewOrganizationHandler(service *services.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{
		service: service,
	}
}

// ========== 基础CRUD方法 ==========

// Create 创建机构
func (h *OrganizationHandler) Create(c *gin.Context) {
	var req CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	organization, err := h.service.Create(req.Name, req.Code, buildAuditContext(c))
	if err != nil {
		if errors.Is(err, services.ErrDuplicateName) {
			response.BadRequest(c, err.Error())
			return
		}

		// 🔧 统一处理：验证错误 -> 400
		errMsg := err.Error()
		if strings.Contains(errMsg, "机构名称长度") || strings.Contains(errMsg, "机构代码长度") {
			response.BadRequest(c, errMsg)
			return
		}

		// 系统错误 -> 500
		response.ServerError(c, "创建失败")
		return
	}

	response.Success(c, organization)
}

// GetByID 获取机构
func (h *OrganizationHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	organization, err := h.service.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "机构不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, organization)
}

// GetAll 获取机构列表（支持分页）
func (h *OrganizationHandler) GetAll(c *gin.Context) {
	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	// 支持按状态筛选、关键词搜索
	status := c.Query("status")
	keyword := c.Query("keyword")

	organizations, total, err := h.service.GetWithFiltersAndPage(status, keyword, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, organizations, pageInfo)
}

// Update 更新机构信息（名称和品牌信息）
func (h *OrganizationHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req UpdateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	organization, err := h.service.Update(uint(id), req.Name, req.LogoURL, req.PrimaryColor, req.ContactEmail, req.ContactPhone, req.Address, buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "机构不存在")
			return
		}

		errMsg := err.Error()
		if strings.Contains(errMsg, "机构名称长度") {
			response.BadRequest(c, errMsg)
			return
		}

		response.ServerError(c, "更新失败")
		return
	}

	response.Success(c, organization)
}

// Activate 启用机构
func (h *OrganizationHandler) Activate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	organization, err := h.service.Activate(uint(id), buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "机构不存在")
			return
		}
		response.ServerError(c, "启用失败")
		return
	}

	response.SuccessWithMessage(c, "机构启用成功", organization)
}

// Deactivate 停用机构
func (h *OrganizationHandler) Deactivate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	organization, err := h.service.Deactivate(uint(id), buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "机构不存在")
			return
		}
		response.ServerError(c, "停用失败")
		return
	}

	response.SuccessWithMessage(c, "机构停用成功", organization)
}

// ========== 成员管理方法 ==========

// AddMember 添加机构成员
func (h *OrganizationHandler) AddMember(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	membership, err := h.service.AddMember(req.UserID, uint(id), req.RoleID, req.IsDefault, buildAuditContext(c))
	if err != nil {
		if errors.Is(err, services.ErrPrincipalNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "机构或角色不存在")
			return
		}
		if err.Error() == "用户已是该机构成员" {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "添加成员失败")
		return
	}

	response.Success(c, membership)
}

// RemoveMember 移除机构成员
func (h *OrganizationHandler) RemoveMember(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "用户ID格式错误")
		return
	}

	if err := h.service.RemoveMember(uint(userID), uint(id), buildAuditContext(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "成员关系不存在")
			return
		}
		response.ServerError(c, "移除成员失败")
		return
	}

	response.Success(c, nil)
}

// AssignMemberRole 设置成员在机构内的角色
func (h *OrganizationHandler) AssignMemberRole(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "用户ID格式错误")
		return
	}

	var req AssignMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if err := h.service.AssignMemberRole(uint(userID), uint(id), req.RoleID, buildAuditContext(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "成员关系或角色不存在")
			return
		}
		response.ServerError(c, "设置成员角色失败")
		return
	}

	response.Success(c, "成员角色设置成功")
}

// GetMembers 分页获取机构成员
func (h *OrganizationHandler) GetMembers(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	memberships, total, err := h.service.GetMembersWithPage(uint(id), pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, memberships, pageInfo)
}
