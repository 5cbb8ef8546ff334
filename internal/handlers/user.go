package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chis/internal/services"
	"chis/pkg/pagination"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Username       string  `json:"username" binding:"required,min=3,max=50"`
	Email          string  `json:"email" binding:"required,email"`
	Password       string  `json:"password" binding:"required,min=6,max=50"`
	FullName       string  `json:"full_name" binding:"required,min=2,max=50"`
	Phone          *string `json:"phone"`
	RoleID         *uint   `json:"role_id"`
	OrganizationID *uint   `json:"organization_id"`
}

type UpdateUserRequest struct {
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type AssignRoleRequest struct {
	RoleID uint `json:"role_id" binding:"required"`
}

type BulkAssignRoleRequest struct {
	UserIDs []uint `json:"user_ids" binding:"required"`
	RoleID  uint   `json:"role_id" binding:"required"`
}

type UserHandler struct {
	service             *services.UserService
	organizationService *services.OrganizationService
}

func NewUserHandler(service *services.UserService, organizationService *services.OrganizationService) *UserHandler {
	return &UserHandler{
		service:             service,
		organizationService: organizationService,
	}
}

// ========== 基础CRUD方法 ==========

// Create 创建用户
func (h *UserHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 解析验证错误，提供更友好的提示
		if validationErr, ok := err.(validator.ValidationErrors); ok {
			errorMsg := "参数验证失败"
			for _, fieldErr := range validationErr {
				switch fieldErr.Field() {
				case "Username":
					errorMsg = "用户名不能为空，且长度在3-50个字符之间"
				case "Email":
					errorMsg = "邮箱格式不正确"
				case "Password":
					errorMsg = "密码长度必须在6-50个字符之间"
				case "FullName":
					errorMsg = "姓名不能为空，且长度在2-50个字符之间"
				default:
					errorMsg = fmt.Sprintf("字段 %s 验证失败", fieldErr.Field())
				}
				break // 只返回第一个错误
			}
			response.BadRequest(c, errorMsg)
			return
		}
		response.BadRequest(c, "请求参数格式错误")
		return
	}

	user, err := h.service.Create(req.Username, req.Email, req.Password, req.FullName, req.Phone, req.RoleID, req.OrganizationID, buildAuditContext(c))
	if err != nil {
		errMsg := err.Error()

		// 🚨 统一处理：所有参数验证错误 -> 400
		if strings.Contains(errMsg, "用户名长度") ||
			strings.Contains(errMsg, "邮箱格式") ||
			strings.Contains(errMsg, "密码长度") ||
			strings.Contains(errMsg, "姓名长度") {
			response.BadRequest(c, errMsg)
			return
		}

		// 🚨 统一处理：所有业务逻辑错误 -> 400
		if errors.Is(err, services.ErrDuplicateName) || errMsg == "机构不存在" {
			response.BadRequest(c, errMsg)
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.BadRequest(c, "角色不存在")
			return
		}

		// 系统错误 -> 500
		response.ServerError(c, "创建失败")
		return
	}

	response.Success(c, user)
}

// GetByID 获取用户
func (h *UserHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	user, err := h.service.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, user)
}

// List 获取用户列表（支持分页和筛选）
func (h *UserHandler) List(c *gin.Context) {
	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	// 筛选条件
	status := c.Query("status")
	keyword := c.Query("keyword")

	var organizationID *uint
	if orgIDStr := c.Query("organization_id"); orgIDStr != "" {
		orgID, err := strconv.ParseUint(orgIDStr, 10, 32)
		if err != nil {
			response.BadRequest(c, "机构ID格式错误")
			return
		}
		id := uint(orgID)
		organizationID = &id
	}

	users, total, err := h.service.GetWithFiltersAndPage(organizationID, status, keyword, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, users, pageInfo)
}

// Update 更新用户基本信息
func (h *UserHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	user, err := h.service.Update(uint(id), req.FullName, req.Email, req.Phone, buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		if errors.Is(err, services.ErrDuplicateName) {
			response.BadRequest(c, err.Error())
			return
		}

		errMsg := err.Error()
		if strings.Contains(errMsg, "邮箱格式") || strings.Contains(errMsg, "姓名长度") {
			response.BadRequest(c, errMsg)
			return
		}

		response.ServerError(c, "更新失败")
		return
	}

	response.Success(c, user)
}

// Delete 删除用户
func (h *UserHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	if err := h.service.Delete(uint(id), buildAuditContext(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "删除失败")
		return
	}

	response.Success(c, nil)
}

// ========== 状态管理方法 ==========

// Activate 激活用户
func (h *UserHandler) Activate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	user, err := h.service.Activate(uint(id), buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "操作失败")
		return
	}

	response.Success(c, user)
}

// Deactivate 停用用户
func (h *UserHandler) Deactivate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	user, err := h.service.Deactivate(uint(id), buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "操作失败")
		return
	}

	response.Success(c, user)
}

// Unlock 解除用户锁定
func (h *UserHandler) Unlock(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	user, err := h.service.Unlock(uint(id), buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "操作失败")
		return
	}

	response.Success(c, user)
}

// ResetPassword 重置用户密码
func (h *UserHandler) ResetPassword(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if err := h.service.ResetPassword(uint(id), req.NewPassword, buildAuditContext(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		if strings.Contains(err.Error(), "密码长度") {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "重置密码失败")
		return
	}

	response.Success(c, "密码重置成功")
}

// ========== 角色分配方法 ==========

// AssignRole 给用户指派角色
func (h *UserHandler) AssignRole(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if err := h.service.AssignRole(uint(id), req.RoleID, buildAuditContext(c)); err != nil {
		if errors.Is(err, services.ErrPrincipalNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "角色不存在")
			return
		}
		response.ServerError(c, "指派角色失败")
		return
	}

	response.Success(c, "角色指派成功")
}

// BulkAssignRole 批量指派角色
// 逐个处理，单个失败不影响其他用户，返回每个用户的处理结果
func (h *UserHandler) BulkAssignRole(c *gin.Context) {
	var req BulkAssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if len(req.UserIDs) == 0 {
		response.BadRequest(c, "用户列表不能为空")
		return
	}

	result, err := h.service.BulkAssignRole(req.UserIDs, req.RoleID, buildAuditContext(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "角色不存在")
			return
		}
		response.ServerError(c, "批量指派失败")
		return
	}

	response.Success(c, result)
}

// ========== 机构成员关系 ==========

// GetOrganizations 获取用户的机构成员关系列表
func (h *UserHandler) GetOrganizations(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	// 用户必须存在
	if _, err := h.service.GetByID(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "用户不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	memberships, err := h.organizationService.GetUserMemberships(uint(id))
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, memberships)
}
