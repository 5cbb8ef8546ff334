package handlers

import (
	"errors"

	"chis/internal/services"
	"chis/pkg/pagination"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	service *services.PermissionService
}

func NewPermissionHandler(service *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{
		service: service,
	}
}

type CreatePermissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Module      string `json:"module" binding:"required"`
	Action      string `json:"action" binding:"required"`
}

// GetAll 获取所有权限（支持分页）
func (h *PermissionHandler) GetAll(c *gin.Context) {
	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	// 支持按模块筛选
	module := c.Query("module")

	permissions, total, err := h.service.GetWithPage(module, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, permissions, pageInfo)
}

// GetByModule 根据模块获取权限
func (h *PermissionHandler) GetByModule(c *gin.Context) {
	module := c.Param("module")
	if module == "" {
		response.BadRequest(c, "模块名称不能为空")
		return
	}

	// 使用统一的分页方法，只是不传分页参数
	permissions, _, err := h.service.GetWithPage(module, 1, 1000) // 获取该模块的所有权限
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, permissions)
}

// GetGrouped 按模块分组获取全部权限（用于角色编辑界面）
func (h *PermissionHandler) GetGrouped(c *gin.Context) {
	grouped, err := h.service.GetByModule()
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, grouped)
}

// Create 注册新权限
// 权限目录主要由种子数据维护，这个入口留给新功能上线时扩展目录
func (h *PermissionHandler) Create(c *gin.Context) {
	var req CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	permission, err := h.service.Create(req.Name, req.Description, req.Module, req.Action)
	if err != nil {
		if errors.Is(err, services.ErrDuplicateName) {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "创建失败")
		return
	}

	response.Success(c, permission)
}
