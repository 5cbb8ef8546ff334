package handlers

import (
	"chis/internal/middleware"
	"chis/internal/services"

	"github.com/gin-gonic/gin"
)

// buildAuditContext 从请求上下文收集审计元数据
// 所有带审计的管理操作入口统一走这里，保证操作人、IP、
// User-Agent和请求ID完整进入审计记录
func buildAuditContext(c *gin.Context) *services.AuditContext {
	auditCtx := &services.AuditContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: middleware.GetRequestID(c),
	}

	principal := middleware.GetPrincipal(c)
	if principal != nil {
		userID := principal.UserID
		auditCtx.ActorUserID = &userID
		auditCtx.ActorName = principal.Username
		auditCtx.OrganizationID = principal.ActiveOrganizationID
	}

	return auditCtx
}
