package middleware

import (
	"errors"
	"strings"

	"chis/internal/database"
	"chis/internal/models"
	"chis/internal/services"
	"chis/pkg/jwt"
	"chis/pkg/logger"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 权限中间件
type AuthMiddleware struct {
	principalService *services.PrincipalService
	authorizer       *services.AuthorizerService
	jwtManager       *jwt.JWTManager
}

func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{
		principalService: services.NewPrincipalService(database.GetDB()),
		authorizer:       services.NewAuthorizerService(database.GetDB()),
		jwtManager:       jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// RequireLogin 登录校验
// 令牌只证明身份；主体每次都从数据库重建，角色改派、停用、
// 移出机构都在下一个请求立即生效
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从Authorization头获取JWT token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 检查Bearer格式
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		// 提取token
		tokenString := authHeader[7:] // 去掉 "Bearer "

		// 验证token
		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		// 实时构建主体
		principal, err := m.principalService.Load(claims.UserID)
		if err != nil {
			// 用户不存在或已停用都按认证失败处理，会话应当终止
			switch {
			case errors.Is(err, services.ErrPrincipalNotFound):
				response.Unauthorized(c, "用户不存在")
			case errors.Is(err, services.ErrPrincipalInactive):
				response.Unauthorized(c, "用户已被停用")
			default:
				response.ServerError(c, "服务器内部错误")
			}
			c.Abort()
			return
		}

		// 将主体保存到上下文
		c.Set("principal", principal)
		c.Set("user_id", principal.UserID)
		c.Set("username", principal.Username)

		c.Next()
	}
}

// RequirePermission 要求特定权限
// 对外只返回统一的"权限不足"，不泄露缺的是哪个权限；
// 具体权限名只进内部日志用于排查
func (m *AuthMiddleware) RequirePermission(permissionName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		allowed, err := m.authorizer.Authorize(principal, permissionName)
		if err != nil {
			response.ServerError(c, "权限检查失败")
			c.Abort()
			return
		}

		if !allowed {
			logger.GetLogger().WithFields(map[string]interface{}{
				"user_id":    principal.UserID,
				"username":   principal.Username,
				"permission": permissionName,
				"path":       c.Request.URL.Path,
			}).Warn("权限校验未通过")
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireScopeExempt 要求跨机构豁免（仅superadmin）
func (m *AuthMiddleware) RequireScopeExempt() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !principal.ScopeExempt {
			logger.GetLogger().WithFields(map[string]interface{}{
				"user_id":  principal.UserID,
				"username": principal.Username,
				"path":     c.Request.URL.Path,
			}).Warn("非跨机构主体访问平台级接口被拒")
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetPrincipal 从上下文取出请求主体
func GetPrincipal(c *gin.Context) *models.Principal {
	value, exists := c.Get("principal")
	if !exists {
		return nil
	}
	principal, ok := value.(*models.Principal)
	if !ok {
		return nil
	}
	return principal
}
