package handlers

import (
	"strings"
	"time"

	"chis/internal/middleware"
	"chis/internal/services"
	"chis/pkg/jwt"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	userService         *services.UserService
	organizationService *services.OrganizationService
	authorizer          *services.AuthorizerService
	jwtManager          *jwt.JWTManager
}

func NewAuthHandler(userService *services.UserService, organizationService *services.OrganizationService, authorizer *services.AuthorizerService) *AuthHandler {
	return &AuthHandler{
		userService:         userService,
		organizationService: organizationService,
		authorizer:          authorizer,
		jwtManager:          jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	User      UserInfo `json:"user"`
}

type UserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Login 用户登录
// 连续失败达到阈值会触发临时锁定（见 UserService.HandleLoginFailure），
// 锁定期内即使密码正确也拒绝登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	// 根据用户名获取用户
	user, err := h.userService.GetByUsername(req.Username)
	if err != nil {
		// 不区分"用户不存在"和"密码错误"，避免暴露用户名
		response.Unauthorized(c, "用户名或密码错误")
		return
	}

	// 检查锁定状态
	if user.IsLocked() {
		response.Unauthorized(c, "账户已锁定，请稍后重试")
		return
	}

	// 检查用户状态
	if !user.IsActive() {
		response.Unauthorized(c, "用户已被停用")
		return
	}

	// 验证密码
	if !user.CheckPassword(req.Password) {
		if err := h.userService.HandleLoginFailure(user, c.ClientIP(), c.Request.UserAgent()); err != nil {
			logrus.WithFields(logrus.Fields{
				"username": user.Username,
				"error":    err.Error(),
			}).Error("记录登录失败次数出错")
		}
		response.Unauthorized(c, "用户名或密码错误")
		return
	}

	// 生成Token（只携带身份，不携带任何授权数据）
	token, err := h.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		response.ServerError(c, "生成Token失败")
		return
	}

	// 重置失败计数并更新最后登录时间
	if err := h.userService.HandleLoginSuccess(user); err != nil {
		logrus.WithField("username", user.Username).Warn("更新登录状态失败")
	}

	// 计算过期时间
	expiresAt := time.Now().Add(h.jwtManager.GetTokenDuration()).Unix()

	resp := LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			FullName: user.FullName,
		},
	}

	response.Success(c, resp)
}

// Logout 用户登出
func (h *AuthHandler) Logout(c *gin.Context) {
	// 获取并验证当前token
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// 没有token也算登出成功
		response.Success(c, gin.H{
			"message": "登出成功",
		})
		return
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		// token格式错误也算登出成功
		response.Success(c, gin.H{
			"message": "登出成功",
		})
		return
	}

	tokenString := authHeader[7:] // 去掉 "Bearer "

	// 验证token并获取用户信息（用于日志记录）
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		// token无效也算登出成功
		response.Success(c, gin.H{
			"message": "登出成功",
		})
		return
	}

	response.Success(c, gin.H{
		"message":     "登出成功",
		"user_id":     claims.UserID,
		"username":    claims.Username,
		"logout_time": time.Now(),
	})

	// 注意：
	// 1. Token会在过期时间后自动失效
	// 2. 前端应该删除本地存储的token
}

// RefreshToken 刷新Token
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	// 从请求头获取当前token
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "缺少认证头")
		return
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		response.Unauthorized(c, "认证头格式错误")
		return
	}

	tokenString := authHeader[7:] // 去掉 "Bearer "

	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		response.Unauthorized(c, "Token无效")
		return
	}

	// 获取用户信息
	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		response.Unauthorized(c, "用户不存在")
		return
	}

	// 检查用户状态
	if !user.IsActive() {
		response.Unauthorized(c, "用户已被停用")
		return
	}

	if user.IsLocked() {
		response.Unauthorized(c, "账户已锁定，请稍后重试")
		return
	}

	// 生成新Token
	newToken, err := h.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		response.ServerError(c, "生成新Token失败")
		return
	}

	// 计算过期时间
	expiresAt := time.Now().Add(h.jwtManager.GetTokenDuration()).Unix()

	response.Success(c, gin.H{
		"token":      newToken,
		"expires_at": expiresAt,
		"message":    "Token刷新成功",
	})
}

// SwitchOrganizationRequest 切换机构请求
type SwitchOrganizationRequest struct {
	OrganizationID uint `json:"organization_id" binding:"required"`
}

// SwitchOrganization 切换当前机构
// 切换通过改写默认成员关系持久化，下一次请求解析主体时即生效，
// 不需要重新签发Token（Token不携带机构信息）
func (h *AuthHandler) SwitchOrganization(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	var req SwitchOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	// 验证目标机构存在且启用
	organization, err := h.organizationService.GetByID(req.OrganizationID)
	if err != nil {
		response.NotFound(c, "机构不存在")
		return
	}

	if !organization.IsActive() {
		response.BadRequest(c, "目标机构未启用")
		return
	}

	if err := h.organizationService.SetDefaultOrganization(principal.UserID, req.OrganizationID, buildAuditContext(c)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"current_organization": gin.H{
			"id":     organization.ID,
			"name":   organization.Name,
			"code":   organization.Code,
			"status": organization.Status,
		},
		"message": "切换机构成功",
	})
}

// Me 获取当前登录用户的完整信息
// 权限列表每次实时解析，角色或权限变更后这里立刻反映出来
func (h *AuthHandler) Me(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	// 获取用户详细信息
	user, err := h.userService.GetByID(principal.UserID)
	if err != nil {
		response.NotFound(c, "用户不存在")
		return
	}

	// 实时解析权限
	permissionSet, err := h.authorizer.Resolve(principal)
	if err != nil {
		response.ServerError(c, "解析权限失败")
		return
	}

	// 构建响应
	responseData := gin.H{
		"user": gin.H{
			"id":            user.ID,
			"username":      user.Username,
			"email":         user.Email,
			"full_name":     user.FullName,
			"phone":         user.Phone,
			"status":        user.Status,
			"legacy_role":   user.LegacyRole,
			"created_at":    user.CreatedAt,
			"last_login_at": user.LastLoginAt,
		},
		"scope_exempt": principal.ScopeExempt,
		"permissions":  permissionSet.Names(),
	}

	if user.Role != nil {
		responseData["role"] = gin.H{
			"id":          user.Role.ID,
			"name":        user.Role.Name,
			"description": user.Role.Description,
		}
	}

	// 当前机构
	if principal.ActiveOrganizationID != nil {
		organization, err := h.organizationService.GetByID(*principal.ActiveOrganizationID)
		if err == nil {
			responseData["current_organization"] = gin.H{
				"id":     organization.ID,
				"name":   organization.Name,
				"code":   organization.Code,
				"status": organization.Status,
			}
		}
	}

	// 可切换机构列表
	memberships, err := h.organizationService.GetUserMemberships(principal.UserID)
	if err == nil {
		var switchable []gin.H
		for _, m := range memberships {
			item := gin.H{
				"organization_id": m.OrganizationID,
				"is_default":      m.IsDefault,
				"joined_at":       m.JoinedAt,
			}
			if m.Organization.ID != 0 {
				item["name"] = m.Organization.Name
				item["code"] = m.Organization.Code
				item["status"] = m.Organization.Status
			}
			if principal.ActiveOrganizationID != nil {
				item["is_current"] = m.OrganizationID == *principal.ActiveOrganizationID
			}
			switchable = append(switchable, item)
		}
		responseData["organizations"] = switchable
	}

	response.Success(c, responseData)
}
