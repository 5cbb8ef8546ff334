package router

import (
	"time"

	"chis/internal/database"
	"chis/internal/handlers"
	"chis/internal/middleware"
	"chis/internal/services"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter() *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	// 注册路由
	registerRoutes(router)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine) {

	auth := middleware.NewAuthMiddleware()

	// 共享服务实例
	userService := services.NewUserService()
	organizationService := services.NewOrganizationService()
	authorizerService := services.NewAuthorizerService(database.GetDB())
	principalService := services.NewPrincipalService(database.GetDB())
	auditService := services.NewAuditService()

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// JWT认证路由（无需认证）
		authHandler := handlers.NewAuthHandler(userService, organizationService, authorizerService)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)          // 用户登录
			authGroup.POST("/logout", authHandler.Logout)        // 用户登出
			authGroup.POST("/refresh", authHandler.RefreshToken) // 刷新Token

			// 🔒 获取当前用户完整信息（含实时解析的权限列表）
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)

			// 🔒 切换当前机构（持久化切换，必须是目标机构成员）
			authGroup.POST("/switch-organization", auth.RequireLogin(), authHandler.SwitchOrganization)
		}

		// 🔐 用户路由（添加权限保护）
		userHandler := handlers.NewUserHandler(userService, organizationService)
		users := api.Group("/users")
		{
			// 🔒 基础CRUD（需要用户管理权限）
			users.POST("", auth.RequireLogin(), auth.RequirePermission("createUsers"), userHandler.Create)
			users.GET("", auth.RequireLogin(), auth.RequirePermission("viewUsers"), userHandler.List)
			users.GET("/:id", auth.RequireLogin(), auth.RequirePermission("viewUsers"), userHandler.GetByID)
			users.PUT("/:id", auth.RequireLogin(), auth.RequirePermission("editUsers"), userHandler.Update)
			users.DELETE("/:id", auth.RequireLogin(), auth.RequirePermission("deleteUsers"), userHandler.Delete)

			// 🔒 账号状态管理
			users.POST("/:id/activate", auth.RequireLogin(), auth.RequirePermission("editUsers"), userHandler.Activate)
			users.POST("/:id/deactivate", auth.RequireLogin(), auth.RequirePermission("editUsers"), userHandler.Deactivate)
			users.POST("/:id/unlock", auth.RequireLogin(), auth.RequirePermission("editUsers"), userHandler.Unlock)
			users.POST("/:id/reset-password", auth.RequireLogin(), auth.RequirePermission("manageUsers"), userHandler.ResetPassword)

			// 🔒 角色指派（需要用户管理权限）
			users.PUT("/:id/role", auth.RequireLogin(), auth.RequirePermission("manageUsers"), userHandler.AssignRole)
			users.POST("/bulk-assign-role", auth.RequireLogin(), auth.RequirePermission("manageUsers"), userHandler.BulkAssignRole)

			// 🔒 机构成员关系查询
			users.GET("/:id/organizations", auth.RequireLogin(), auth.RequirePermission("viewUsers"), userHandler.GetOrganizations)
		}

		// 🔐 机构路由（添加权限保护）
		organizationHandler := handlers.NewOrganizationHandler(organizationService)
		organizations := api.Group("/organizations")
		{
			// 🔒 建立/停用机构是平台级操作（仅范围豁免主体）
			organizations.POST("", auth.RequireLogin(), auth.RequireScopeExempt(), organizationHandler.Create)
			organizations.POST("/:id/activate", auth.RequireLogin(), auth.RequireScopeExempt(), organizationHandler.Activate)
			organizations.POST("/:id/deactivate", auth.RequireLogin(), auth.RequireScopeExempt(), organizationHandler.Deactivate)

			// 🔒 查询与更新（需要机构管理权限）
			organizations.GET("", auth.RequireLogin(), auth.RequirePermission("viewOrganizations"), organizationHandler.GetAll)
			organizations.GET("/:id", auth.RequireLogin(), auth.RequirePermission("viewOrganizations"), organizationHandler.GetByID)
			organizations.PUT("/:id", auth.RequireLogin(), auth.RequirePermission("manageOrganizations"), organizationHandler.Update)

			// 🔒 成员管理
			organizations.GET("/:id/members", auth.RequireLogin(), auth.RequirePermission("viewOrganizations"), organizationHandler.GetMembers)
			organizations.POST("/:id/members", auth.RequireLogin(), auth.RequirePermission("manageMembers"), organizationHandler.AddMember)
			organizations.DELETE("/:id/members/:user_id", auth.RequireLogin(), auth.RequirePermission("manageMembers"), organizationHandler.RemoveMember)
			organizations.PUT("/:id/members/:user_id/role", auth.RequireLogin(), auth.RequirePermission("manageMembers"), organizationHandler.AssignMemberRole)
		}

		// 🔐 角色路由（添加权限保护）
		roleHandler := handlers.NewRoleHandler(services.NewRoleService())
		roles := api.Group("/roles")
		{
			// 🔒 基础CRUD（需要角色管理权限）
			roles.POST("", auth.RequireLogin(), auth.RequirePermission("manageRoles"), roleHandler.Create)
			roles.GET("", auth.RequireLogin(), auth.RequirePermission("viewRoles"), roleHandler.List)
			roles.GET("/:id", auth.RequireLogin(), auth.RequirePermission("viewRoles"), roleHandler.GetByID)
			roles.PUT("/:id", auth.RequireLogin(), auth.RequirePermission("manageRoles"), roleHandler.Update)
			roles.DELETE("/:id", auth.RequireLogin(), auth.RequirePermission("manageRoles"), roleHandler.Delete)

			// 🔒 权限管理（整体替换语义）
			roles.PUT("/:id/permissions", auth.RequireLogin(), auth.RequirePermission("manageRoles"), roleHandler.UpdatePermissions)
			roles.GET("/:id/permissions", auth.RequireLogin(), auth.RequirePermission("viewRoles"), roleHandler.GetPermissions)
		}

		// 🔐 权限路由（部分保护）
		permissionHandler := handlers.NewPermissionHandler(services.NewPermissionService())
		permissions := api.Group("/permissions")
		{
			// 🔓 公开查看（任何人都可以查看有哪些权限）
			permissions.GET("", permissionHandler.GetAll)
			permissions.GET("/module/:module", permissionHandler.GetByModule)
			permissions.GET("/grouped", permissionHandler.GetGrouped)

			// 🔒 扩展权限目录（需要角色管理权限）
			permissions.POST("", auth.RequireLogin(), auth.RequirePermission("manageRoles"), permissionHandler.Create)
		}

		// 🔐 审计日志路由（添加权限保护）
		auditHandler := handlers.NewAuditLogHandler(auditService, principalService, authorizerService)
		auditLogs := api.Group("/audit-logs")
		{
			// 🔒 查询（机构范围过滤在服务层强制执行）
			auditLogs.GET("", auth.RequireLogin(), auth.RequirePermission("viewAuditLogs"), auditHandler.List)
			auditLogs.GET("/recent", auth.RequireLogin(), auth.RequirePermission("viewAuditLogs"), auditHandler.Recent)
		}

		// 🔐 患者路由（添加权限保护 + 机构范围过滤）
		patientHandler := handlers.NewPatientHandler(services.NewPatientService())
		patients := api.Group("/patients")
		{
			patients.POST("", auth.RequireLogin(), auth.RequirePermission("createPatients"), patientHandler.Create)
			patients.GET("", auth.RequireLogin(), auth.RequirePermission("viewPatients"), patientHandler.List)
			patients.GET("/:id", auth.RequireLogin(), auth.RequirePermission("viewPatients"), patientHandler.GetByID)
			patients.PUT("/:id", auth.RequireLogin(), auth.RequirePermission("editPatients"), patientHandler.Update)
			patients.DELETE("/:id", auth.RequireLogin(), auth.RequirePermission("deletePatients"), patientHandler.Delete)
		}

		// 🔐 检验单路由（添加权限保护 + 机构范围过滤）
		labOrderHandler := handlers.NewLabOrderHandler(services.NewLabOrderService())
		labOrders := api.Group("/lab-orders")
		{
			labOrders.POST("", auth.RequireLogin(), auth.RequirePermission("createLabOrder"), labOrderHandler.Create)
			labOrders.GET("", auth.RequireLogin(), auth.RequirePermission("viewLabResults"), labOrderHandler.List)
			labOrders.GET("/:id", auth.RequireLogin(), auth.RequirePermission("viewLabResults"), labOrderHandler.GetByID)
			labOrders.POST("/:id/complete", auth.RequireLogin(), auth.RequirePermission("editLabResults"), labOrderHandler.Complete)
			labOrders.POST("/:id/cancel", auth.RequireLogin(), auth.RequirePermission("editLabResults"), labOrderHandler.Cancel)
		}

		// 🔐 WebSocket路由（审计事件实时推送）
		ws := api.Group("/ws")
		{
			// WebSocket连接不能使用常规的中间件，认证通过query参数处理
			ws.GET("/audit-logs", auditHandler.Stream)
		}
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "CHIS",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
