package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chis/internal/database"
	"chis/internal/middleware"
	"chis/internal/models"
	"chis/internal/services"
	"chis/pkg/config"
	"chis/pkg/jwt"
	"chis/pkg/logger"
	"chis/pkg/pagination"
	"chis/pkg/queue"
	"chis/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AuditLogHandler 审计日志查询与实时流
type AuditLogHandler struct {
	service          *services.AuditService
	principalService *services.PrincipalService
	authorizer       *services.AuthorizerService
	jwtManager       *jwt.JWTManager
	upgrader         websocket.Upgrader
	log              *logrus.Logger
}

func NewAuditLogHandler(service *services.AuditService, principalService *services.PrincipalService, authorizer *services.AuthorizerService) *AuditLogHandler {
	// 获取CORS配置
	cfg := config.GetConfig()
	allowedOrigins := cfg.CORS.AllowOrigins

	return &AuditLogHandler{
		service:          service,
		principalService: principalService,
		authorizer:       authorizer,
		jwtManager:       jwt.GetJWTManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				// 如果允许所有源
				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// 如果Origin为空（同源请求），允许
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
		log: logger.GetLogger(),
	}
}

// List 分页查询审计日志
// 机构范围过滤在服务层完成：非豁免主体只能看到本机构的记录
func (h *AuditLogHandler) List(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	// 解析筛选条件
	filters := &services.AuditLogFilters{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}

	if actorIDStr := c.Query("actor_user_id"); actorIDStr != "" {
		actorID, err := strconv.ParseUint(actorIDStr, 10, 32)
		if err != nil {
			response.BadRequest(c, "操作人ID格式错误")
			return
		}
		id := uint(actorID)
		filters.ActorUserID = &id
	}

	if startStr := c.Query("start_time"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			response.BadRequest(c, "开始时间格式错误，应为RFC3339")
			return
		}
		filters.StartTime = &start
	}

	if endStr := c.Query("end_time"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			response.BadRequest(c, "结束时间格式错误，应为RFC3339")
			return
		}
		filters.EndTime = &end
	}

	entries, total, err := h.service.GetWithPage(principal, filters, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, entries, pageInfo)
}

// Recent 获取最近的审计事件（来自Redis，新→旧）
// 事件按与数据库查询相同的机构范围规则过滤后返回
func (h *AuditLogHandler) Recent(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "未登录")
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			response.BadRequest(c, "limit格式错误")
			return
		}
		limit = parsed
	}

	messages, err := database.GetAuditStream().Recent(limit)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	visible := make([]*queue.AuditMessage, 0, len(messages))
	for _, msg := range messages {
		if auditEventVisible(principal, msg) {
			visible = append(visible, msg)
		}
	}

	response.Success(c, visible)
}

// Stream 审计事件实时推送（WebSocket）
// WebSocket不支持自定义header，token从查询参数传入；
// 权限与机构范围检查与HTTP查询入口一致
func (h *AuditLogHandler) Stream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return
	}

	// 验证token
	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return
	}

	// 每次连接重新解析主体，不信任token之外的任何缓存状态
	principal, err := h.principalService.Load(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "认证失败"})
		return
	}

	allowed, err := h.authorizer.Authorize(principal, "viewAuditLogs")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "权限检查失败"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "权限不足"})
		return
	}

	// 升级为WebSocket连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"user_id":     principal.UserID,
		"username":    principal.Username,
		"remote_addr": c.ClientIP(),
	}).Info("Audit stream WebSocket connection established")

	h.handleStreamConnection(conn, principal)
}

// handleStreamConnection 订阅审计频道并转发给客户端
func (h *AuditLogHandler) handleStreamConnection(conn *websocket.Conn, principal *models.Principal) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 订阅Redis channel
	pubsub := database.GetAuditStream().Subscribe()
	defer pubsub.Close()

	// 等待订阅成功
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.WithError(err).Error("Failed to subscribe to audit channel")
		return
	}

	// 启动goroutine处理客户端消息（主要是ping/pong）
	go h.readPump(conn, cancel)

	ch := pubsub.Channel()

	// 设置写入超时
	const writeTimeout = 10 * time.Second

	// 心跳ticker - 每60秒发送一次ping
	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.WithError(err).Error("Failed to send ping")
				return
			}

		case msg := <-ch:
			if msg == nil {
				return
			}

			var event queue.AuditMessage
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.WithError(err).Error("Failed to parse audit message")
				continue
			}

			// 按机构范围过滤
			if !auditEventVisible(principal, &event) {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Error("Failed to send audit message to client")
				return
			}
		}
	}
}

// readPump 处理客户端消息
func (h *AuditLogHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 300 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Error("WebSocket unexpected close")
			}
			break
		}
	}
}

// auditEventVisible 判断审计事件对主体是否可见
// 与数据库查询的机构范围规则一致：豁免主体看全部，
// 其他主体只看本机构的事件；无机构归属的事件（系统动作）不下发
func auditEventVisible(principal *models.Principal, msg *queue.AuditMessage) bool {
	if principal.ScopeExempt {
		return true
	}
	if principal.ActiveOrganizationID == nil || msg.OrganizationID == nil {
		return false
	}
	return *msg.OrganizationID == *principal.ActiveOrganizationID
}

// matchOrigin 检查origin是否匹配allowed模式
// 支持精确匹配和通配符匹配（如 *.example.com）
func matchOrigin(origin, allowed string) bool {
	// 精确匹配
	if origin == allowed {
		return true
	}

	// 检查是否是通配符模式
	if strings.HasPrefix(allowed, "*.") {
		// 获取域名部分（去掉 *.）
		domain := allowed[2:]

		// 处理origin中的协议部分
		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}

		// 去掉端口号（如果有）
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		if originHost == domain {
			return true
		}

		// 检查是否是子域名
		if strings.HasSuffix(originHost, "."+domain) {
			return true
		}
	}

	return false
}
