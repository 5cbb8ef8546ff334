package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"chis/internal/models"
	"chis/internal/services"
	"chis/pkg/jwt"
	"chis/pkg/response"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "middleware-test-secret"

// newTestMiddleware 在sqlmock连接上构建权限中间件
func newTestMiddleware(t *testing.T) (*AuthMiddleware, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return &AuthMiddleware{
		principalService: services.NewPrincipalService(db),
		authorizer:       services.NewAuthorizerService(db),
		jwtManager:       jwt.NewJWTManager(testSecret, time.Hour),
	}, mock
}

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func performRequest(t *testing.T, r *gin.Engine, authHeader string) apiResponse {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)

	var body apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func activeUserRows(id uint, username, legacyRole string, roleID interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "legacy_role", "role_id", "organization_id", "status", "locked_until"}).
		AddRow(id, username, legacyRole, roleID, 1, models.UserStatusActive, nil)
}

func noMembershipRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id"})
}

func TestRequireLogin_MissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 401, body.Code)
	assert.Equal(t, "请先登录", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireLogin_BadScheme(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "Basic dXNlcjpwYXNz")

	assert.Equal(t, 401, body.Code)
	assert.Equal(t, "认证头格式错误", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireLogin_InvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "Bearer not-a-token")

	assert.Equal(t, 401, body.Code)
	assert.Equal(t, "Token无效或已过期", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 令牌只证明身份，主体每次从数据库重建
func TestRequireLogin_LoadsFreshPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	token, err := m.jwtManager.GenerateToken(9, "lisi")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(activeUserRows(9, "lisi", "", 5))
	mock.ExpectQuery(`SELECT \* FROM "user_organizations" WHERE user_id = \$1 AND is_default = \$2`).
		WillReturnRows(noMembershipRows())

	var seen *models.Principal
	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		seen = GetPrincipal(c)
		response.Success(c, nil)
	})

	body := performRequest(t, r, "Bearer "+token)

	assert.Equal(t, 200, body.Code)
	require.NotNil(t, seen)
	assert.Equal(t, uint(9), seen.UserID)
	assert.Equal(t, "lisi", seen.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 已停用用户即使持有效令牌也被拒，会话随之终止
func TestRequireLogin_DeactivatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	token, err := m.jwtManager.GenerateToken(9, "lisi")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "username", "status"}).
		AddRow(9, "lisi", models.UserStatusInactive)
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(rows)

	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "Bearer "+token)

	assert.Equal(t, 401, body.Code)
	assert.Equal(t, "用户已被停用", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireLogin_DeletedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	token, err := m.jwtManager.GenerateToken(404, "ghost")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	r := gin.New()
	r.GET("/probe", m.RequireLogin(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "Bearer "+token)

	assert.Equal(t, 401, body.Code)
	assert.Equal(t, "用户不存在", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 对外只返回统一的"权限不足"，不泄露缺的是哪个权限
func TestRequirePermission_DeniedGenericMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   roleIDPtr(5),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("viewPatients"))

	r := gin.New()
	r.GET("/probe", func(c *gin.Context) {
		c.Set("principal", principal)
	}, m.RequirePermission("deletePatients"), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 403, body.Code)
	assert.Equal(t, "权限不足", body.Message)
	assert.NotContains(t, body.Message, "deletePatients")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequirePermission_Granted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	principal := &models.Principal{
		UserID:   9,
		Username: "lisi",
		RoleID:   roleIDPtr(5),
		Active:   true,
	}

	mock.ExpectQuery(`SELECT "permissions"\."name" FROM "permissions" JOIN role_permissions`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("viewPatients").AddRow("deletePatients"))

	r := gin.New()
	r.GET("/probe", func(c *gin.Context) {
		c.Set("principal", principal)
	}, m.RequirePermission("deletePatients"), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 200, body.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequirePermission_NoPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	r := gin.New()
	r.GET("/probe", m.RequirePermission("viewPatients"), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 401, body.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireScopeExempt_Denied(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	principal := &models.Principal{
		UserID:     2,
		Username:   "oldadmin",
		LegacyRole: models.LegacyRoleAdmin,
		Active:     true,
	}

	r := gin.New()
	r.GET("/probe", func(c *gin.Context) {
		c.Set("principal", principal)
	}, m.RequireScopeExempt(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 403, body.Code)
	assert.Equal(t, "权限不足", body.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireScopeExempt_Granted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, mock := newTestMiddleware(t)

	principal := &models.Principal{
		UserID:      1,
		Username:    "admin",
		LegacyRole:  models.LegacyRoleSuperadmin,
		Active:      true,
		ScopeExempt: true,
	}

	r := gin.New()
	r.GET("/probe", func(c *gin.Context) {
		c.Set("principal", principal)
	}, m.RequireScopeExempt(), func(c *gin.Context) {
		response.Success(c, nil)
	})

	body := performRequest(t, r, "")

	assert.Equal(t, 200, body.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPrincipal_WrongType(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set("principal", "bogus")

	assert.Nil(t, GetPrincipal(c))
}

func roleIDPtr(v uint) *uint {
	return &v
}
