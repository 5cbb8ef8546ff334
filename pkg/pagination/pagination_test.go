package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func requestContext(t *testing.T, target string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", target, nil)
	return c
}

func TestParsePageParams_Defaults(t *testing.T) {
	c := requestContext(t, "/api/v1/users")

	params := ParsePageParams(c)

	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, DefaultPageSize, params.PageSize)
}

func TestParsePageParams_Explicit(t *testing.T) {
	c := requestContext(t, "/api/v1/users?page=3&page_size=25")

	params := ParsePageParams(c)

	assert.Equal(t, 3, params.Page)
	assert.Equal(t, 25, params.PageSize)
	assert.Equal(t, 50, params.GetOffset())
	assert.Equal(t, 25, params.GetLimit())
}

func TestParsePageParams_InvalidFallsBack(t *testing.T) {
	c := requestContext(t, "/api/v1/users?page=abc&page_size=-1")

	params := ParsePageParams(c)

	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, DefaultPageSize, params.PageSize)
}

func TestParsePageParams_CapsPageSize(t *testing.T) {
	c := requestContext(t, "/api/v1/users?page_size=5000")

	params := ParsePageParams(c)

	assert.Equal(t, MaxPageSize, params.PageSize)
}

func TestNewPageInfo(t *testing.T) {
	info := NewPageInfo(2, 10, 35)

	assert.Equal(t, 2, info.Page)
	assert.Equal(t, int64(35), info.Total)
	assert.Equal(t, 4, info.TotalPages)
	assert.True(t, info.HasNext)
	assert.True(t, info.HasPrev)
}

func TestNewPageInfo_LastPage(t *testing.T) {
	info := NewPageInfo(4, 10, 35)

	assert.False(t, info.HasNext)
	assert.True(t, info.HasPrev)
}

func TestNewPageInfo_Empty(t *testing.T) {
	info := NewPageInfo(1, 10, 0)

	assert.Equal(t, 0, info.TotalPages)
	assert.False(t, info.HasNext)
	assert.False(t, info.HasPrev)
}
