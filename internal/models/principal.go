package models

import (
	"sort"
	"time"
)

// Principal 请求主体 - 每个请求由PrincipalService从数据库实时构建
// 不持久化；令牌里携带的任何角色信息一律不作为授权依据。
// ScopeExempt是显式的跨机构豁免标记，只在PrincipalService一处赋值，
// 其余代码只读此标记，不再比较角色字符串
type Principal struct {
	UserID               uint       `json:"user_id"`
	Username             string     `json:"username"`
	LegacyRole           string     `json:"legacy_role"`
	RoleID               *uint      `json:"role_id"`
	ActiveOrganizationID *uint      `json:"active_organization_id"`
	Active               bool       `json:"active"`
	LockedUntil          *time.Time `json:"locked_until"`
	ScopeExempt          bool       `json:"scope_exempt"` // 跨机构可见（仅superadmin）
}

// IsLocked 主体当前是否处于锁定期内
func (p *Principal) IsLocked() bool {
	return p.LockedUntil != nil && p.LockedUntil.After(time.Now())
}

// PermissionSet 权限名集合
type PermissionSet map[string]struct{}

// NewPermissionSet 由权限名列表构建集合
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has 是否包含指定权限名
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add 加入权限名
func (s PermissionSet) Add(name string) {
	s[name] = struct{}{}
}

// Names 返回排序后的权限名列表
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
