package services

import "errors"

// 业务错误哨兵
// 处理器用 errors.Is 区分错误类别后映射到响应码；
// 具体上下文（哪个权限ID未知、被多少用户引用）由 fmt.Errorf("%w: ...") 包装携带
var (
	// ErrDuplicateName 名称已存在（区分大小写的精确匹配）
	ErrDuplicateName = errors.New("名称已存在")

	// ErrUnknownPermission 引用了权限目录中不存在的权限ID
	ErrUnknownPermission = errors.New("权限不存在")

	// ErrRoleInUse 角色仍被用户或机构成员关系引用，不能删除
	ErrRoleInUse = errors.New("角色使用中")

	// ErrPrincipalNotFound 主体对应的用户已不存在
	ErrPrincipalNotFound = errors.New("用户不存在")

	// ErrPrincipalInactive 主体对应的用户已停用
	ErrPrincipalInactive = errors.New("用户已停用")

	// ErrAuditWrite 审计写入失败。该错误使外层事务整体回滚：
	// 未被记录的授权变更视同未发生
	ErrAuditWrite = errors.New("审计写入失败")
)
