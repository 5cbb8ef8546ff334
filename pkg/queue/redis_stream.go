package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AuditStream 审计事件流（Redis实现）
// 数据库内的审计记录是唯一权威来源，这里只做事后广播：
// 发布失败不影响业务事务
type AuditStream struct {
	client *redis.Client
	prefix string
}

// AuditMessage 流中的审计事件消息
type AuditMessage struct {
	ID             uint            `json:"id"`
	ActorUserID    *uint           `json:"actor_user_id"` // nil表示系统动作
	ActorName      string          `json:"actor_name"`
	OrganizationID *uint           `json:"organization_id"`
	Action         string          `json:"action"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Details        json.RawMessage `json:"details,omitempty"`
	RequestID      string          `json:"request_id"`
	Created        int64           `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewAuditStream 创建审计事件流实例
func NewAuditStream(config *Config) *AuditStream {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "chis"
	}

	return &AuditStream{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (s *AuditStream) Close() error {
	return s.client.Close()
}

// Ping 测试Redis连接
func (s *AuditStream) Ping() error {
	ctx := context.Background()
	return s.client.Ping(ctx).Err()
}

// 最近事件列表的保留长度
const recentListMax = 200

// Publish 发布审计事件：写入最近事件列表并广播到订阅频道
func (s *AuditStream) Publish(message *AuditMessage) error {
	ctx := context.Background()

	// 序列化消息
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化审计消息失败: %v", err)
	}

	// 保留最近事件（左侧入列，裁剪尾部）
	listKey := s.getListKey()
	if err := s.client.LPush(ctx, listKey, data).Err(); err != nil {
		return fmt.Errorf("审计事件入列失败: %v", err)
	}
	s.client.LTrim(ctx, listKey, 0, recentListMax-1)
	s.client.Expire(ctx, listKey, 7*24*time.Hour)

	// 广播给在线订阅者
	if err := s.client.Publish(ctx, s.getChannelKey(), data).Err(); err != nil {
		return fmt.Errorf("发布审计消息失败: %v", err)
	}

	return nil
}

// Recent 获取最近的审计事件（新→旧）
func (s *AuditStream) Recent(limit int) ([]*AuditMessage, error) {
	ctx := context.Background()

	if limit <= 0 || limit > recentListMax {
		limit = recentListMax
	}

	values, err := s.client.LRange(ctx, s.getListKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取最近审计事件失败: %v", err)
	}

	messages := make([]*AuditMessage, 0, len(values))
	for _, v := range values {
		var msg AuditMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}

	return messages, nil
}

// Subscribe 订阅审计事件频道
func (s *AuditStream) Subscribe() *redis.PubSub {
	ctx := context.Background()
	return s.client.Subscribe(ctx, s.getChannelKey())
}

// 辅助方法

func (s *AuditStream) getListKey() string {
	return fmt.Sprintf("%s:audit:recent", s.prefix)
}

func (s *AuditStream) getChannelKey() string {
	return fmt.Sprintf("%s:audit:events", s.prefix)
}

// GetClient 获取Redis客户端（用于高级操作）
func (s *AuditStream) GetClient() *redis.Client {
	return s.client
}
