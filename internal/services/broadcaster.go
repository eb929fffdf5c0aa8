// internal/services/broadcaster.go
package services

import (
	"context"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// Broadcaster 把事件投递给所有连接，exclude 非空时跳过该连接
// 返回实际投递的连接数
type Broadcaster interface {
	Broadcast(event models.Event, exclude string) int
}

type originKey struct{}

// WithOrigin 在上下文中记录发起修改的连接
func WithOrigin(ctx context.Context, clientID string) context.Context {
	if clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, clientID)
}

// OriginFrom 读取发起修改的连接，未知时返回空串
func OriginFrom(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	return ""
}

// Notifier 在提交后广播修改结果
type Notifier struct {
	broadcaster  Broadcaster
	echoToOrigin bool
	metrics      *utils.SyncMetrics
}

// NewNotifier 创建通知器；broadcaster 为 nil 时丢弃全部事件
func NewNotifier(b Broadcaster, echoToOrigin bool) *Notifier {
	return &Notifier{
		broadcaster:  b,
		echoToOrigin: echoToOrigin,
		metrics:      utils.NewSyncMetrics(),
	}
}

// Publish 广播事件；发起者已知且未开启回显时排除发起者
func (n *Notifier) Publish(ctx context.Context, eventType string, data interface{}) {
	if n == nil || n.broadcaster == nil {
		return
	}
	origin := OriginFrom(ctx)
	exclude := origin
	if n.echoToOrigin {
		exclude = ""
	}

	event := models.Event{
		Type:      eventType,
		Data:      data,
		Origin:    origin,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	recipients := n.broadcaster.Broadcast(event, exclude)
	n.metrics.RecordBroadcast(eventType, recipients)
}
