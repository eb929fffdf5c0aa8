// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个事件通道连接
type WebSocketClient struct {
	conn      WebSocketConnection
	clientID  string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  int64 // 最后活跃时间，UnixNano
	createdAt time.Time
}

// WebSocketManager 管理所有事件通道连接并负责广播
type WebSocketManager struct {
	clients     map[*WebSocketClient]struct{}
	mutex       sync.RWMutex
	pingTimeout time.Duration
	metrics     *utils.SyncMetrics
	stop        chan struct{}
	stopOnce    sync.Once
}

func newWebSocketClient(conn WebSocketConnection, clientID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// ========================================
// WebSocketClient 方法
// ========================================

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// LastPing 最后活跃时间
func (client *WebSocketClient) LastPing() time.Time {
	return time.Unix(0, atomic.LoadInt64(&client.lastPing))
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true // 零超时时间立即过期
	}
	return time.Since(client.LastPing()) > timeout
}

// enqueue 非阻塞写入发送队列，队列满时返回 false
func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SendEvent 只向该客户端发送事件
func (client *WebSocketClient) SendEvent(eventType string, data interface{}) {
	msgBytes, err := json.Marshal(models.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("❌ 序列化事件失败: %v", err)
		return
	}
	if !client.enqueue(msgBytes) && !client.IsClosed() {
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.clientID)
	}
}

// SendError 发送错误事件到客户端
func (client *WebSocketClient) SendError(eventType, errorMsg string) {
	client.SendEvent(models.EventError, map[string]interface{}{
		"event":   eventType,
		"message": errorMsg,
	})
}

// ========================================
// WebSocketManager 方法
// ========================================

// NewWebSocketManager 创建连接管理器，pingTimeout 内无活跃的连接会被清理
func NewWebSocketManager(pingTimeout time.Duration) *WebSocketManager {
	if pingTimeout <= 0 {
		pingTimeout = 60 * time.Second
	}
	return &WebSocketManager{
		clients:     make(map[*WebSocketClient]struct{}),
		pingTimeout: pingTimeout,
		metrics:     utils.NewSyncMetrics(),
		stop:        make(chan struct{}),
	}
}

// Run 定期清理过期连接，直到 Shutdown
func (manager *WebSocketManager) Run() {
	ticker := time.NewTicker(manager.pingTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := manager.cleanupExpiredConnections(); n > 0 {
				log.Printf("🧹 已清理 %d 个过期 WebSocket 连接", n)
			}
		case <-manager.stop:
			manager.closeAll()
			return
		}
	}
}

// Shutdown 关闭全部连接并停止清理
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() {
		close(manager.stop)
	})
}

// registerClient 注册新客户端并广播在线人数
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	manager.mutex.Lock()
	manager.clients[client] = struct{}{}
	count := len(manager.clients)
	manager.mutex.Unlock()

	log.Printf("✅ WebSocket 客户端已连接 (客户端: %s, 在线: %d)", client.clientID, count)
	manager.publishUserCount(count)
}

// unregisterClient 注销客户端并广播在线人数
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	_, exists := manager.clients[client]
	delete(manager.clients, client)
	count := len(manager.clients)
	manager.mutex.Unlock()

	client.Close()
	if !exists {
		return
	}

	log.Printf("🔌 WebSocket 客户端已断开连接 (客户端: %s, 在线: %d)", client.clientID, count)
	manager.publishUserCount(count)
}

func (manager *WebSocketManager) publishUserCount(count int) {
	manager.metrics.SetConnections(count)
	manager.Broadcast(models.Event{
		Type:      models.EventUserCount,
		Data:      map[string]int{"count": count},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, "")
}

// cleanupExpiredConnections 清理过期和已关闭的连接，返回清理数量
func (manager *WebSocketManager) cleanupExpiredConnections() int {
	manager.mutex.Lock()
	removed := 0
	for client := range manager.clients {
		if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
			delete(manager.clients, client)
			client.Close()
			removed++
		}
	}
	count := len(manager.clients)
	manager.mutex.Unlock()

	if removed > 0 {
		manager.publishUserCount(count)
	}
	return removed
}

// Broadcast 把事件投递给所有连接，clientID 等于 exclude 的连接被跳过
// 发送队列已满的连接会被关闭，返回成功入队的连接数
func (manager *WebSocketManager) Broadcast(event models.Event, exclude string) int {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return 0
	}

	manager.mutex.RLock()
	targets := make([]*WebSocketClient, 0, len(manager.clients))
	for client := range manager.clients {
		if exclude != "" && client.clientID == exclude {
			continue
		}
		if !client.IsClosed() {
			targets = append(targets, client)
		}
	}
	manager.mutex.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(msgBytes) {
			delivered++
			continue
		}
		if !client.IsClosed() {
			log.Printf("⚠️ 客户端 %s 消息队列已满，关闭连接", client.clientID)
			client.Close()
		}
	}
	return delivered
}

// ConnectionCount 当前连接数
func (manager *WebSocketManager) ConnectionCount() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.clients)
}

// closeAll 关闭所有连接
func (manager *WebSocketManager) closeAll() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")
	for client := range manager.clients {
		client.Close()
	}
	manager.clients = make(map[*WebSocketClient]struct{})
	log.Println("✅ WebSocket 管理器已关闭")
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	clients := make([]interface{}, 0, len(manager.clients))
	for client := range manager.clients {
		if client.IsClosed() {
			continue
		}
		clients = append(clients, map[string]interface{}{
			"client_id":    client.clientID,
			"connected_at": client.createdAt.Format(time.RFC3339),
			"last_ping":    client.LastPing().Format(time.RFC3339),
		})
	}

	return map[string]interface{}{
		"total_connections":    len(clients),
		"clients":              clients,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}
