// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// clientMessage 客户端提交的事件
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebSocketHandler 处理事件通道连接与客户端提交的修改
type WebSocketHandler struct {
	manager  *WebSocketManager
	elements *services.ElementService
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(manager *WebSocketManager, elements *services.ElementService) *WebSocketHandler {
	return &WebSocketHandler{
		manager:  manager,
		elements: elements,
	}
}

// EventWebSocket 建立事件通道连接，client_id 缺省时由服务端分配
func (wh *WebSocketHandler) EventWebSocket(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ WebSocket 升级失败: %v", err)
		return
	}

	client := newWebSocketClient(conn, clientID)

	// 先入队欢迎消息，保证它排在 user_count 之前
	client.SendEvent(models.EventConnected, map[string]interface{}{
		"client_id": clientID,
		"message":   "WebSocket 连接已建立",
	})
	wh.manager.registerClient(client)
	defer wh.manager.unregisterClient(client)

	go wh.handleWebSocketWrites(client)
	wh.handleWebSocketReads(client)
}

// handleWebSocketReads 读取客户端事件直到连接断开
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	timeout := wh.manager.pingTimeout
	client.conn.SetReadDeadline(time.Now().Add(timeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(timeout))
		return nil
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !client.IsClosed() {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}

		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(timeout))

		var message clientMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendError("", "消息格式错误")
			continue
		}
		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites 串行写出发送队列并定期发送 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wh.manager.pingTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("❌ WebSocket ping 失败: %v", err)
				return
			}

		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleMessage 分发客户端事件，修改以该连接为发起者
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message clientMessage) {
	ctx := services.WithOrigin(context.Background(), client.clientID)

	switch message.Type {
	case models.EventPing:
		client.SendEvent(models.EventPong, map[string]int64{"time": time.Now().Unix()})

	case models.EventElementMove:
		payload, ok := wh.parsePayload(client, message)
		if !ok {
			return
		}
		if err := wh.elements.MoveElement(ctx, payload); err != nil {
			client.SendError(message.Type, err.Error())
		}

	case models.EventElementUpdate:
		payload, ok := wh.parsePayload(client, message)
		if !ok {
			return
		}
		id := payload.GetString("id")
		if id == "" {
			client.SendError(message.Type, "缺少 id")
			return
		}
		if _, err := wh.elements.UpdateElement(ctx, id, payload); err != nil {
			client.SendError(message.Type, err.Error())
		}

	case models.EventElementDelete:
		payload, ok := wh.parsePayload(client, message)
		if !ok {
			return
		}
		id := payload.GetString("id")
		if id == "" {
			client.SendError(message.Type, "缺少 id")
			return
		}
		if err := wh.elements.DeleteElement(ctx, id); err != nil {
			client.SendError(message.Type, err.Error())
		}

	default:
		log.Printf("⚠️ 未知的消息类型: %s", message.Type)
		client.SendError(message.Type, "未知的消息类型")
	}
}

func (wh *WebSocketHandler) parsePayload(client *WebSocketClient, message clientMessage) (models.Content, bool) {
	payload, err := models.ParseContent(message.Data)
	if err != nil || len(message.Data) == 0 {
		client.SendError(message.Type, "data 必须是对象")
		return models.Content{}, false
	}
	return payload, true
}
