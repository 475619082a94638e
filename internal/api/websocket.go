// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/Corphon/DramaForge/internal/agent"
	"github.com/Corphon/DramaForge/internal/utils"
)

const (
	defaultPingTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeWait          = 10 * time.Second
	sendBufferSize     = 256
	maxMessageSize     = 1 << 20
)

// terminalSendWait 结束类消息在队列满时最多等待多久，超时关闭连接
var terminalSendWait = 5 * time.Second

// 结束类消息不能丢：客户端靠它们结束等待状态
var terminalTypes = map[string]bool{
	outTypeResponseEnd:           true,
	"error":                      true,
	agent.EventShotImageComplete: true,
	agent.EventShotImageError:    true,
}

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage 双向消息格式 {type, data}
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	id        string
	conn      WebSocketConnection
	kind      string // outlineAgent | storyboardAgent
	projectID int64
	scriptID  int64
	send      chan []byte
	done      chan struct{}
	closed    int32        // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64 // unix nano
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, kind string, projectID, scriptID int64) *WebSocketClient {
	client := &WebSocketClient{
		id:        ulid.Make().String(),
		conn:      conn,
		kind:      kind,
		projectID: projectID,
		scriptID:  scriptID,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 标记关闭；连接由写协程发送完剩余消息后关闭
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

func (client *WebSocketClient) lastPingTime() time.Time {
	return time.Unix(0, client.lastPing.Load())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPingTime()) > timeout
}

// SendMessage 入队。队列满时普通消息丢弃；
// 结束类消息等待 terminalSendWait，仍然满则关闭连接，客户端重连后重新同步
func (client *WebSocketClient) SendMessage(message WSMessage) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
		return nil
	case <-client.done:
		return nil
	default:
	}

	if !terminalTypes[message.Type] {
		utils.GetLogger().Warn("websocket send queue full, message dropped", map[string]interface{}{
			"client_id": client.id,
			"type":      message.Type,
		})
		return nil
	}

	timer := time.NewTimer(terminalSendWait)
	defer timer.Stop()
	select {
	case client.send <- msgBytes:
	case <-client.done:
	case <-timer.C:
		utils.GetLogger().Warn("websocket send queue stuck, closing client", map[string]interface{}{
			"client_id": client.id,
			"type":      message.Type,
		})
		client.Close()
	}
	return nil
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(errorMsg string) {
	client.SendMessage(WSMessage{Type: "error", Data: errorMsg})
}

func (client *WebSocketClient) write(messageType int, data []byte) error {
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteMessage(messageType, data)
}

// writePump 唯一的写协程：转发队列并定时 ping；关闭时先发完队列再发关闭帧
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			if err := client.write(websocket.TextMessage, msg); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		case <-client.done:
			for {
				select {
				case msg := <-client.send:
					if err := client.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					client.write(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// WebSocketManager 管理所有 WebSocket 连接
type WebSocketManager struct {
	clients     map[string]*WebSocketClient
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	stop        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	pingTimeout time.Duration
}

// NewWebSocketManager 创建并启动管理器
func NewWebSocketManager(pingTimeout time.Duration) *WebSocketManager {
	manager := &WebSocketManager{
		clients:     make(map[string]*WebSocketClient),
		register:    make(chan *WebSocketClient, 256),
		unregister:  make(chan *WebSocketClient, 256),
		stop:        make(chan struct{}),
		pingTimeout: pingTimeout,
	}
	go manager.run()
	return manager
}

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.stop:
			manager.shutdown()
			return
		}
	}
}

func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	manager.mutex.Lock()
	manager.clients[client.id] = client
	manager.mutex.Unlock()

	utils.GetLogger().Info("websocket client connected", map[string]interface{}{
		"client_id":  client.id,
		"kind":       client.kind,
		"project_id": client.projectID,
		"script_id":  client.scriptID,
	})
}

func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	delete(manager.clients, client.id)
	manager.mutex.Unlock()

	client.Close()
	utils.GetLogger().Info("websocket client disconnected", map[string]interface{}{
		"client_id":  client.id,
		"kind":       client.kind,
		"project_id": client.projectID,
		"duration":   time.Since(client.createdAt).Milliseconds(),
	})
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for id, client := range manager.clients {
		if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
			delete(manager.clients, id)
			client.Close()
		}
	}
}

func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, client := range manager.clients {
		client.Close()
	}
	manager.clients = make(map[string]*WebSocketClient)
	utils.GetLogger().Info("websocket manager stopped", nil)
}

// Register / Unregister 投递给主循环；主循环已停止时直接关闭客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	select {
	case manager.register <- client:
	case <-manager.stop:
		client.Close()
	}
}

func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.stop:
		client.Close()
	}
}

// Stop 关闭所有连接并结束主循环
func (manager *WebSocketManager) Stop() {
	manager.stopOnce.Do(func() { close(manager.stop) })
}

// Count 当前连接数
func (manager *WebSocketManager) Count() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.clients)
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	byKind := make(map[string]int)
	clients := make([]map[string]interface{}, 0, len(manager.clients))
	for _, client := range manager.clients {
		if client.IsClosed() {
			continue
		}
		byKind[client.kind]++
		clients = append(clients, map[string]interface{}{
			"client_id":    client.id,
			"kind":         client.kind,
			"project_id":   client.projectID,
			"script_id":    client.scriptID,
			"connected_at": client.createdAt.Format(time.RFC3339),
			"last_ping":    client.lastPingTime().Format(time.RFC3339),
		})
	}

	return map[string]interface{}{
		"total_connections": len(clients),
		"by_kind":           byKind,
		"clients":           clients,
	}
}
