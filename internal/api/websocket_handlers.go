// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/DramaForge/internal/agent"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/utils"
)

// 客户端发来的消息类型
const (
	msgTypeUser         = "msg"
	msgTypeCleanHistory = "cleanHistory"
	msgTypeReplaceShot  = "replaceShot"
)

// 发给客户端的消息类型，其余事件按原名转发
const (
	outTypeInit        = "init"
	outTypeStream      = "stream"
	outTypeResponseEnd = "response_end"
	outTypeNotice      = "notice"
)

// orchestrator 一个连接持有的编排器
type orchestrator interface {
	Events() *agent.Emitter
	Call(ctx context.Context, msg string) (string, error)
	ClearHistory()
	MarshalHistory() (string, error)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type userMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type replaceShotMessage struct {
	SegmentID int         `json:"segmentId"`
	CellID    string      `json:"cellId"`
	Cell      models.Cell `json:"cell"`
}

// wsSession 连接与编排器之间的桥
type wsSession struct {
	h         *Handler
	client    *WebSocketClient
	agent     orchestrator
	kind      string
	projectID int64

	ctx    context.Context
	cancel context.CancelFunc

	callMu sync.Mutex
	calls  sync.WaitGroup

	// beforeCall 每条用户消息处理前执行
	beforeCall func(ctx context.Context)
	// replaceShot 仅分镜会话支持
	replaceShot func(msg replaceShotMessage) error
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// rejectConn 写入错误后立即关闭，写协程尚未启动
func rejectConn(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(WSMessage{Type: "error", Data: message})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
	conn.Close()
}

// OutlineWebSocket /ws/outline?projectId=
func (h *Handler) OutlineWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("outline websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	projectID, ok := parseID(c.Query("projectId"))
	if !ok {
		rejectConn(conn, "projectId is required")
		return
	}

	a := agent.NewOutlineAgent(projectID, h.LLMService, agent.OutlineDeps{
		Projects: h.Projects,
		Outlines: h.Outlines,
		Assets:   h.AssetService,
		Prompts:  h.Prompts,
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	raw, err := h.Projects.LoadHistory(ctx, projectID, agent.KindOutline)
	if err == nil {
		err = a.UnmarshalHistory(raw)
	}
	if err != nil {
		utils.GetLogger().Warn("restore outline history failed", map[string]interface{}{
			"project_id": projectID,
			"error":      err.Error(),
		})
	}

	// 每条消息前重新加载章节，导入新章节后无需重连
	loadNovel := func(ctx context.Context) {
		chapters, err := h.Projects.ListChapters(ctx, projectID)
		if err != nil {
			utils.GetLogger().Warn("load chapters failed", map[string]interface{}{
				"project_id": projectID,
				"error":      err.Error(),
			})
			return
		}
		a.SetNovel(chapters)
	}
	loadNovel(ctx)

	s := &wsSession{
		h:          h,
		client:     newWebSocketClient(conn, agent.KindOutline, projectID, 0),
		agent:      a,
		kind:       agent.KindOutline,
		projectID:  projectID,
		ctx:        ctx,
		cancel:     cancel,
		beforeCall: loadNovel,
	}
	s.run(gin.H{"projectId": projectID})
}

// StoryboardWebSocket /ws/storyboard?projectId=&scriptId=
func (h *Handler) StoryboardWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("storyboard websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	projectID, ok := parseID(c.Query("projectId"))
	if !ok {
		rejectConn(conn, "projectId is required")
		return
	}
	scriptID, ok := parseID(c.Query("scriptId"))
	if !ok {
		rejectConn(conn, "scriptId is required")
		return
	}

	a := agent.NewStoryboardAgent(projectID, scriptID, h.LLMService, agent.StoryboardDeps{
		Projects:  h.Projects,
		Outlines:  h.Outlines,
		Prompts:   h.Prompts,
		Generator: h.Generator,
		Blobs:     h.Blobs,
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	s := &wsSession{
		h:         h,
		client:    newWebSocketClient(conn, agent.KindStoryboard, projectID, scriptID),
		agent:     a,
		kind:      agent.KindStoryboard,
		projectID: projectID,
		ctx:       ctx,
		cancel:    cancel,
		replaceShot: func(msg replaceShotMessage) error {
			return a.ReplaceCell(msg.SegmentID, msg.CellID, msg.Cell)
		},
	}
	s.run(gin.H{"projectId": projectID, "scriptId": scriptID})
}

// run 阻塞直到连接关闭
func (s *wsSession) run(initData interface{}) {
	s.h.Sessions.Register(s.client)
	go s.client.writePump()

	unsubscribe := s.agent.Events().Subscribe(s.forward)
	defer func() {
		unsubscribe()
		s.cancel()
		s.calls.Wait()
		s.saveHistory()
		s.agent.Events().Close()
		s.h.Sessions.Unregister(s.client)
		s.client.Close()
	}()

	s.client.SendMessage(WSMessage{Type: outTypeInit, Data: initData})
	s.readLoop()
}

// forward 编排器事件 → 客户端消息
func (s *wsSession) forward(ev agent.Event) {
	switch ev.Type {
	case agent.EventData:
		s.client.SendMessage(WSMessage{Type: outTypeStream, Data: ev.Data})
	case agent.EventResponse:
		s.client.SendMessage(WSMessage{Type: outTypeResponseEnd, Data: ev.Data})
		s.saveHistory()
	case agent.EventError:
		msg, _ := ev.Data.(string)
		s.client.SendError(sanitizeErrorMessage(msg))
	default:
		s.client.SendMessage(WSMessage{Type: ev.Type, Data: ev.Data})
	}
}

func (s *wsSession) saveHistory() {
	data, err := s.agent.MarshalHistory()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.h.Projects.SaveHistory(ctx, s.projectID, s.kind, data)
		cancel()
	}
	if err != nil {
		utils.GetLogger().Error("save chat history failed", map[string]interface{}{
			"project_id": s.projectID,
			"kind":       s.kind,
			"error":      err.Error(),
		})
	}
}

func (s *wsSession) readLoop() {
	conn := s.client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.h.Sessions.pingTimeout))
	conn.SetPongHandler(func(string) error {
		s.client.UpdatePing()
		conn.SetReadDeadline(time.Now().Add(s.h.Sessions.pingTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				utils.GetLogger().Warn("websocket read failed", map[string]interface{}{
					"client_id": s.client.id,
					"error":     err.Error(),
				})
			}
			return
		}
		s.client.UpdatePing()
		conn.SetReadDeadline(time.Now().Add(s.h.Sessions.pingTimeout))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// 无法解析的消息直接断开
			s.client.SendError("invalid message format")
			return
		}
		s.handle(msg)
	}
}

func (s *wsSession) handle(msg inboundMessage) {
	switch msg.Type {
	case msgTypeUser:
		var um userMessage
		if err := json.Unmarshal(msg.Data, &um); err != nil || um.Type != "user" {
			s.client.SendError("invalid msg payload")
			return
		}
		if strings.TrimSpace(um.Data) == "" {
			s.client.SendError("message is empty")
			return
		}
		s.dispatch(um.Data)

	case msgTypeCleanHistory:
		s.agent.ClearHistory()
		s.saveHistory()
		s.client.SendMessage(WSMessage{Type: outTypeNotice, Data: "history cleared"})

	case msgTypeReplaceShot:
		if s.replaceShot == nil {
			s.client.SendError("unknown message type: " + msg.Type)
			return
		}
		var rm replaceShotMessage
		if err := json.Unmarshal(msg.Data, &rm); err != nil || rm.CellID == "" {
			s.client.SendError("invalid replaceShot payload")
			return
		}
		if err := s.replaceShot(rm); err != nil {
			s.client.SendError(err.Error())
		}

	default:
		s.client.SendError("unknown message type: " + msg.Type)
	}
}

// dispatch 在独立协程中处理，同一会话的消息串行执行
func (s *wsSession) dispatch(text string) {
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		s.callMu.Lock()
		defer s.callMu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		if s.beforeCall != nil {
			s.beforeCall(s.ctx)
		}
		// 失败时编排器已发出 error 事件
		s.agent.Call(s.ctx, text)
	}()
}
