// internal/agent/emitter.go
package agent

import (
	"sync"
)

// 事件类型
const (
	EventData              = "data"
	EventResponse          = "response"
	EventSubAgentStream    = "subAgentStream"
	EventSubAgentEnd       = "subAgentEnd"
	EventToolCall          = "toolCall"
	EventTransfer          = "transfer"
	EventRefresh           = "refresh"
	EventSegmentsUpdated   = "segmentsUpdated"
	EventShotsUpdated      = "shotsUpdated"
	EventShotImageStart    = "shotImageGenerateStart"
	EventShotImageProgress = "shotImageGenerateProgress"
	EventShotImageComplete = "shotImageGenerateComplete"
	EventShotImageError    = "shotImageGenerateError"
	EventError             = "error"
	EventNotice            = "notice"
)

// Event 发给订阅者的事件
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Emitter 每个编排器实例一个。Close 之后的事件直接丢弃
type Emitter struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
	closed bool
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]func(Event))}
}

// Subscribe 注册回调，返回取消函数。回调不能阻塞
func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit 同步通知所有订阅者
func (e *Emitter) Emit(eventType string, data interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	ev := Event{Type: eventType, Data: data}
	for _, fn := range e.subs {
		fn(ev)
	}
}

// Close 清空订阅者
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.subs = make(map[int]func(Event))
}

// Closed 是否已关闭
func (e *Emitter) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// ---- 事件负载 ----

type ToolCallPayload struct {
	Agent string      `json:"agent"`
	Name  string      `json:"name"`
	Args  interface{} `json:"args"`
}

type TransferPayload struct {
	To string `json:"to"`
}

type SubAgentStreamPayload struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

type SubAgentEndPayload struct {
	Agent string `json:"agent"`
	Error string `json:"error,omitempty"`
}
