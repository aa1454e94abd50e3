package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"envoearn/internal/infrastructure/metrics"
	"envoearn/internal/model"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ============================================================================
// 实时推送
// ============================================================================
//
// 行变更经 outbox -> Kafka -> Consumer -> Hub -> websocket 推给页面。
// 推送的是变更后的整行，页面按 id 增量更新，不再收到通知后重新拉全量。
//
// 【可见范围】
//   普通用户只收到 user_id 等于自己的事件
//   管理员收到全部事件
//
// 【慢订阅者】
//   每个订阅者一个有界缓冲，写满说明对端读不过来，直接断开，由客户端重连。
//   广播永远不会因为某个连接卡住而阻塞。
//
// ============================================================================

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultBufferSize = 64
)

// Subscriber 一个 websocket 连接的订阅信息
type Subscriber struct {
	userID string
	admin  bool
	tables map[string]bool // 为空表示订阅全部表
	send   chan []byte

	closeOnce sync.Once
}

// Messages 待推送的消息，连接被 Hub 断开后关闭
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

func (s *Subscriber) wants(event *model.ChangeEvent) bool {
	if len(s.tables) > 0 && !s.tables[event.Table] {
		return false
	}
	if s.admin {
		return true
	}
	return event.UserID != "" && event.UserID == s.userID
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub 管理所有订阅者
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]struct{}
	bufferSize int
	upgrader   websocket.Upgrader
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		subs:       make(map[*Subscriber]struct{}),
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域由外层 CORS 和令牌校验负责
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe 注册订阅者，admin 为 true 时忽略 userID
func (h *Hub) Subscribe(userID string, admin bool, tables []string) *Subscriber {
	sub := &Subscriber{
		userID: userID,
		admin:  admin,
		tables: make(map[string]bool, len(tables)),
		send:   make(chan []byte, h.bufferSize),
	}
	for _, t := range tables {
		if t = strings.TrimSpace(t); t != "" {
			sub.tables[t] = true
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.SetRealtimeSubscribers(n)
	return sub
}

// Unsubscribe 移除订阅者，可重复调用
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		sub.close()
		metrics.SetRealtimeSubscribers(n)
	}
}

// Count 当前订阅者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast 推送一条变更事件，缓冲已满的订阅者会被断开
func (h *Hub) Broadcast(event *model.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Realtime] 序列化事件失败: key=%s, err=%v", event.Key(), err)
		return
	}

	var slow []*Subscriber
	h.mu.RLock()
	for sub := range h.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Printf("[Realtime] 订阅者缓冲已满，断开: userID=%s, admin=%t", sub.userID, sub.admin)
		h.Unsubscribe(sub)
	}
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
	metrics.SetRealtimeSubscribers(0)
}

// ServeWS 升级为 websocket 并开始推送，调用方已完成身份校验
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, admin bool, tables []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Realtime] websocket 升级失败: %v", err)
		return
	}

	sub := h.Subscribe(userID, admin, tables)
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump 只处理控制帧，客户端断开时注销订阅
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer h.Unsubscribe(sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.Unsubscribe(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}
}
