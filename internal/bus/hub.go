package bus

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/swarmbot/gosim/pkg/logger"
)

var hubLog = logger.WithField("component", "bus_hub")

// frame 是 websocket 后端的线缆协议
// 客户端发送 subscribe / publish，hub 把 publish 按主题转发给所有订阅连接
type frame struct {
	Action  string          `json:"action"` // subscribe | publish
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	actionSubscribe = "subscribe"
	actionPublish   = "publish"
)

// Hub websocket 总线的 broker 端
// 单个分发 goroutine 保证单主题转发顺序与接收顺序一致；
// 慢客户端的发送队列满时该条消息对它丢弃（有日志），不阻塞其他订阅者
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*hubClient]struct{}

	broadcast chan frame
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type hubClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewHub 创建并启动 hub
func NewHub() *Hub {
	h := &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		subs:      make(map[string]map[*hubClient]struct{}),
		broadcast: make(chan frame, 1024),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// Handler 返回用于挂载的 HTTP 处理函数
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			hubLog.Errorf("websocket 升级失败: %v", err)
			return
		}
		c := &hubClient{conn: conn, send: make(chan []byte, 256)}
		go c.writePump()
		go h.readPump(c)
	}
}

// Close 停止分发并断开所有连接
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.quit)
	})
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*hubClient]struct{})
	for _, set := range h.subs {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	for c := range seen {
		c.shutdown()
	}
	h.subs = make(map[string]map[*hubClient]struct{})
	return nil
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case f := <-h.broadcast:
			h.fanout(f)
		case <-h.quit:
			for {
				select {
				case f := <-h.broadcast:
					h.fanout(f)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) fanout(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		hubLog.Errorf("序列化转发帧失败（topic=%s）: %v", f.Topic, err)
		return
	}

	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.subs[f.Topic]))
	for c := range h.subs[f.Topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			hubLog.Warnf("客户端发送队列已满，丢弃消息（topic=%s）", f.Topic)
		}
	}
}

func (h *Hub) subscribe(c *hubClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*hubClient]struct{})
	}
	h.subs[topic][c] = struct{}{}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
	h.mu.Unlock()
	c.shutdown()
}

func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			hubLog.Warnf("收到无法解析的帧，跳过: %v", err)
			continue
		}

		switch f.Action {
		case actionSubscribe:
			h.subscribe(c, f.Topic)
		case actionPublish:
			select {
			case h.broadcast <- f:
			case <-h.quit:
				return
			}
		default:
			hubLog.Warnf("未知帧类型 %q，跳过", f.Action)
		}
	}
}

func (c *hubClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *hubClient) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *hubClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}
