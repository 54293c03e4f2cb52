package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swarmbot/gosim/pkg/logger"
)

var wsLog = logger.WithField("component", "ws_bus")

// WSBus websocket 总线客户端，实现 MessageBus 契约
// 连接到 Hub，使用与 LocalBus 完全相同的 JSON 载荷；
// 单读单写 goroutine 保证单主题顺序
type WSBus struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	registry *registry

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// DialWSBus 连接到正在运行的 hub
func DialWSBus(ctx context.Context, url string) (*WSBus, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("连接总线 hub 失败（%s）: %w", url, err)
	}

	b := &WSBus{
		conn:     conn,
		registry: newRegistry(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// Publish 把消息作为 publish 帧发给 hub
func (b *WSBus) Publish(ctx context.Context, topic string, message any) error {
	select {
	case <-b.quit:
		return ErrBusClosed
	default:
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败（topic=%s）: %w", topic, err)
	}
	return b.writeFrame(frame{Action: actionPublish, Topic: topic, Payload: payload})
}

// Subscribe 在本地注册处理函数并向 hub 发送 subscribe 帧
func (b *WSBus) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler 不能为 nil（topic=%s）", topic)
	}
	select {
	case <-b.quit:
		return ErrBusClosed
	default:
	}

	b.registry.Add(topic, handler)
	return b.writeFrame(frame{Action: actionSubscribe, Topic: topic})
}

// Close 发送关闭帧并断开连接
func (b *WSBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()
		_ = b.conn.Close()
	})
	<-b.done
	return nil
}

func (b *WSBus) writeFrame(f frame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("发送帧失败（topic=%s）: %w", f.Topic, err)
	}
	return nil
}

func (b *WSBus) readLoop() {
	defer close(b.done)
	ctx := context.Background()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.quit:
			default:
				wsLog.Errorf("总线连接读取失败: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			wsLog.Warnf("收到无法解析的帧，跳过: %v", err)
			continue
		}
		if f.Action != actionPublish {
			continue
		}
		b.registry.Dispatch(ctx, f.Topic, f.Payload)
	}
}
