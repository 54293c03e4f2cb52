// Package bus 提供主题化的发布/订阅总线
// 这是所有参与者之间唯一的通信路径：没有任何组件直接调用另一个组件
//
// 两个可互换的后端共用同一契约：
//   - LocalBus：进程内有界队列，单次模拟运行用
//   - WSBus：websocket 后端，多进程部署用（配合 Hub）
//
// 两个后端都保证单主题 FIFO 投递与 at-most-once 语义；
// 订阅发生在消息发布之后不会收到回放（总线无持久化）
package bus

import (
	"context"
	"errors"
)

// Handler 订阅处理函数，载荷为 JSON 字节
// 返回的错误只会被记录，不会传播给发布方，也不会影响其他订阅者
type Handler func(ctx context.Context, payload []byte) error

// MessageBus 总线契约
type MessageBus interface {
	// Publish 异步投递消息给 topic 的所有当前订阅者
	// 调用本身不等待订阅者处理完成
	Publish(ctx context.Context, topic string, message any) error
	// Subscribe 注册处理函数，按发布被接受的顺序逐条调用
	Subscribe(topic string, handler Handler) error
	// Close 排空在途消息并停止后续投递
	Close() error
}

// ErrBusClosed 总线已关闭
var ErrBusClosed = errors.New("message bus closed")
