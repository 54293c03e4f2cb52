package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type envelope struct {
	topic   string
	payload []byte
}

// LocalBus 进程内消息总线
//
// 队列是有界的：队列满时 Publish 阻塞（背压），而不是静默丢弃——
// 下游的记账逻辑假定已接受的消息最终会被投递
type LocalBus struct {
	ch       chan envelope
	registry *registry

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalBus 创建并启动本地总线，capacity 为队列容量
func NewLocalBus(capacity int) *LocalBus {
	if capacity <= 0 {
		capacity = 1024
	}
	b := &LocalBus{
		ch:       make(chan envelope, capacity),
		registry: newRegistry(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish 序列化消息并入队；队列满时阻塞直到有空位、ctx 取消或总线关闭
func (b *LocalBus) Publish(ctx context.Context, topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败（topic=%s）: %w", topic, err)
	}

	select {
	case <-b.quit:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- envelope{topic: topic, payload: payload}:
		return nil
	case <-b.quit:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe 注册处理函数；订阅之前发布的消息不会回放
func (b *LocalBus) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler 不能为 nil（topic=%s）", topic)
	}
	select {
	case <-b.quit:
		return ErrBusClosed
	default:
	}
	b.registry.Add(topic, handler)
	return nil
}

// Close 停止接收新消息，排空在途消息后返回
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
	})
	<-b.done
	return nil
}

func (b *LocalBus) run() {
	defer close(b.done)
	ctx := context.Background()

	for {
		select {
		case e := <-b.ch:
			b.registry.Dispatch(ctx, e.topic, e.payload)
		case <-b.quit:
			// 排空剩余消息后退出
			for {
				select {
				case e := <-b.ch:
					b.registry.Dispatch(ctx, e.topic, e.payload)
				default:
					return
				}
			}
		}
	}
}
