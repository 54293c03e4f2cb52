// Package agent 提供所有参与者共用的生命周期外壳
package agent

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/pkg/logger"
)

// Participant 可启动/停止的模拟参与者
type Participant interface {
	ID() string
	Start(ctx context.Context) error
	Stop()
}

// Role 参与者角色：先注册订阅，再进入处理循环
// 具体角色（分析师/交易员/风控/报告）组合 Base 并实现本接口
type Role interface {
	SetupSubscriptions() error
	Loop(ctx context.Context)
}

// Base 参与者生命周期外壳
// Start/Stop 幂等；循环内的消息处理严格串行（由各角色的 handler 保证）
type Base struct {
	id  string
	bus bus.MessageBus
	log *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBase 创建生命周期外壳
func NewBase(id string, mbus bus.MessageBus) *Base {
	return &Base{
		id:  id,
		bus: mbus,
		log: logger.WithField("agent", id),
	}
}

// ID 参与者标识
func (b *Base) ID() string { return b.id }

// Log 带 agent 字段的日志条目
func (b *Base) Log() *logrus.Entry { return b.log }

// Bus 底层总线（测试用）
func (b *Base) Bus() bus.MessageBus { return b.bus }

// StartRole 幂等启动：重复调用只记一条警告，不会出现第二个处理循环
// 先执行订阅注册，再启动循环；之后注册的订阅可能错过更早的消息
func (b *Base) StartRole(ctx context.Context, role Role) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.log.Warn("参与者已在运行，忽略重复启动")
		return nil
	}
	b.running = true
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	// 订阅失败不致命：记录后继续（该参与者会少收一路消息）
	if err := role.SetupSubscriptions(); err != nil {
		b.log.Errorf("注册订阅失败: %v", err)
	}

	go func() {
		defer close(done)
		role.Loop(runCtx)
	}()

	b.log.Infof("参与者 %s 已启动", b.id)
	return nil
}

// Stop 幂等停止：取消处理循环并等待退出，取消带来的错误一律吞掉
func (b *Base) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
	b.log.Infof("参与者 %s 已停止", b.id)
}

// Publish 发布消息；总线不可用时记录日志，绝不让参与者崩溃
func (b *Base) Publish(ctx context.Context, topic string, message any) {
	if err := b.bus.Publish(ctx, topic, message); err != nil {
		b.log.WithField("topic", topic).Errorf("发布消息失败: %v", err)
	}
}

// Subscribe 注册订阅；失败时记录日志并吞掉（参与者少收一路消息，不中断）
func (b *Base) Subscribe(topic string, handler bus.Handler) {
	if err := b.bus.Subscribe(topic, handler); err != nil {
		b.log.WithField("topic", topic).Errorf("订阅失败: %v", err)
	}
}
