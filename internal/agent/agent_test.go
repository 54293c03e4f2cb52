package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
)

// echoRole 最小角色：订阅一个主题并在循环里等待退出
type echoRole struct {
	*Base

	setupCalls int32
	loopExited chan struct{}

	mu   sync.Mutex
	msgs [][]byte
}

func newEchoRole(mbus bus.MessageBus) *echoRole {
	return &echoRole{
		Base:       NewBase("echo_1", mbus),
		loopExited: make(chan struct{}),
	}
}

func (r *echoRole) SetupSubscriptions() error {
	atomic.AddInt32(&r.setupCalls, 1)
	r.Subscribe("ping", func(_ context.Context, data []byte) error {
		r.mu.Lock()
		r.msgs = append(r.msgs, data)
		r.mu.Unlock()
		return nil
	})
	return nil
}

func (r *echoRole) Loop(ctx context.Context) {
	<-ctx.Done()
	close(r.loopExited)
}

func TestStartIsIdempotent(t *testing.T) {
	mbus := bus.NewLocalBus(16)
	defer mbus.Close()

	r := newEchoRole(mbus)
	ctx := context.Background()

	if err := r.StartRole(ctx, r); err != nil {
		t.Fatalf("首次启动失败: %v", err)
	}
	// 第二次启动是无操作，不报错也不重复订阅
	if err := r.StartRole(ctx, r); err != nil {
		t.Fatalf("重复启动不应报错: %v", err)
	}
	if n := atomic.LoadInt32(&r.setupCalls); n != 1 {
		t.Errorf("订阅注册次数错误: %d", n)
	}
	r.Stop()
}

func TestStopWaitsForLoopAndIsIdempotent(t *testing.T) {
	mbus := bus.NewLocalBus(16)
	defer mbus.Close()

	r := newEchoRole(mbus)
	if err := r.StartRole(context.Background(), r); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	r.Stop()
	select {
	case <-r.loopExited:
	case <-time.After(time.Second):
		t.Fatal("Stop 返回时循环仍未退出")
	}
	// 重复 Stop 安全
	r.Stop()
	// 未启动的参与者 Stop 也安全
	newEchoRole(mbus).Stop()
}

func TestSubscriptionsDeliverAfterStart(t *testing.T) {
	mbus := bus.NewLocalBus(16)
	defer mbus.Close()

	r := newEchoRole(mbus)
	ctx := context.Background()
	if err := r.StartRole(ctx, r); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer r.Stop()

	if err := mbus.Publish(ctx, "ping", "hello"); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.msgs)
		r.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("启动后订阅未生效")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
