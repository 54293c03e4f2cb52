package bus

import (
	"context"
	"sync"

	"github.com/swarmbot/gosim/pkg/logger"
)

// registry 维护主题 → 处理函数列表，并负责单条消息的并发分发
// 同一条消息对多个处理器并发执行、互相故障隔离；
// Dispatch 等待本条消息的全部处理器返回后才处理下一条，
// 保证每个订阅者看到的单主题顺序与发布顺序一致
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]Handler)}
}

func (r *registry) Add(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], h)
}

func (r *registry) Snapshot(topic string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.handlers[topic]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// Dispatch 将一条消息并发交给 topic 的全部处理器并等待完成
// 处理器 panic 或返回错误只记录日志，不影响同级处理器
func (r *registry) Dispatch(ctx context.Context, topic string, payload []byte) {
	handlers := r.Snapshot(topic)
	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("component", "bus").
						Errorf("处理器 panic（topic=%s）: %v", topic, rec)
				}
			}()
			if err := h(ctx, payload); err != nil {
				logger.WithField("component", "bus").
					Errorf("处理器返回错误（topic=%s）: %v", topic, err)
			}
		}()
	}
	wg.Wait()
}
