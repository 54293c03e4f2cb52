package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()，减少遗漏 Done() 的风险
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running bool
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数
// 必须在 Run() 之前调用；运行中追加的函数会被忽略
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 启动所有已添加的 goroutine
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	fns := g.fns
	g.fns = nil
	g.mu.Unlock()

	for _, fn := range fns {
		fn := fn
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			fn()
		}()
	}
}

// Wait 等待所有 goroutine 完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}
