package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/internal/reporter"
)

func newTestServer(t *testing.T) (*Server, *reporter.Reporter) {
	t.Helper()
	rep := reporter.NewReporter("reporter_1", bus.NewLocalBus(16), t.TempDir(), nil)
	return NewServer("127.0.0.1:0", rep), rep
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := get(t, s.router(), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("健康检查内容错误: %v", body)
	}
}

func TestSummaryAndTrades(t *testing.T) {
	s, rep := newTestServer(t)

	if err := rep.SetupSubscriptions(); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	trade := events.TradeExecuted{
		Type: events.TypeTradeExecuted, TradeID: "t1", OrderID: "o1",
		TraderID: "trader_1", Symbol: "AAPL", Side: "BUY",
		Quantity: 100, ExecutionPrice: 100, Commission: 10, Timestamp: time.Now(),
	}
	if err := rep.Bus().Publish(context.Background(), events.TopicTrades, trade); err != nil {
		t.Fatalf("发布成交失败: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(rep.Trades()) == 0 {
		select {
		case <-deadline:
			t.Fatal("成交未到达汇总员")
		case <-time.After(5 * time.Millisecond):
		}
	}

	w := get(t, s.router(), "/api/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("summary 状态码错误: %d", w.Code)
	}
	var summary reporter.Report
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("summary 不是合法 JSON: %v", err)
	}
	if summary.Summary.TotalTrades != 1 {
		t.Errorf("summary 内容错误: %+v", summary.Summary)
	}

	w = get(t, s.router(), "/api/trades")
	if w.Code != http.StatusOK {
		t.Fatalf("trades 状态码错误: %d", w.Code)
	}
	var page struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("trades 不是合法 JSON: %v", err)
	}
	if page.Count != 1 {
		t.Errorf("trades 数量错误: %d", page.Count)
	}
}
