// Package marketdata 负责历史行情的获取与缓存
// 数据优先级：内存缓存 → badger 缓存 → 本地 CSV → 远程下载
package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/pkg/cache"
	"github.com/swarmbot/gosim/pkg/logger"
)

// Loader 行情加载器
type Loader struct {
	dataDir    string
	log        *logrus.Entry
	downloader *Downloader  // 可选，nil 时缺失标的直接报错
	store      *CandleStore // 可选，badger 持久缓存
	memo       *cache.InMemoryCache[string, []domain.Candle]
}

// Option 加载器可选能力
type Option func(*Loader)

// WithDownloader 缺失标的时自动从远端下载
func WithDownloader(d *Downloader) Option {
	return func(l *Loader) { l.downloader = d }
}

// WithCandleStore 挂载 badger 持久缓存
func WithCandleStore(s *CandleStore) Option {
	return func(l *Loader) { l.store = s }
}

// NewLoader 创建加载器
func NewLoader(dataDir string, opts ...Option) *Loader {
	l := &Loader{
		dataDir: dataDir,
		log:     logger.WithField("component", "marketdata"),
		memo:    cache.NewInMemoryCache[string, []domain.Candle](time.Hour),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 加载全部标的在指定区间内的K线
func (l *Loader) Load(symbols []string, start, end time.Time) (map[string][]domain.Candle, error) {
	out := make(map[string][]domain.Candle, len(symbols))
	for _, symbol := range symbols {
		candles, err := l.loadSymbol(symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "加载 %s 行情失败", symbol)
		}
		out[symbol] = clip(candles, start, end)
		l.log.Debugf("%s: %d 根K线", symbol, len(out[symbol]))
	}
	return out, nil
}

func (l *Loader) loadSymbol(symbol string) ([]domain.Candle, error) {
	if candles, ok := l.memo.Get(symbol); ok {
		return candles, nil
	}
	if l.store != nil {
		if candles, ok, err := l.store.Get(symbol); err != nil {
			l.log.Warnf("读取 %s 持久缓存失败: %v", symbol, err)
		} else if ok {
			l.memo.Set(symbol, candles, 0)
			return candles, nil
		}
	}

	path := filepath.Join(l.dataDir, symbol+".csv")
	candles, err := parseCSVFile(path, symbol)
	if os.IsNotExist(errors.Cause(err)) && l.downloader != nil {
		l.log.Infof("%s 本地无数据，尝试远程下载", symbol)
		candles, err = l.fetchAndCache(symbol, path)
	}
	if err != nil {
		return nil, err
	}

	if l.store != nil {
		if err := l.store.Put(symbol, candles); err != nil {
			l.log.Warnf("写入 %s 持久缓存失败: %v", symbol, err)
		}
	}
	l.memo.Set(symbol, candles, 0)
	return candles, nil
}

func (l *Loader) fetchAndCache(symbol, path string) ([]domain.Candle, error) {
	raw, err := l.downloader.FetchDailyCSV(symbol)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "创建数据目录失败")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, errors.Wrap(err, "写入行情文件失败")
	}
	return parseCSVFile(path, symbol)
}

// parseCSVFile 解析单个标的的日线文件
// 格式与 stooq 导出一致：Date,Open,High,Low,Close,Volume
func parseCSVFile(path, symbol string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f, symbol)
}

// ParseCSV 从任意 reader 解析日线数据
func ParseCSV(r io.Reader, symbol string) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "读取表头失败")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("表头缺少 %s 列", required)
		}
	}

	var candles []domain.Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "第 %d 行解析失败", line)
		}
		line++

		ts, err := time.Parse("2006-01-02", record[col["date"]])
		if err != nil {
			// 跳过坏行，不让单行脏数据毁掉整个标的
			continue
		}
		c := domain.Candle{Timestamp: ts, Symbol: symbol}
		if c.Open, err = strconv.ParseFloat(record[col["open"]], 64); err != nil {
			continue
		}
		if c.High, err = strconv.ParseFloat(record[col["high"]], 64); err != nil {
			continue
		}
		if c.Low, err = strconv.ParseFloat(record[col["low"]], 64); err != nil {
			continue
		}
		if c.Close, err = strconv.ParseFloat(record[col["close"]], 64); err != nil {
			continue
		}
		if vi, ok := col["volume"]; ok && vi < len(record) {
			if v, err := strconv.ParseFloat(record[vi], 64); err == nil {
				c.Volume = int64(v)
			}
		}
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

func clip(candles []domain.Candle, start, end time.Time) []domain.Candle {
	if start.IsZero() && end.IsZero() {
		return candles
	}
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}
