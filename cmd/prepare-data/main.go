// prepare-data 预下载回测所需的历史行情
// 回测前单独跑一次，把全部标的的日线拉到本地并写入持久缓存
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/swarmbot/gosim/internal/marketdata"
	"github.com/swarmbot/gosim/pkg/config"
	"github.com/swarmbot/gosim/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	cacheDir := flag.String("cache", "", "badger 缓存目录（为空则只写 CSV）")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	opts := []marketdata.Option{marketdata.WithDownloader(marketdata.NewDownloader())}
	if *cacheDir != "" {
		store, err := marketdata.OpenCandleStore(*cacheDir)
		if err != nil {
			logger.Errorf("打开缓存库失败: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, marketdata.WithCandleStore(store))
	}

	loader := marketdata.NewLoader(cfg.DataDir, opts...)
	start, _ := time.Parse("2006-01-02", cfg.StartDate)
	end, _ := time.Parse("2006-01-02", cfg.EndDate)

	candles, err := loader.Load(cfg.Symbols, start, end)
	if err != nil {
		logger.Errorf("下载行情失败: %v", err)
		os.Exit(1)
	}

	total := 0
	for symbol, list := range candles {
		logger.Infof("%s: %d 根K线", symbol, len(list))
		total += len(list)
	}
	logger.Infof("数据准备完成：%d 个标的，共 %d 根K线，目录 %s", len(candles), total, cfg.DataDir)
}
