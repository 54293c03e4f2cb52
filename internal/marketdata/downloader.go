package marketdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultEndpoint = "https://stooq.com/q/d/l/"

// Downloader 从 stooq 下载日线 CSV
type Downloader struct {
	client   *resty.Client
	endpoint string
}

// NewDownloader 创建下载器，带超时与重试
func NewDownloader() *Downloader {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)

	return &Downloader{
		client:   client,
		endpoint: defaultEndpoint,
	}
}

// SetEndpoint 覆盖下载地址（测试用）
func (d *Downloader) SetEndpoint(url string) { d.endpoint = url }

// FetchDailyCSV 下载某标的的全部日线数据
// stooq 的美股代码带 .us 后缀，全小写
func (d *Downloader) FetchDailyCSV(symbol string) ([]byte, error) {
	ticker := strings.ToLower(symbol)
	if !strings.Contains(ticker, ".") {
		ticker += ".us"
	}

	resp, err := d.client.R().
		SetQueryParams(map[string]string{
			"s": ticker,
			"i": "d",
		}).
		Get(d.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "下载 %s 失败", symbol)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("下载 %s 失败: HTTP %d", symbol, resp.StatusCode())
	}

	body := resp.Body()
	// stooq 对未知代码返回一行提示文本而不是 CSV
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(string(body))), "date,") {
		return nil, fmt.Errorf("标的 %s 无数据", symbol)
	}
	return body, nil
}
