package marketdata

import (
	"encoding/json"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/swarmbot/gosim/internal/domain"
)

// 持久缓存的过期时间：日线数据当天内不重复下载
const candleTTL = 24 * time.Hour

// CandleStore badger 持久K线缓存
// 多次回测同一批标的时避免重复解析和下载
type CandleStore struct {
	db *badger.DB
}

// OpenCandleStore 打开（必要时创建）缓存库
func OpenCandleStore(path string) (*CandleStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "打开K线缓存失败")
	}
	return &CandleStore{db: db}, nil
}

// Get 读取某标的的缓存K线；第二个返回值表示是否命中
func (s *CandleStore) Get(symbol string) ([]domain.Candle, bool, error) {
	var candles []domain.Candle
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(symbol))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &candles)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "读取 %s 缓存失败", symbol)
	}
	return candles, true, nil
}

// Put 写入某标的的K线，带 TTL
func (s *CandleStore) Put(symbol string, candles []domain.Candle) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return errors.Wrap(err, "序列化K线失败")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(storeKey(symbol), data).WithTTL(candleTTL)
		return txn.SetEntry(entry)
	})
	return errors.Wrapf(err, "写入 %s 缓存失败", symbol)
}

// Close 关闭缓存库
func (s *CandleStore) Close() error {
	return s.db.Close()
}

func storeKey(symbol string) []byte {
	return []byte("candles:" + symbol)
}
