// internal/service/inventory/infrastructure/adapter/zk_locker.go
package adapter

import (
	"context"

	"stockpile/internal/pkg/logger"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/zookeeper"
)

// ZkProductLocker 是 domain.ProductLocker 的 ZooKeeper 实现，
// 每个商品对应一个临时顺序节点队列。
type ZkProductLocker struct {
	conn *zookeeper.Conn
}

var _ domain.ProductLocker = (*ZkProductLocker)(nil)

func NewZkProductLocker(conn *zookeeper.Conn) *ZkProductLocker {
	return &ZkProductLocker{conn: conn}
}

func (l *ZkProductLocker) Acquire(ctx context.Context, productID int64) (func(), error) {
	lock, err := zookeeper.NewProductLock(l.conn, productID)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	release := func() {
		if err := lock.Unlock(); err != nil {
			logger.Logger.Error().Err(err).Int64("product_id", productID).Msg("failed to release zookeeper product lock")
		}
	}
	return release, nil
}
