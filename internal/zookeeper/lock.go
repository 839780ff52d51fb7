// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/stockpile_locks" // 所有商品锁的根节点

// ProductLock 是针对单个商品的分布式互斥锁。
// 实现采用临时顺序节点 + 监听前驱节点的经典方案：
// 只有序号最小的节点持有锁，其余节点各自只监听自己的前一个节点，
// 避免锁释放时的惊群效应。
type ProductLock struct {
	conn     *Conn
	path     string // 锁的父路径，例如 /stockpile_locks/product-123
	lockNode string // 成功排队后，自己创建的节点路径
}

// NewProductLock 创建一个商品锁实例
func NewProductLock(conn *Conn, productID int64) (*ProductLock, error) {
	if err := conn.ensurePath(lockRoot); err != nil {
		return nil, err
	}
	lockPath := fmt.Sprintf("%s/product-%d", lockRoot, productID)
	if err := conn.ensurePath(lockPath); err != nil {
		return nil, err
	}
	return &ProductLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，获取不到时阻塞等待，直到 ctx 取消。
func (l *ProductLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		// 2. 获取锁路径下的所有子节点并排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// 3. 自己是最小节点则成功获取锁
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if len(children) > 0 && myNodeName == children[0] {
			return nil
		}

		// 4. 否则监听前一个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find own node among children, session may have expired")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// 前驱节点在检查瞬间刚好被删除，重新竞争
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		// 阻塞等待前驱节点被删除，或者调用方放弃
		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-ctx.Done():
			// 放弃排队时清掉自己的节点，否则后面的节点会一直等
			_ = l.Unlock()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *ProductLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
