package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrProductNotFound 引用的商品不存在。永久性错误，换个 ID 再来。
	ErrProductNotFound = errors.New("product not found")

	// ErrReservationNotFound 购物车中没有这个商品
	ErrReservationNotFound = errors.New("cart item not found")

	// ErrInvalidQuantity 请求数量必须为正
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidArgument 请求参数非法（负的价格、负的库存等）
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProductReserved 商品仍被购物车预约着，拒绝删除
	ErrProductReserved = errors.New("product has active reservations")

	// ErrConflictRetryExhausted 乐观并发重试次数耗尽。
	// 瞬时错误，调用方可以整体重试本次操作。
	ErrConflictRetryExhausted = errors.New("too many concurrent updates, please retry")
)

// InsufficientStockError 表示请求数量超过了有效容量。
// Available 是本次请求可用的容量（已把购物车自己先前的认领加回来），
// Requested 是本次请求后的目标总量，两者都用于调用方展示。
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock. Available: %d, Requested: %d", e.Available, e.Requested)
}

// PolicyViolationError 表示请求被预约策略拒绝
type PolicyViolationError struct {
	Policy string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("reservation rejected by policy %q", e.Policy)
}
