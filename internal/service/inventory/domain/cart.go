package domain

import "time"

// Cart 是一组预约的聚合根。ID 是调用方给定的不透明令牌
// （通常是会话或用户标识），首次加购时惰性创建。
type Cart struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation 是购物车对某个商品库存的认领。
// 不变式：同一 (cart, product) 至多一条记录，Quantity 恒为正；
// 数量降到 0 及以下时删除记录，而不是保留一条零数量的行。
type Reservation struct {
	ID        int64
	CartID    string
	ProductID int64
	Quantity  int
	CreatedAt time.Time
}

// AvailableStock 计算商品当前可售数量：
// 账面库存减去所有购物车的预约总量，下限为 0。
func AvailableStock(totalStock, reserved int) int {
	if available := totalStock - reserved; available > 0 {
		return available
	}
	return 0
}
