// internal/service/inventory/infrastructure/models.go
package infrastructure

import "time"

// ProductModel 是 Product 领域对象在数据库中的表示。
// LockVersion 只服务于乐观串行化策略，领域层看不到它。
type ProductModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"index;not null"`
	Description string
	Price       float64 `gorm:"not null"`
	Stock       int     `gorm:"not null"`
	LockVersion int64   `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// CartModel 是 Cart 领域对象在数据库中的表示。
type CartModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CartModel) TableName() string {
	return "carts"
}

// CartItemModel 是 Reservation 领域对象在数据库中的表示。
// (cart_id, product_id) 上的唯一索引在数据库层面兜底
// "同一购物车同一商品至多一条记录"的不变式。
type CartItemModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	CartID    string `gorm:"size:64;not null;uniqueIndex:idx_cart_product"`
	ProductID int64  `gorm:"not null;uniqueIndex:idx_cart_product;index"`
	Quantity  int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CartItemModel) TableName() string {
	return "cart_items"
}
