package application

// ProductView 是对外展示的商品视图，AvailableStock 是读取时实时计算的
type ProductView struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Price          float64 `json:"price"`
	Stock          int     `json:"stock"`
	AvailableStock int     `json:"available_stock"`
}

// CartItemView 是购物车条目视图，内嵌商品信息
type CartItemView struct {
	ProductID int64       `json:"product_id"`
	Quantity  int         `json:"quantity"`
	Product   ProductView `json:"product"`
}

// CartView 是购物车快照。从未创建过的购物车与空购物车不可区分：
// 都是零条目、零总价。
type CartView struct {
	ID         string         `json:"id"`
	Items      []CartItemView `json:"items"`
	TotalItems int            `json:"total_items"`
	TotalPrice float64        `json:"total_price"`
}
