package domain

// Product 是商品实体。TotalStock 是账面上的物理库存，
// 购物车中的预约是对它的"认领"，不直接扣减它。
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	TotalStock  int
}

// ProductPatch 描述一次部分更新：只有非 nil 的字段会被修改。
// 用显式的可选字段代替反射式的动态赋值，哪些字段会变一目了然。
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *float64
	TotalStock  *int
}

// Empty 返回该 patch 是否不包含任何变更
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil && p.TotalStock == nil
}
