// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import "stockpile/internal/service/inventory/domain"

// --- 类型转换函数 ---
// 将数据库模型转换为领域模型

func toDomainProduct(model *ProductModel) *domain.Product {
	return &domain.Product{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		Price:       model.Price,
		TotalStock:  model.Stock,
	}
}

func toDomainCart(model *CartModel) *domain.Cart {
	return &domain.Cart{
		ID:        model.ID,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toDomainReservation(model *CartItemModel) *domain.Reservation {
	return &domain.Reservation{
		ID:        model.ID,
		CartID:    model.CartID,
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
		CreatedAt: model.CreatedAt,
	}
}
