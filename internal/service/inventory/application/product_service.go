// internal/service/inventory/application/product_service.go
package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockpile/internal/service/inventory/domain"
)

// ProductService 管理商品目录。它是库存台账的写入方：
// TotalStock 只在这里被修改，预约协调器对它只读。
type ProductService struct {
	repo   domain.ProductRepository
	store  domain.Store
	tracer trace.Tracer
}

func NewProductService(repo domain.ProductRepository, store domain.Store) *ProductService {
	return &ProductService{
		repo:   repo,
		store:  store,
		tracer: otel.Tracer(tracerName),
	}
}

// CreateProduct 创建商品。价格和库存都不允许为负。
func (s *ProductService) CreateProduct(ctx context.Context, name, description string, price float64, stock int) (*ProductView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateProduct")
	defer span.End()

	if name == "" {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "name must not be empty")
	}
	if price < 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "price must be non-negative")
	}
	if stock < 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "stock must be non-negative")
	}

	product := &domain.Product{
		Name:        name,
		Description: description,
		Price:       price,
		TotalStock:  stock,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("product.id", product.ID))

	// 新商品还没有任何预约，可售量就是账面库存
	view := toProductView(product, product.TotalStock)
	return &view, nil
}

// GetProduct 返回单个商品视图，可售量实时计算
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*ProductView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.viewWithAvailability(ctx, product)
}

// ListProducts 返回全部商品视图
func (s *ProductService) ListProducts(ctx context.Context) ([]ProductView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ListProducts")
	defer span.End()

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		v, err := s.viewWithAvailability(ctx, p)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// UpdateProduct 对商品做部分更新，只有 patch 中给出的字段会变。
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*ProductView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.UpdateProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	if patch.Price != nil && *patch.Price < 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "price must be non-negative")
	}
	if patch.TotalStock != nil && *patch.TotalStock < 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "stock must be non-negative")
	}

	product, err := s.repo.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return s.viewWithAvailability(ctx, product)
}

// DeleteProduct 删除商品。仍有购物车预约引用它时拒绝删除，
// 防止出现没有商品可指的悬挂预约。
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "inventory.DeleteProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	return s.repo.DeleteProduct(ctx, id)
}

func (s *ProductService) viewWithAvailability(ctx context.Context, p *domain.Product) (*ProductView, error) {
	reserved, err := s.store.SumReservedQuantity(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	view := toProductView(p, domain.AvailableStock(p.TotalStock, reserved))
	return &view, nil
}
