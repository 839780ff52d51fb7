// internal/service/inventory/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockpile/internal/pkg/logger"
	"stockpile/internal/service/inventory/domain"
)

const tracerName = "reservation-service"

// Service 是预约协调器 + 购物车生命周期管理。
// 所有会改变某商品预约量的路径都必须经过 store.SerializeProduct，
// 保证"读可用量-检查-写预约"序列对同一商品串行执行，杜绝超卖。
type Service struct {
	store     domain.Store
	policy    domain.ReservationPolicy
	publisher domain.EventPublisher
	tracer    trace.Tracer
}

// NewService 创建预约服务。policy 和 publisher 都可以为 nil，
// 分别表示不启用策略校验、不对外广播事件。
func NewService(store domain.Store, policy domain.ReservationPolicy, publisher domain.EventPublisher) *Service {
	return &Service{
		store:     store,
		policy:    policy,
		publisher: publisher,
		tracer:    otel.Tracer(tracerName),
	}
}

// AddToCart 向购物车添加 quantity 个商品。
// 同一 (cart, product) 已有预约时合并数量，而不是产生第二条记录。
// 容量检查遵循"自持中性"规则：购物车自己已认领的数量不算竞争，
// 有效容量 = 当前可售量 + 自己已有的数量。
func (s *Service) AddToCart(ctx context.Context, cartID string, productID int64, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.AddToCart")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.id", cartID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var evt *domain.StockEvent
	err := s.store.SerializeProduct(ctx, productID, func(ctx context.Context, tx domain.TxStore) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		reserved, err := tx.SumReservedQuantity(ctx, productID)
		if err != nil {
			return err
		}
		existing, err := tx.FindReservation(ctx, cartID, productID)
		if err != nil {
			return err
		}

		existingQty := 0
		eventType := domain.StockEventAdded
		if existing != nil {
			existingQty = existing.Quantity
			eventType = domain.StockEventUpdated
		}
		newQty := existingQty + quantity

		if err := s.checkPolicy(ctx, tx, cartID, newQty, product.Price); err != nil {
			return err
		}

		// 有效容量 = 可售量 + 自己已有的认领
		available := domain.AvailableStock(product.TotalStock, reserved)
		capacity := available + existingQty
		if newQty > capacity {
			return &domain.InsufficientStockError{Available: capacity, Requested: newQty}
		}

		// 首次加购时惰性创建购物车
		if _, err := tx.GetOrCreateCart(ctx, cartID); err != nil {
			return err
		}
		if err := tx.UpsertReservation(ctx, cartID, productID, newQty); err != nil {
			return err
		}
		if err := tx.TouchCart(ctx, cartID); err != nil {
			return err
		}

		evt = s.newStockEvent(eventType, productID, cartID, reserved-existingQty+newQty, product.TotalStock)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add to cart failed")
		return err
	}

	s.publishEvent(ctx, evt)
	return nil
}

// UpdateCartItem 把 (cart, product) 的预约量设置为 newQuantity。
// newQuantity <= 0 是移除转移：删除记录，目标不存在时也算成功。
func (s *Service) UpdateCartItem(ctx context.Context, cartID string, productID int64, newQuantity int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.UpdateCartItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.id", cartID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", newQuantity),
	)

	if newQuantity <= 0 {
		return s.removeReservation(ctx, cartID, productID, true)
	}

	var evt *domain.StockEvent
	err := s.store.SerializeProduct(ctx, productID, func(ctx context.Context, tx domain.TxStore) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		reserved, err := tx.SumReservedQuantity(ctx, productID)
		if err != nil {
			return err
		}
		existing, err := tx.FindReservation(ctx, cartID, productID)
		if err != nil {
			return err
		}

		existingQty := 0
		eventType := domain.StockEventAdded
		if existing != nil {
			existingQty = existing.Quantity
			eventType = domain.StockEventUpdated
		}

		if err := s.checkPolicy(ctx, tx, cartID, newQuantity, product.Price); err != nil {
			return err
		}

		// 把自己已有的认领加回来，避免被自己先前的预约"挤掉"
		available := domain.AvailableStock(product.TotalStock, reserved)
		capacity := available + existingQty
		if newQuantity > capacity {
			return &domain.InsufficientStockError{Available: capacity, Requested: newQuantity}
		}

		if _, err := tx.GetOrCreateCart(ctx, cartID); err != nil {
			return err
		}
		if err := tx.UpsertReservation(ctx, cartID, productID, newQuantity); err != nil {
			return err
		}
		if err := tx.TouchCart(ctx, cartID); err != nil {
			return err
		}

		evt = s.newStockEvent(eventType, productID, cartID, reserved-existingQty+newQuantity, product.TotalStock)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update cart item failed")
		return err
	}

	s.publishEvent(ctx, evt)
	return nil
}

// RemoveFromCart 删除 (cart, product) 的预约。
// 预约不存在时返回 ErrReservationNotFound；删除本身无条件执行，
// 永远不会因为库存检查被拒绝——移除只会降低需求。
func (s *Service) RemoveFromCart(ctx context.Context, cartID string, productID int64) error {
	ctx, span := s.tracer.Start(ctx, "inventory.RemoveFromCart")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.id", cartID),
		attribute.Int64("product.id", productID),
	)

	if err := s.removeReservation(ctx, cartID, productID, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove from cart failed")
		return err
	}
	return nil
}

// removeReservation 是两条移除路径的公共实现。
// idempotent 为 true 时（SetQuantity 到 0），目标不存在也算成功。
// 查-删序列同样走 SerializeProduct：否则两个并发删除会都观察到记录、
// 都报成功，或者一次已提交的删除被并发合并加购读到的旧数量"复活"。
func (s *Service) removeReservation(ctx context.Context, cartID string, productID int64, idempotent bool) error {
	err := s.store.SerializeProduct(ctx, productID, func(ctx context.Context, tx domain.TxStore) error {
		existing, err := tx.FindReservation(ctx, cartID, productID)
		if err != nil {
			return err
		}
		if existing == nil {
			if idempotent {
				return nil
			}
			return domain.ErrReservationNotFound
		}
		if err := tx.DeleteReservation(ctx, cartID, productID); err != nil {
			return err
		}
		return tx.TouchCart(ctx, cartID)
	})
	if err != nil {
		// 商品本身不存在时预约必然不存在，对外等价于预约缺失
		if errors.Is(err, domain.ErrProductNotFound) {
			if idempotent {
				return nil
			}
			return domain.ErrReservationNotFound
		}
		return err
	}

	s.publishEvent(ctx, s.snapshotEvent(ctx, domain.StockEventRemoved, productID, cartID))
	return nil
}

// GetCart 返回购物车快照。从未创建过的购物车返回一个空视图，
// 而不是错误——观察上与空购物车等价。
func (s *Service) GetCart(ctx context.Context, cartID string) (*CartView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.GetCart")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID))

	view := &CartView{ID: cartID, Items: []CartItemView{}}

	cart, err := s.store.FindCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return view, nil
	}

	reservations, err := s.store.ListReservations(ctx, cartID)
	if err != nil {
		return nil, err
	}
	for _, r := range reservations {
		product, err := s.store.GetProduct(ctx, r.ProductID)
		if err != nil {
			return nil, err
		}
		reserved, err := s.store.SumReservedQuantity(ctx, r.ProductID)
		if err != nil {
			return nil, err
		}
		view.Items = append(view.Items, CartItemView{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			Product:   toProductView(product, domain.AvailableStock(product.TotalStock, reserved)),
		})
		view.TotalItems += r.Quantity
		view.TotalPrice += float64(r.Quantity) * product.Price
	}
	return view, nil
}

// ClearCart 删除购物车并级联删除它的全部预约，购物车不存在时也返回成功。
func (s *Service) ClearCart(ctx context.Context, cartID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ClearCart")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID))

	// 先记下受影响的商品，删除后对每个商品广播一次快照
	reservations, err := s.store.ListReservations(ctx, cartID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteCartWithReservations(ctx, cartID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear cart failed")
		return err
	}

	for _, r := range reservations {
		s.publishEvent(ctx, s.snapshotEvent(ctx, domain.StockEventCartCleared, r.ProductID, cartID))
	}
	return nil
}

func (s *Service) checkPolicy(ctx context.Context, tx domain.TxStore, cartID string, quantity int, unitPrice float64) error {
	if s.policy == nil {
		return nil
	}
	lines, err := tx.CountCartLines(ctx, cartID)
	if err != nil {
		return err
	}
	return s.policy.Evaluate(ctx, domain.PolicyFact{
		Quantity:  quantity,
		CartLines: lines,
		UnitPrice: unitPrice,
	})
}

func (s *Service) newStockEvent(t domain.StockEventType, productID int64, cartID string, reservedAfter, totalStock int) *domain.StockEvent {
	return &domain.StockEvent{
		EventID:    uuid.New().String(),
		Type:       t,
		ProductID:  productID,
		CartID:     cartID,
		Reserved:   reservedAfter,
		Available:  domain.AvailableStock(totalStock, reservedAfter),
		OccurredAt: time.Now(),
	}
}

// snapshotEvent 在提交之后重读当前状态构造事件。
// 读不到就放弃这条事件——事件流是尽力而为的，绝不反过来影响主流程。
func (s *Service) snapshotEvent(ctx context.Context, t domain.StockEventType, productID int64, cartID string) *domain.StockEvent {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil
	}
	reserved, err := s.store.SumReservedQuantity(ctx, productID)
	if err != nil {
		return nil
	}
	return s.newStockEvent(t, productID, cartID, reserved, product.TotalStock)
}

func (s *Service) publishEvent(ctx context.Context, evt *domain.StockEvent) {
	if s.publisher == nil || evt == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", evt.EventID).
			Int64("product_id", evt.ProductID).
			Msg("failed to publish stock event")
	}
}

func toProductView(p *domain.Product, available int) ProductView {
	return ProductView{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price,
		Stock:          p.TotalStock,
		AvailableStock: available,
	}
}
