package application_test

import (
	"context"
	"sync"
	"time"

	"stockpile/internal/service/inventory/domain"
)

// memStore 是 domain.Store + domain.ProductRepository 的内存实现。
// SerializeProduct 用每商品一把互斥锁来模拟同商品串行化，
// 让并发超卖测试跑在与生产等价的隔离语义上。
type memStore struct {
	mu            sync.Mutex
	products      map[int64]domain.Product
	reservations  []*domain.Reservation
	carts         map[string]*domain.Cart
	nextProductID int64
	nextResID     int64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	// onFindReservation 在每次 FindReservation 前调用，
	// 测试用它放大查-改之间的竞态窗口
	onFindReservation func(cartID string, productID int64)
}

var (
	_ domain.Store             = (*memStore)(nil)
	_ domain.ProductRepository = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]domain.Product),
		carts:    make(map[string]*domain.Cart),
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (s *memStore) productLock(productID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[productID] == nil {
		s.locks[productID] = &sync.Mutex{}
	}
	return s.locks[productID]
}

func (s *memStore) SerializeProduct(ctx context.Context, productID int64, fn func(ctx context.Context, tx domain.TxStore) error) error {
	lock := s.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	// 与行锁实现一致：商品行必须存在才谈得上锁它
	s.mu.Lock()
	_, ok := s.products[productID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrProductNotFound
	}
	return fn(ctx, s)
}

func (s *memStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) SumReservedQuantity(_ context.Context, productID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.reservations {
		if r.ProductID == productID {
			total += r.Quantity
		}
	}
	return total, nil
}

func (s *memStore) FindReservation(_ context.Context, cartID string, productID int64) (*domain.Reservation, error) {
	if s.onFindReservation != nil {
		s.onFindReservation(cartID, productID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.CartID == cartID && r.ProductID == productID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpsertReservation(_ context.Context, cartID string, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.CartID == cartID && r.ProductID == productID {
			r.Quantity = quantity
			return nil
		}
	}
	s.nextResID++
	s.reservations = append(s.reservations, &domain.Reservation{
		ID:        s.nextResID,
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *memStore) DeleteReservation(_ context.Context, cartID string, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.reservations {
		if r.CartID == cartID && r.ProductID == productID {
			s.reservations = append(s.reservations[:i], s.reservations[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) GetOrCreateCart(_ context.Context, cartID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[cartID]; ok {
		cp := *c
		return &cp, nil
	}
	now := time.Now()
	c := &domain.Cart{ID: cartID, CreatedAt: now, UpdatedAt: now}
	s.carts[cartID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) TouchCart(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[cartID]; ok {
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memStore) CountCartLines(_ context.Context, cartID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.reservations {
		if r.CartID == cartID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListReservations(_ context.Context, cartID string) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*domain.Reservation
	for _, r := range s.reservations {
		if r.CartID == cartID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *memStore) FindCart(_ context.Context, cartID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[cartID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) DeleteCartWithReservations(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*domain.Reservation
	for _, r := range s.reservations {
		if r.CartID != cartID {
			kept = append(kept, r)
		}
	}
	s.reservations = kept
	delete(s.carts, cartID)
	return nil
}

// --- domain.ProductRepository ---

func (s *memStore) CreateProduct(_ context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p.ID = s.nextProductID
	s.products[p.ID] = *p
	return nil
}

func (s *memStore) ListProducts(_ context.Context) ([]*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*domain.Product, 0, len(s.products))
	for id := int64(1); id <= s.nextProductID; id++ {
		if p, ok := s.products[id]; ok {
			cp := p
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *memStore) UpdateProduct(_ context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.TotalStock != nil {
		p.TotalStock = *patch.TotalStock
	}
	s.products[id] = p
	cp := p
	return &cp, nil
}

func (s *memStore) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	for _, r := range s.reservations {
		if r.ProductID == id {
			return domain.ErrProductReserved
		}
	}
	delete(s.products, id)
	return nil
}

// memPublisher 记录所有发布的事件
type memPublisher struct {
	mu     sync.Mutex
	events []*domain.StockEvent
}

func (p *memPublisher) Publish(_ context.Context, event *domain.StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *memPublisher) Events() []*domain.StockEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.StockEvent(nil), p.events...)
}
