// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockpile/internal/service/inventory/domain"
)

// 同商品串行化策略
const (
	LockModeRowLock    = "rowlock"    // SELECT ... FOR UPDATE 锁商品行
	LockModeOptimistic = "optimistic" // lock_version 乐观重试
	LockModeRedis      = "redis"      // 外部 Redis 互斥锁
	LockModeZookeeper  = "zookeeper"  // 外部 ZooKeeper 互斥锁
)

// errOptimisticConflict 是乐观提交失败的内部信号，只用于触发重试
var errOptimisticConflict = errors.New("optimistic lock conflict")

// GormInventoryRepository 同时实现 domain.Store 和 domain.ProductRepository：
// 库存台账、预约记录和购物车都在同一个 MySQL 里，属于同一个一致性域。
type GormInventoryRepository struct {
	db         *gorm.DB
	lockMode   string
	maxRetries int
	locker     domain.ProductLocker
}

var (
	_ domain.Store             = (*GormInventoryRepository)(nil)
	_ domain.ProductRepository = (*GormInventoryRepository)(nil)
)

type Option func(*GormInventoryRepository)

// WithLockMode 选择同商品串行化策略，默认行锁
func WithLockMode(mode string) Option {
	return func(r *GormInventoryRepository) { r.lockMode = mode }
}

// WithMaxRetries 设置乐观策略的重试上限
func WithMaxRetries(n int) Option {
	return func(r *GormInventoryRepository) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithProductLocker 注入外部互斥锁，redis / zookeeper 模式必需
func WithProductLocker(locker domain.ProductLocker) Option {
	return func(r *GormInventoryRepository) { r.locker = locker }
}

// NewGormInventoryRepository 创建仓储实例
func NewGormInventoryRepository(db *gorm.DB, opts ...Option) *GormInventoryRepository {
	r := &GormInventoryRepository{
		db:         db,
		lockMode:   LockModeRowLock,
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SerializeProduct 按配置的策略执行 fn，保证同商品的
// 读-检查-写序列不会与另一个事务的同序列交错。
func (r *GormInventoryRepository) SerializeProduct(ctx context.Context, productID int64, fn func(ctx context.Context, tx domain.TxStore) error) error {
	switch r.lockMode {
	case LockModeOptimistic:
		return r.serializeOptimistic(ctx, productID, fn)
	case LockModeRedis, LockModeZookeeper:
		return r.serializeWithLocker(ctx, productID, fn)
	default:
		return r.serializeRowLock(ctx, productID, fn)
	}
}

// serializeRowLock 在事务开头用 FOR UPDATE 锁住商品行，
// 同商品的并发事务在这里排队，不同商品互不影响。
func (r *GormInventoryRepository) serializeRowLock(ctx context.Context, productID int64, fn func(ctx context.Context, tx domain.TxStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ProductModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, productID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrProductNotFound
			}
			return err
		}
		return fn(ctx, &txStore{db: tx})
	})
}

// serializeOptimistic 不加锁地执行检查，提交时用带守卫的
// lock_version 自增确认期间没有别的事务动过这个商品；
// 守卫失败就整体回滚重来，重试耗尽时向上返回瞬时错误。
func (r *GormInventoryRepository) serializeOptimistic(ctx context.Context, productID int64, fn func(ctx context.Context, tx domain.TxStore) error) error {
	return retryOptimistic(r.maxRetries, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var model ProductModel
			if err := tx.First(&model, productID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrProductNotFound
				}
				return err
			}
			if err := fn(ctx, &txStore{db: tx}); err != nil {
				return err
			}
			res := tx.Model(&ProductModel{}).
				Where("id = ? AND lock_version = ?", productID, model.LockVersion).
				Update("lock_version", model.LockVersion+1)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errOptimisticConflict
			}
			return nil
		})
	})
}

// retryOptimistic 重复执行 attempt，直到提交成功或遇到冲突以外的错误。
// 每次冲突后线性递增退避，错开冲突双方的下一次尝试；
// maxRetries 次尝试全部冲突时返回 ErrConflictRetryExhausted。
func retryOptimistic(maxRetries int, attempt func() error) error {
	for i := 0; i < maxRetries; i++ {
		err := attempt()
		if !errors.Is(err, errOptimisticConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * time.Millisecond)
	}
	return domain.ErrConflictRetryExhausted
}

// serializeWithLocker 把串行化交给外部互斥锁，事务本身不再加行锁。
func (r *GormInventoryRepository) serializeWithLocker(ctx context.Context, productID int64, fn func(ctx context.Context, tx domain.TxStore) error) error {
	if r.locker == nil {
		return errors.Errorf("lock mode %q requires a product locker", r.lockMode)
	}
	release, err := r.locker.Acquire(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "failed to acquire product lock")
	}
	defer release()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &txStore{db: tx})
	})
}

// --- 串行化区间之外的直接读写，委托给同一套 txStore 实现 ---

func (r *GormInventoryRepository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return (&txStore{db: r.db}).GetProduct(ctx, id)
}

func (r *GormInventoryRepository) SumReservedQuantity(ctx context.Context, productID int64) (int, error) {
	return (&txStore{db: r.db}).SumReservedQuantity(ctx, productID)
}

func (r *GormInventoryRepository) FindReservation(ctx context.Context, cartID string, productID int64) (*domain.Reservation, error) {
	return (&txStore{db: r.db}).FindReservation(ctx, cartID, productID)
}

func (r *GormInventoryRepository) UpsertReservation(ctx context.Context, cartID string, productID int64, quantity int) error {
	return (&txStore{db: r.db}).UpsertReservation(ctx, cartID, productID, quantity)
}

func (r *GormInventoryRepository) DeleteReservation(ctx context.Context, cartID string, productID int64) error {
	return (&txStore{db: r.db}).DeleteReservation(ctx, cartID, productID)
}

func (r *GormInventoryRepository) GetOrCreateCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	return (&txStore{db: r.db}).GetOrCreateCart(ctx, cartID)
}

func (r *GormInventoryRepository) TouchCart(ctx context.Context, cartID string) error {
	return (&txStore{db: r.db}).TouchCart(ctx, cartID)
}

func (r *GormInventoryRepository) CountCartLines(ctx context.Context, cartID string) (int, error) {
	return (&txStore{db: r.db}).CountCartLines(ctx, cartID)
}

// ListReservations 按创建顺序（自增主键序）返回购物车的预约
func (r *GormInventoryRepository) ListReservations(ctx context.Context, cartID string) ([]*domain.Reservation, error) {
	var models []*CartItemModel
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	reservations := make([]*domain.Reservation, len(models))
	for i, m := range models {
		reservations[i] = toDomainReservation(m)
	}
	return reservations, nil
}

func (r *GormInventoryRepository) FindCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var model CartModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", cartID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomainCart(&model), nil
}

// DeleteCartWithReservations 显式级联：先删条目再删购物车，同一个事务。
func (r *GormInventoryRepository) DeleteCartWithReservations(ctx context.Context, cartID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cart_id = ?", cartID).Delete(&CartItemModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", cartID).Delete(&CartModel{}).Error
	})
}

// --- domain.ProductRepository ---

func (r *GormInventoryRepository) CreateProduct(ctx context.Context, p *domain.Product) error {
	model := ProductModel{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.TotalStock,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	p.ID = model.ID
	return nil
}

func (r *GormInventoryRepository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	var models []*ProductModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	products := make([]*domain.Product, len(models))
	for i, m := range models {
		products[i] = toDomainProduct(m)
	}
	return products, nil
}

// UpdateProduct 只更新 patch 中给出的字段
func (r *GormInventoryRepository) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, error) {
	var updated *domain.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ProductModel
		if err := tx.First(&model, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrProductNotFound
			}
			return err
		}

		updates := map[string]interface{}{}
		if patch.Name != nil {
			updates["name"] = *patch.Name
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
		}
		if patch.Price != nil {
			updates["price"] = *patch.Price
		}
		if patch.TotalStock != nil {
			updates["stock"] = *patch.TotalStock
		}
		if len(updates) > 0 {
			if err := tx.Model(&model).Updates(updates).Error; err != nil {
				return err
			}
		}
		updated = toDomainProduct(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProduct 删除商品；仍被预约引用时拒绝，避免产生悬挂预约。
func (r *GormInventoryRepository) DeleteProduct(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&CartItemModel{}).Where("product_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrProductReserved
		}
		res := tx.Delete(&ProductModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrProductNotFound
		}
		return nil
	})
}

// txStore 是 domain.TxStore 的 GORM 实现。
// db 既可以是事务句柄也可以是普通连接，两种场景共用同一套查询。
type txStore struct {
	db *gorm.DB
}

func (s *txStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var model ProductModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return toDomainProduct(&model), nil
}

func (s *txStore) SumReservedQuantity(ctx context.Context, productID int64) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&CartItemModel{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func (s *txStore) FindReservation(ctx context.Context, cartID string, productID int64) (*domain.Reservation, error) {
	var model CartItemModel
	err := s.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomainReservation(&model), nil
}

// UpsertReservation 依赖 (cart_id, product_id) 唯一索引做 upsert，
// 冲突时覆盖数量而不是追加第二条记录。
func (s *txStore) UpsertReservation(ctx context.Context, cartID string, productID int64, quantity int) error {
	item := CartItemModel{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   quantity,
			"updated_at": time.Now(),
		}),
	}).Create(&item).Error
}

func (s *txStore) DeleteReservation(ctx context.Context, cartID string, productID int64) error {
	return s.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&CartItemModel{}).Error
}

func (s *txStore) GetOrCreateCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var model CartModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", cartID).Error
	if err == nil {
		return toDomainCart(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 并发创建同一个购物车时靠 DoNothing 容忍主键冲突
	model = CartModel{ID: cartID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&model, "id = ?", cartID).Error; err != nil {
		return nil, err
	}
	return toDomainCart(&model), nil
}

func (s *txStore) TouchCart(ctx context.Context, cartID string) error {
	return s.db.WithContext(ctx).Model(&CartModel{}).
		Where("id = ?", cartID).
		Update("updated_at", time.Now()).Error
}

func (s *txStore) CountCartLines(ctx context.Context, cartID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&CartItemModel{}).
		Where("cart_id = ?", cartID).
		Count(&count).Error
	return int(count), err
}
